// Command lwm2mctl is a small offline debugging tool for the OMA TLV wire
// format: it decodes a TLV payload and renders it as JSON or CBOR without
// round-tripping it through any higher-level schema.
package main

import (
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	cbor "github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/lwm2m-go/engine/tlv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	input   = flag.String("in", "-", "Path to a file containing the TLV payload, or - for stdin")
	encoded = flag.String("encoding", "hex", "Encoding of the input payload: hex or base64")
	format  = flag.String("format", "json", "Output rendering: json or cbor (cbor is hex-dumped to stdout)")
)

func main() {
	flag.Parse()

	raw, err := readInput(*input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lwm2mctl:", err)
		os.Exit(1)
	}

	body, err := decodeInput(raw, *encoded)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lwm2mctl:", err)
		os.Exit(1)
	}

	records, err := tlv.Decode(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lwm2mctl: decoding TLV:", err)
		os.Exit(1)
	}
	snaps := tlv.Snapshots(records)

	out, err := render(snaps, *format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lwm2mctl:", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
	fmt.Println()
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func decodeInput(raw []byte, encoding string) ([]byte, error) {
	trimmed := trimSpace(raw)
	switch encoding {
	case "hex":
		body := make([]byte, hex.DecodedLen(len(trimmed)))
		n, err := hex.Decode(body, trimmed)
		if err != nil {
			return nil, fmt.Errorf("hex-decoding input: %w", err)
		}
		return body[:n], nil
	case "base64":
		body, err := base64.StdEncoding.DecodeString(string(trimmed))
		if err != nil {
			return nil, fmt.Errorf("base64-decoding input: %w", err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unknown -encoding %q, want hex or base64", encoding)
	}
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

// render converts the decoded snapshot tree to the requested output
// format: one canonical in-memory shape (tlv.Snapshot), two renderings.
func render(snaps []tlv.Snapshot, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(snaps, "", "  ")
	case "cbor":
		enc, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return nil, fmt.Errorf("building canonical CBOR encoder: %w", err)
		}
		body, err := enc.Marshal(snaps)
		if err != nil {
			return nil, fmt.Errorf("marshalling CBOR: %w", err)
		}
		return []byte(hex.EncodeToString(body)), nil
	default:
		return nil, fmt.Errorf("unknown -format %q, want json or cbor", format)
	}
}
