// Package config loads and rewrites the Bootstrap Server's local
// provisioning file: the known_clients allowlist and the security material
// to offer each client, using gjson/sjson field access to patch the JSON
// in place rather than round-tripping it through a typed struct.
package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lwm2m-go/engine/coap"
)

// BootstrapConfig is the parsed form of a provisioning file:
//
//	{
//	  "known_clients": ["cli1", "cli2"],
//	  "security": [
//	    {"kind": "nosec"},
//	    {"kind": "psk", "identity": "<base64>", "key": "<base64>"}
//	  ]
//	}
type BootstrapConfig struct {
	KnownClients []string
	Security     []coap.SecurityMode
}

// Load reads and parses a BootstrapConfig from path.
func Load(path string) (*BootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse reads a BootstrapConfig out of raw JSON via gjson, rather than
// unmarshalling into a struct.
func Parse(data []byte) (*BootstrapConfig, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("config: %w: invalid JSON", coap.ErrMalformedPayload)
	}
	cfg := &BootstrapConfig{}
	for _, ep := range gjson.GetBytes(data, "known_clients").Array() {
		cfg.KnownClients = append(cfg.KnownClients, ep.String())
	}
	for _, mode := range gjson.GetBytes(data, "security").Array() {
		m, err := parseSecurityMode(mode)
		if err != nil {
			return nil, err
		}
		cfg.Security = append(cfg.Security, m)
	}
	return cfg, nil
}

func parseSecurityMode(mode gjson.Result) (coap.SecurityMode, error) {
	switch kind := mode.Get("kind").String(); kind {
	case "nosec":
		return coap.SecurityMode{Kind: coap.SecurityModeNoSec}, nil
	case "psk":
		identity, err := decodeField(mode, "identity")
		if err != nil {
			return coap.SecurityMode{}, err
		}
		key, err := decodeField(mode, "key")
		if err != nil {
			return coap.SecurityMode{}, err
		}
		return coap.SecurityMode{Kind: coap.SecurityModePSK, Identity: identity, Key: key}, nil
	case "rpk":
		priv, err := decodeField(mode, "private_key")
		if err != nil {
			return coap.SecurityMode{}, err
		}
		pub, err := decodeField(mode, "public_key")
		if err != nil {
			return coap.SecurityMode{}, err
		}
		return coap.SecurityMode{Kind: coap.SecurityModeRPK, PrivateKey: priv, PublicKey: pub}, nil
	default:
		return coap.SecurityMode{}, fmt.Errorf("config: %w: unknown security kind %q", coap.ErrSecurityMisconfigured, kind)
	}
}

func decodeField(mode gjson.Result, field string) ([]byte, error) {
	raw := mode.Get(field).String()
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %w: %s is not valid base64: %s", coap.ErrMalformedPayload, field, err)
	}
	return b, nil
}

// AddKnownClient appends ep to path's known_clients array in place. It uses
// sjson's append-index form ("known_clients.-1") so the rest of the file is
// rewritten untouched.
func AddKnownClient(path, ep string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	updated, err := sjson.SetBytes(data, "known_clients.-1", ep)
	if err != nil {
		return fmt.Errorf("config: adding known client %s: %w", ep, err)
	}
	return os.WriteFile(path, updated, 0o644)
}
