package coap

import (
	"bytes"
	"io"
)

// Logger is an interface which can be satisfied to print debug logging when
// things go wrong. It is entirely optional; a nil Logger means errors that
// don't otherwise surface as a returned error or response code are silent.
type Logger interface {
	Printf(format string, v ...interface{})
}

// byteReader adapts a byte slice to the io.ReadSeeker go-coap's message
// bodies expect, without an extra copy beyond what bytes.NewReader needs.
func byteReader(b []byte) io.ReadSeeker {
	return bytes.NewReader(b)
}
