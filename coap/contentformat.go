package coap

// ContentFormat is the CoAP Content-Format option value. LWM2M JSON is
// recognised only so it can be rejected explicitly; it is not a supported
// payload format.
type ContentFormat uint16

const (
	ContentFormatText   ContentFormat = 1541
	ContentFormatTLV    ContentFormat = 1542
	ContentFormatJSON   ContentFormat = 1543
	ContentFormatOpaque ContentFormat = 1544
)

func (f ContentFormat) String() string {
	switch f {
	case ContentFormatText:
		return "text/plain"
	case ContentFormatTLV:
		return "application/vnd.oma.lwm2m+tlv"
	case ContentFormatJSON:
		return "application/vnd.oma.lwm2m+json"
	case ContentFormatOpaque:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

// Supported reports whether f is a content format this engine can decode.
// LWM2M JSON/SenML is deliberately not supported.
func (f ContentFormat) Supported() bool {
	return f == ContentFormatText || f == ContentFormatTLV || f == ContentFormatOpaque
}
