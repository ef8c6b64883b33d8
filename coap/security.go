package coap

import (
	"fmt"

	piondtls "github.com/pion/dtls/v2"
)

// SecurityModeKind enumerates the LWM2M security modes this engine accepts
// as configuration surface for the transport. Certificate mode is
// deliberately absent: it is unimplemented and must be rejected with
// ErrSecurityMisconfigured ("Unknown security mode").
type SecurityModeKind int

const (
	SecurityModePSK SecurityModeKind = iota
	SecurityModeRPK
	SecurityModeNoSec
)

// SecurityMode is a single security-mode configuration variant. A typed
// list of these stands in for a variadic constructor: each variant carries
// its own parameters as struct fields, so matching can be exhaustive.
type SecurityMode struct {
	Kind SecurityModeKind

	// PSK fields, used when Kind == SecurityModePSK.
	Identity []byte
	Key      []byte

	// RPK fields, used when Kind == SecurityModeRPK.
	PrivateKey []byte
	PublicKey  []byte
}

// BuildDTLSConfig turns a non-empty list of SecurityMode variants into a
// pion/dtls Config: PSK_AES128_CCM8 for PSK mode, ECDHE_ECDSA_AES128_CCM8
// for RPK mode.
// An empty list, a repeated mode, or any SecurityModeKind outside this set
// is ErrSecurityMisconfigured.
func BuildDTLSConfig(modes []SecurityMode) (*piondtls.Config, error) {
	if len(modes) == 0 {
		return nil, fmt.Errorf("%w: at least one security mode is required", ErrSecurityMisconfigured)
	}
	seen := make(map[SecurityModeKind]bool, len(modes))
	cfg := &piondtls.Config{}
	for _, m := range modes {
		if seen[m.Kind] {
			return nil, fmt.Errorf("%w: repeated security mode %v", ErrSecurityMisconfigured, m.Kind)
		}
		seen[m.Kind] = true
		switch m.Kind {
		case SecurityModePSK:
			identity, key := m.Identity, m.Key
			cfg.PSK = func(hint []byte) ([]byte, error) { return key, nil }
			cfg.PSKIdentityHint = identity
			cfg.CipherSuites = append(cfg.CipherSuites, piondtls.TLS_PSK_WITH_AES_128_CCM_8)
		case SecurityModeRPK:
			cert, err := rawPublicKeyCertificate(m.PrivateKey, m.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("%w: raw public key material: %s", ErrSecurityMisconfigured, err)
			}
			cfg.Certificates = append(cfg.Certificates, cert)
			cfg.CipherSuites = append(cfg.CipherSuites, piondtls.TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8)
		case SecurityModeNoSec:
			// NoSec carries no DTLS configuration; the caller should use a
			// plain UDP transport for this peer instead of DTLS at all.
		default:
			return nil, fmt.Errorf("%w: unknown security mode", ErrSecurityMisconfigured)
		}
	}
	return cfg, nil
}
