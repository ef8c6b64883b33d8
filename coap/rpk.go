package coap

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// rawPublicKeyCertificate assembles a tls.Certificate from a caller-supplied
// DER-encoded EC private key and the matching DER-encoded SubjectPublicKeyInfo,
// for use as the Raw-Public-Key identity in a DTLS handshake.
func rawPublicKeyCertificate(privateKeyDER, publicKeyDER []byte) (tls.Certificate, error) {
	priv, err := x509.ParseECPrivateKey(privateKeyDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing EC private key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(publicKeyDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing public key: %w", err)
	}
	if _, ok := pub.(*ecdsa.PublicKey); !ok {
		return tls.Certificate{}, fmt.Errorf("public key is not ECDSA")
	}
	return tls.Certificate{
		Certificate: [][]byte{publicKeyDER},
		PrivateKey:  priv,
	}, nil
}
