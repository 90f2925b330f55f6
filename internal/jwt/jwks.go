package jwt

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"
)

// JWKS returns the public verification key as a JSON Web Key Set.
func (s *Signer) JWKS() gojose.JSONWebKeySet {
	jwk := gojose.JSONWebKey{
		KeyID:     s.keyID,
		Use:       "sig",
		Algorithm: string(gojose.RS256),
		Key:       s.publicKey,
	}
	return gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk.Public()}}
}

// PublicPEM renders the verification key in PKIX PEM form.
func (s *Signer) PublicPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(s.publicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
