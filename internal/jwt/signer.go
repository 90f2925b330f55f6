package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

var (
	// ErrExpired indicates a structurally valid token past its expiry. The
	// caller should ask the user to re-authenticate.
	ErrExpired = errors.New("jwt: token expired")
	// ErrInvalid indicates a malformed token, a bad signature, or claims that
	// fail issuer/audience validation.
	ErrInvalid = errors.New("jwt: token invalid")
)

// Claims are the broker-specific fields embedded next to the registered set.
type Claims struct {
	GitHubID      int64 `json:"github_id"`
	IsWhitelisted bool  `json:"is_whitelisted"`
}

// Verification is the decoded view of a verified (or expired) token.
type Verification struct {
	UserID        string
	GitHubID      int64
	IsWhitelisted bool
	JTI           string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Signer signs and verifies broker session tokens with a fixed RSA key pair.
// Keys are supplied externally and rotated out of band.
type Signer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	issuer     string
	audience   string
	expiry     time.Duration
	leeway     time.Duration
}

// Options configures a Signer.
type Options struct {
	PrivateKeyPEM  []byte
	PublicKeyPEM   []byte
	KeyID          string
	Issuer         string
	Audience       string
	Expiry         time.Duration
	ClockTolerance time.Duration
}

// NewSigner parses the PEM key material and builds a Signer.
func NewSigner(opts Options) (*Signer, error) {
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, fmt.Errorf("jwt issuer and audience must be configured")
	}
	if opts.Expiry <= 0 {
		return nil, fmt.Errorf("jwt expiry must be positive")
	}

	privateKey, err := parsePrivateKey(opts.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	publicKey, err := parsePublicKey(opts.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		keyID:      opts.KeyID,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		expiry:     opts.Expiry,
		leeway:     opts.ClockTolerance,
	}, nil
}

// SignedToken is the result of Sign.
type SignedToken struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Sign mints a session token for the user with a fresh jti.
func (s *Signer) Sign(userID string, githubID int64, whitelisted bool) (*SignedToken, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: s.privateKey},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", s.keyID),
	)
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(s.expiry)

	std := gojwt.Claims{
		Subject:  userID,
		Issuer:   s.issuer,
		Audience: gojwt.Audience{s.audience},
		ID:       jti,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(expiresAt),
	}
	custom := Claims{GitHubID: githubID, IsWhitelisted: whitelisted}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize jwt: %w", err)
	}

	return &SignedToken{Token: token, JTI: jti, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, issuer, audience, and expiry. Expired-but-valid
// tokens return the decoded claims together with ErrExpired, so callers like
// revocation can still read the jti. Everything else is ErrInvalid.
func (s *Signer) Verify(token string) (*Verification, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return nil, ErrInvalid
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(s.publicKey, &std, &custom); err != nil {
		return nil, ErrInvalid
	}

	verification := &Verification{
		UserID:        std.Subject,
		GitHubID:      custom.GitHubID,
		IsWhitelisted: custom.IsWhitelisted,
		JTI:           std.ID,
	}
	if std.IssuedAt != nil {
		verification.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		verification.ExpiresAt = std.Expiry.Time()
	}

	expected := gojwt.Expected{
		Issuer:      s.issuer,
		AnyAudience: gojwt.Audience{s.audience},
		Time:        time.Now(),
	}
	if err := std.ValidateWithLeeway(expected, s.leeway); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return verification, ErrExpired
		}
		return nil, ErrInvalid
	}
	if verification.UserID == "" || verification.JTI == "" {
		return nil, ErrInvalid
	}

	return verification, nil
}

// Expiry exposes the configured token lifetime.
func (s *Signer) Expiry() time.Duration {
	return s.expiry
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkix: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return key, nil
}
