package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("redirect secret is not configured")
)

const (
	nonceSize = 8
	sigSize   = 16
)

// TokenSigner issues short-lived HMAC tokens that bind an interstitial
// continue link to one short code and page.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer whose tokens stay valid for ttl.
func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{secret: secret, ttl: ttl, now: time.Now}
}

// GenerateSecret returns random key material for deployments without a configured secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate redirect secret: %w", err)
	}
	return secret, nil
}

// Issue mints a token for page of the interstitial sequence of code.
func (s *TokenSigner) Issue(code string, page int) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	// 4 bytes expiry, 2 bytes page, random nonce.
	payload := make([]byte, 6+nonceSize)
	binary.BigEndian.PutUint32(payload[:4], uint32(s.now().Add(s.ttl).Unix()))
	binary.BigEndian.PutUint16(payload[4:6], uint16(page))
	if _, err := rand.Read(payload[6:]); err != nil {
		return "", fmt.Errorf("read token nonce: %w", err)
	}

	sig := s.sign(code, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(sig[:sigSize]), nil
}

// Validate checks the signature and expiry of token and returns the page it was issued for.
func (s *TokenSigner) Validate(code, token string) (int, error) {
	if len(s.secret) == 0 {
		return 0, ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(token, ".")
	if !ok {
		return 0, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != 6+nonceSize {
		return 0, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(sig) != sigSize {
		return 0, ErrInvalidToken
	}

	expected := s.sign(code, payload)
	if !hmac.Equal(sig, expected[:sigSize]) {
		return 0, ErrInvalidToken
	}
	if s.now().Unix() > int64(binary.BigEndian.Uint32(payload[:4])) {
		return 0, ErrInvalidToken
	}
	return int(binary.BigEndian.Uint16(payload[4:6])), nil
}

func (s *TokenSigner) sign(code string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(code))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
