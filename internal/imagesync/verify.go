package imagesync

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	VerifyNone  = "none"
	VerifyToken = "token"
	VerifyHMAC  = "hmac"
)

var ErrUnauthorized = errors.New("webhook request not authorized")

// Verifier authenticates a webhook delivery against its raw body.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

type VerifyConfig struct {
	Strategy string
	Secret   string
	Header   string
}

func NewVerifier(cfg VerifyConfig) (Verifier, error) {
	switch strings.ToLower(cfg.Strategy) {
	case "", VerifyNone:
		return noneVerifier{}, nil
	case VerifyToken:
		if cfg.Secret == "" {
			return nil, errors.New("token verification needs a secret")
		}
		return tokenVerifier{secret: []byte(cfg.Secret)}, nil
	case VerifyHMAC:
		if cfg.Secret == "" {
			return nil, errors.New("hmac verification needs a secret")
		}
		if cfg.Header == "" {
			return nil, errors.New("missing signature header name for hmac strategy")
		}
		return hmacVerifier{secret: []byte(cfg.Secret), header: cfg.Header}, nil
	default:
		return nil, fmt.Errorf("unknown verification strategy %q", cfg.Strategy)
	}
}

type noneVerifier struct{}

func (noneVerifier) Verify(*http.Request, []byte) error { return nil }

type tokenVerifier struct {
	secret []byte
}

func (v tokenVerifier) Verify(r *http.Request, _ []byte) error {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), v.secret) != 1 {
		return fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}
	return nil
}

type hmacVerifier struct {
	secret []byte
	header string
}

func (v hmacVerifier) Verify(r *http.Request, body []byte) error {
	sig := strings.TrimSpace(r.Header.Get(v.header))
	if sig == "" {
		return fmt.Errorf("%w: missing signature header", ErrUnauthorized)
	}
	sig = strings.TrimPrefix(sig, "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding", ErrUnauthorized)
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 signature the hmac strategy expects.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
