package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is an issued token pair: the bearer token plus the anti-forgery
// token embedded in its claims.
type Session struct {
	Token     string
	CSRF      string
	ExpiresAt time.Time
}

type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	iss  string
	ttl  time.Duration
}

func NewSigner(priv ed25519.PrivateKey, iss string, ttl time.Duration) *Signer {
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey), iss: iss, ttl: ttl}
}

func GenerateEd25519() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, pub, err
}

// IssueSession mints a session token with a fresh CSRF token bound to it.
func (s *Signer) IssueSession(sub string, caps []Capability) (Session, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	csrf := randomToken()

	claims := jwt.MapClaims{
		"iss":  s.iss,
		"sub":  sub,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
		"jti":  randomToken(),
		"caps": caps,
		"csrf": csrf,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(s.priv)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: signed, CSRF: csrf, ExpiresAt: exp}, nil
}

func (s *Signer) ParseAndValidate(tokenStr string) (*Claims, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, errors.New("unexpected signing method")
		}
		return s.pub, nil
	}

	tok, err := jwt.ParseWithClaims(tokenStr, jwt.MapClaims{}, keyFunc, jwt.WithIssuer(s.iss))
	if err != nil || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	raw := tok.Claims.(jwt.MapClaims)

	getString := func(k string) string {
		if v, ok := raw[k].(string); ok {
			return v
		}
		return ""
	}
	getInt64 := func(k string) int64 {
		switch v := raw[k].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		default:
			return 0
		}
	}
	var caps []Capability
	if arr, ok := raw["caps"].([]any); ok {
		for _, a := range arr {
			if s, ok := a.(string); ok {
				caps = append(caps, Capability(s))
			}
		}
	}

	return &Claims{
		Sub:          getString("sub"),
		Capabilities: caps,
		CSRF:         getString("csrf"),
		TokenID:      getString("jti"),
		IssuedAt:     getInt64("iat"),
		ExpiresAt:    getInt64("exp"),
	}, nil
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
