package policy

import (
	"errors"
	"fmt"

	"secure-fields/internal/crypto"
)

// Context classifies a field's sensitivity and selects the access check
// applied before its value may be decrypted for a caller.
type Context string

const (
	ContextAPIKey    Context = "api_key"
	ContextSensitive Context = "sensitive"
	ContextPersonal  Context = "personal"
	ContextPublic    Context = "public"
)

var ErrUnauthorized = errors.New("policy: caller not authorized for context")

func ParseContext(s string) (Context, error) {
	switch Context(s) {
	case ContextAPIKey, ContextSensitive, ContextPersonal, ContextPublic:
		return Context(s), nil
	default:
		return "", fmt.Errorf("policy: unknown security context %q", s)
	}
}

// Access carries the caller-eligibility predicates resolved by the host
// identity layer. Both are injected so the policy stays testable without a
// real platform; a nil predicate denies.
type Access struct {
	// IsAdmin reports the host's highest administrative capability.
	IsAdmin func() bool
	// IsOwner reports whether the caller owns the data in question.
	IsOwner func() bool
}

// Allows evaluates the context rules: api_key and sensitive always require
// the administrative capability, personal requires ownership, public needs
// no check. Unknown contexts deny.
func (a Access) Allows(sc Context) bool {
	switch sc {
	case ContextPublic:
		return true
	case ContextAPIKey, ContextSensitive:
		return a.IsAdmin != nil && a.IsAdmin()
	case ContextPersonal:
		return a.IsOwner != nil && a.IsOwner()
	default:
		return false
	}
}

// DecryptForContext decrypts a stored value under a context tag. The
// caller-eligibility check for non-public contexts happens at the boundary
// that knows the caller's identity, not here.
func DecryptForContext(codec *crypto.Codec, value string, _ Context) (string, error) {
	return codec.Decrypt(value)
}

// DecryptForDisplay decrypts for an administrative screen. Non-privileged
// callers are rejected before any cryptographic work so ciphertext-validity
// timing never leaks to them.
func DecryptForDisplay(codec *crypto.Codec, value string, access Access) (string, error) {
	if access.IsAdmin == nil || !access.IsAdmin() {
		return "", ErrUnauthorized
	}
	return codec.Decrypt(value)
}
