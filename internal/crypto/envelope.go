package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	envelopeIVSize  = 12 // AES-GCM standard nonce
	envelopeTagSize = 16
	envelopeMinSize = envelopeIVSize + envelopeTagSize
)

var (
	ErrDecrypt = errors.New("crypto: decryption failed")
	ErrNoKey   = errors.New("crypto: no master key available")
)

// KeyProvider hands the codec the active master key. Injected so tests can
// run against a fixed key and the key store stays mockable.
type KeyProvider interface {
	ActiveKey() ([]byte, error)
}

// Codec seals field values with AES-256-GCM and serializes them as
// base64(iv || tag || ciphertext). Empty strings and values that are not
// structurally envelopes pass through untouched, so legacy plaintext slots
// keep working.
type Codec struct {
	keys KeyProvider
}

func NewCodec(keys KeyProvider) *Codec {
	return &Codec{keys: keys}
}

// Encrypt seals plaintext under the active master key with a fresh random
// nonce per call. Two calls on identical input yield distinct envelopes.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	key, err := c.keys.ActiveKey()
	if err != nil {
		return "", fmt.Errorf("crypto: fetch key: %w", err)
	}
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, envelopeIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - envelopeTagSize

	out := make([]byte, 0, envelopeIVSize+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed[tagStart:]...)
	out = append(out, sealed[:tagStart]...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an envelope produced by Encrypt. Values that do not parse
// as envelopes are returned unchanged; a structurally valid envelope that
// fails authentication returns ErrDecrypt, never altered plaintext.
func (c *Codec) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	raw, ok := decodeEnvelope(value)
	if !ok {
		return value, nil
	}

	key, err := c.keys.ActiveKey()
	if err != nil {
		return "", fmt.Errorf("crypto: fetch key: %w", err)
	}
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := raw[:envelopeIVSize]
	tag := raw[envelopeIVSize:envelopeMinSize]
	ct := raw[envelopeMinSize:]

	sealed := make([]byte, 0, len(ct)+envelopeTagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	pt, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(pt), nil
}

// IsEncryptedValue reports whether value is structurally an envelope. No
// decryption is attempted; used to avoid double-encrypting on re-save.
func (c *Codec) IsEncryptedValue(value string) bool {
	_, ok := decodeEnvelope(value)
	return ok
}

func decodeEnvelope(value string) ([]byte, bool) {
	raw, err := base64.StdEncoding.Strict().DecodeString(value)
	if err != nil || len(raw) < envelopeMinSize {
		return nil, false
	}
	return raw, true
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
