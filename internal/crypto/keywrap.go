package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// The master key never touches disk raw: the key store wraps it with
// XChaCha20-Poly1305 under a KEK derived from the operator passphrase.

type KEKParams struct {
	M    uint32 `json:"m"`
	T    uint32 `json:"t"`
	P    uint8  `json:"p"`
	Salt []byte `json:"salt"`
}

func DefaultKEKParams() KEKParams {
	salt := make([]byte, 32)
	_, _ = rand.Read(salt)
	return KEKParams{M: 64 * 1024, T: 3, P: 4, Salt: salt}
}

func DeriveKEK(passphrase []byte, p KEKParams) (kek [32]byte) {
	key := argon2.IDKey(passphrase, p.Salt, p.T, p.M, p.P, 32)
	copy(kek[:], key)
	Zero(key)
	return
}

// WrapKey seals key material under the KEK. Layout: nonce || ciphertext.
func WrapKey(kek, material, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(material)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out[:len(nonce)], nonce, material, aad)
	return out, nil
}

func UnwrapKey(kek, wrapped, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(kek)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < xchacha.NonceSizeX {
		return nil, errors.New("crypto: wrapped key too short")
	}
	nonce := wrapped[:xchacha.NonceSizeX]
	ct := wrapped[xchacha.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}
