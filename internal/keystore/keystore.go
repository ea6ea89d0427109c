package keystore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	cr "secure-fields/internal/crypto"
)

const keyMaterialSize = 32

var ErrKeyNotFound = errors.New("keystore: master key not found")

const wrapAAD = "master-key-wrap"

// MasterKey is the single active encryption key. Prior generations are not
// retained: rotation permanently invalidates envelopes sealed under them.
type MasterKey struct {
	Material   []byte
	Generation int
	CreatedAt  time.Time
}

// Record is the persisted form. Material is wrapped with XChaCha20-Poly1305
// under a KEK derived from the operator passphrase; the raw key never hits
// the store.
type Record struct {
	Generation int          `json:"generation" bson:"generation"`
	CreatedAt  time.Time    `json:"created_at" bson:"created_at"`
	KEK        cr.KEKParams `json:"kek" bson:"kek"`
	Wrapped    []byte       `json:"wrapped" bson:"wrapped"`
}

// Store persists exactly one Record. Concurrent first-use races resolve via
// last-write-wins on the backing store.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

type Config struct {
	Passphrase []byte
	MaxKeyAge  time.Duration
	OpTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxKeyAge <= 0 {
		c.MaxKeyAge = 90 * 24 * time.Hour
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
}

// Manager owns the master key lifecycle: lazy creation, rotation, and
// handing the active key to the codec. Implements crypto.KeyProvider.
type Manager struct {
	cfg   Config
	store Store

	mu     sync.Mutex
	cached *MasterKey
}

func NewManager(store Store, cfg Config) (*Manager, error) {
	cfg.setDefaults()
	if len(cfg.Passphrase) == 0 {
		return nil, errors.New("keystore: passphrase required")
	}
	return &Manager{cfg: cfg, store: store}, nil
}

// ActiveKey returns a copy of the current key material, creating the key on
// first use. Callers own the copy and should Zero it when done.
func (m *Manager) ActiveKey() ([]byte, error) {
	key, err := m.GetOrCreate()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), key.Material...), nil
}

// GetOrCreate loads the active master key, generating and persisting one if
// none exists yet. Absence of a key is not an error.
func (m *Manager) GetOrCreate() (MasterKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached.clone(), nil
	}

	ctx, cancel := m.opCtx()
	defer cancel()

	rec, err := m.store.Load(ctx)
	switch {
	case err == nil:
		key, err := m.unwrap(rec)
		if err != nil {
			return MasterKey{}, err
		}
		m.cached = &key
		return key.clone(), nil
	case errors.Is(err, ErrKeyNotFound):
		key, err := m.createLocked(ctx, 1)
		if err != nil {
			return MasterKey{}, err
		}
		return key.clone(), nil
	default:
		return MasterKey{}, fmt.Errorf("keystore: load: %w", err)
	}
}

// Rotate replaces the master key when it is overdue per MaxKeyAge, or
// unconditionally when forced. Returns whether a rotation happened. All
// envelopes sealed under the prior generation become undecryptable.
func (m *Manager) Rotate(force bool) (bool, error) {
	current, err := m.GetOrCreate()
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && time.Since(current.CreatedAt) < m.cfg.MaxKeyAge {
		return false, nil
	}

	ctx, cancel := m.opCtx()
	defer cancel()

	if _, err := m.createLocked(ctx, current.Generation+1); err != nil {
		return false, err
	}
	cr.Zero(current.Material)
	return true, nil
}

// Report is diagnostic only; nothing branches on it.
type Report struct {
	AEADAvailable   bool      `json:"aead_available"`
	KeyPresent      bool      `json:"key_present"`
	Generation      int       `json:"generation,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	RotationOverdue bool      `json:"rotation_overdue"`
}

func (m *Manager) SecurityCheck() Report {
	rep := Report{AEADAvailable: true}

	m.mu.Lock()
	cached := m.cached
	m.mu.Unlock()

	if cached == nil {
		ctx, cancel := m.opCtx()
		defer cancel()
		rec, err := m.store.Load(ctx)
		if err != nil {
			return rep
		}
		rep.KeyPresent = true
		rep.Generation = rec.Generation
		rep.CreatedAt = rec.CreatedAt
		rep.RotationOverdue = time.Since(rec.CreatedAt) >= m.cfg.MaxKeyAge
		return rep
	}

	rep.KeyPresent = true
	rep.Generation = cached.Generation
	rep.CreatedAt = cached.CreatedAt
	rep.RotationOverdue = time.Since(cached.CreatedAt) >= m.cfg.MaxKeyAge
	return rep
}

func (m *Manager) createLocked(ctx context.Context, generation int) (MasterKey, error) {
	material := make([]byte, keyMaterialSize)
	if _, err := rand.Read(material); err != nil {
		return MasterKey{}, err
	}

	params := cr.DefaultKEKParams()
	kek := cr.DeriveKEK(m.cfg.Passphrase, params)
	wrapped, err := cr.WrapKey(kek[:], material, []byte(wrapAAD))
	zero32(&kek)
	if err != nil {
		return MasterKey{}, err
	}

	key := MasterKey{Material: material, Generation: generation, CreatedAt: time.Now().UTC()}
	rec := Record{
		Generation: key.Generation,
		CreatedAt:  key.CreatedAt,
		KEK:        params,
		Wrapped:    wrapped,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return MasterKey{}, fmt.Errorf("keystore: save: %w", err)
	}
	if m.cached != nil {
		cr.Zero(m.cached.Material)
	}
	m.cached = &key
	return key, nil
}

func (m *Manager) unwrap(rec Record) (MasterKey, error) {
	kek := cr.DeriveKEK(m.cfg.Passphrase, rec.KEK)
	defer zero32(&kek)
	material, err := cr.UnwrapKey(kek[:], rec.Wrapped, []byte(wrapAAD))
	if err != nil {
		return MasterKey{}, fmt.Errorf("keystore: unwrap master key: %w", err)
	}
	return MasterKey{Material: material, Generation: rec.Generation, CreatedAt: rec.CreatedAt}, nil
}

func (m *Manager) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.OpTimeout)
}

func (k MasterKey) clone() MasterKey {
	return MasterKey{
		Material:   append([]byte(nil), k.Material...),
		Generation: k.Generation,
		CreatedAt:  k.CreatedAt,
	}
}

func zero32(x *[32]byte) {
	for i := range x {
		x[i] = 0
	}
}
