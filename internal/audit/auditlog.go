package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names the auditable operations on secure fields. Plaintext is never
// recorded; entries carry field and actor identifiers only.
type Event string

const (
	EventReveal Event = "reveal"
	EventSave   Event = "save"
	EventRotate Event = "rotate"
	EventDenied Event = "denied"
)

type Entry struct {
	ID    string `json:"id"`
	TS    int64  `json:"ts"`
	Event Event  `json:"event"`
	Actor string `json:"actor"`
	Field string `json:"field,omitempty"`
	Hash  string `json:"hash"`
}

// Log is an append-only hash chain: each entry's hash covers the previous
// hash, so truncation or edits in the middle break verification.
type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
}

func New() *Log { return &Log{} }

func (l *Log) Append(event Event, actor, field string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		ID:    uuid.NewString(),
		TS:    time.Now().Unix(),
		Event: event,
		Actor: actor,
		Field: field,
	}
	sum := chainHash(l.lastHash, e)
	l.lastHash = sum
	e.Hash = hex.EncodeToString(sum)
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev []byte
	for i, e := range l.entries {
		sum := chainHash(prev, e)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit: chain broken at entry %d", i)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func chainHash(prev []byte, e Entry) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.TS))

	h := sha256.New()
	h.Write(prev)
	h.Write([]byte(e.ID))
	h.Write(ts[:])
	h.Write([]byte(e.Event))
	h.Write([]byte(e.Actor))
	h.Write([]byte(e.Field))
	return h.Sum(nil)
}
