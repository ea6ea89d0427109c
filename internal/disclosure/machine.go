package disclosure

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"secure-fields/internal/client"
	"secure-fields/internal/crypto"
)

// State is the client-observable disclosure status of one mounted field.
type State string

const (
	StateMasked    State = "masked"
	StateRevealing State = "revealing"
	StateRevealed  State = "revealed"
	StateEditing   State = "editing"
	StateSaving    State = "saving"
	StateError     State = "error"
)

// Transport is the protocol client the machine suspends on. Satisfied by
// client.Client.
type Transport interface {
	Reveal(ctx context.Context, fieldID string) (client.Reveal, error)
	Save(ctx context.Context, fieldID, value string) error
}

const defaultErrorRevert = 3 * time.Second

// Machine coordinates masked/revealed/editing UI states for a single field.
// At most one reveal or save is in flight at a time; responses arriving for
// a superseded or unmounted request are dropped by token comparison, and
// plaintext buffers are overwritten before release.
type Machine struct {
	fieldID   string
	transport Transport
	sched     Scheduler
	observer  func(State)

	errorRevert time.Duration

	// guarded by the event channel discipline: all mutation happens under
	// step(), which serializes through mu.
	mu          chan struct{}
	state       State
	plaintext   []byte
	editBuf     string
	errMsg      string
	pending     bool
	reqToken    string
	cancelTimer func()
	unmounted   bool
}

type MachineOption func(*Machine)

// WithObserver registers a callback invoked after every state change. The
// UI layer renders from it; tests synchronize on it.
func WithObserver(fn func(State)) MachineOption {
	return func(m *Machine) { m.observer = fn }
}

func WithErrorRevert(d time.Duration) MachineOption {
	return func(m *Machine) { m.errorRevert = d }
}

func NewMachine(fieldID string, transport Transport, sched Scheduler, opts ...MachineOption) *Machine {
	m := &Machine{
		fieldID:     fieldID,
		transport:   transport,
		sched:       sched,
		errorRevert: defaultErrorRevert,
		mu:          make(chan struct{}, 1),
		state:       StateMasked,
	}
	m.mu <- struct{}{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// step serializes every transition; the machine is a cooperative loop, not
// a free-for-all of goroutines mutating shared fields.
func (m *Machine) step(fn func()) {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()
	fn()
}

func (m *Machine) setState(s State) {
	m.state = s
	if m.observer != nil {
		m.observer(s)
	}
}

// State returns the current status.
func (m *Machine) State() State {
	var s State
	m.step(func() { s = m.state })
	return s
}

// Plaintext returns a copy of the revealed value, empty unless revealed.
func (m *Machine) Plaintext() string {
	var s string
	m.step(func() { s = string(m.plaintext) })
	return s
}

// ErrorMessage returns the human-readable message for the error state.
func (m *Machine) ErrorMessage() string {
	var s string
	m.step(func() { s = m.errMsg })
	return s
}

// RequestReveal starts a reveal unless one is already pending or the field
// is not masked. Returns whether a request was issued; the duplicate of a
// double-click is suppressed, never sent.
func (m *Machine) RequestReveal(ctx context.Context) bool {
	var token string
	m.step(func() {
		if m.unmounted || m.pending || m.state != StateMasked {
			return
		}
		m.pending = true
		token = uuid.NewString()
		m.reqToken = token
		m.setState(StateRevealing)
	})
	if token == "" {
		return false
	}

	go func() {
		rev, err := m.transport.Reveal(ctx, m.fieldID)
		m.step(func() {
			if m.stale(token) {
				return
			}
			m.pending = false
			if err != nil {
				m.enterError(err, StateMasked)
				return
			}
			m.storePlaintext(rev.Plaintext)
			m.setState(StateRevealed)
			m.armDeadline(rev.ExpiresIn)
		})
	}()
	return true
}

// Hide masks a revealed value immediately: plaintext zeroed, timer cleared.
func (m *Machine) Hide() {
	m.step(func() {
		if m.state != StateRevealed {
			return
		}
		m.conceal()
		m.setState(StateMasked)
	})
}

// StartEdit moves a masked or revealed field into editing. A revealed value
// seeds the edit buffer so the operator edits what they see.
func (m *Machine) StartEdit() {
	m.step(func() {
		if m.unmounted || (m.state != StateMasked && m.state != StateRevealed) {
			return
		}
		m.editBuf = string(m.plaintext)
		m.conceal()
		m.setState(StateEditing)
	})
}

// SetEditBuffer records the operator's typed input.
func (m *Machine) SetEditBuffer(value string) {
	m.step(func() {
		if m.state == StateEditing {
			m.editBuf = value
		}
	})
}

func (m *Machine) EditBuffer() string {
	var s string
	m.step(func() { s = m.editBuf })
	return s
}

// CancelEdit discards the in-memory edit buffer and masks the field.
func (m *Machine) CancelEdit() {
	m.step(func() {
		if m.state != StateEditing {
			return
		}
		m.editBuf = ""
		m.setState(StateMasked)
	})
}

// RequestSave submits the edit buffer. On success the field masks; the
// plaintext is never auto-redisplayed. On failure the field returns to
// editing with the typed input retained. Returns whether a request was
// issued.
func (m *Machine) RequestSave(ctx context.Context) bool {
	var token, value string
	m.step(func() {
		if m.unmounted || m.pending || m.state != StateEditing {
			return
		}
		m.pending = true
		token = uuid.NewString()
		m.reqToken = token
		value = m.editBuf
		m.setState(StateSaving)
	})
	if token == "" {
		return false
	}

	go func() {
		err := m.transport.Save(ctx, m.fieldID, value)
		m.step(func() {
			if m.stale(token) {
				return
			}
			m.pending = false
			if err != nil {
				m.enterError(err, StateEditing)
				return
			}
			m.editBuf = ""
			m.conceal()
			m.setState(StateMasked)
		})
	}()
	return true
}

// SubmitForm is the host form's submission hook: any revealed plaintext is
// zeroed and the field masks.
func (m *Machine) SubmitForm() {
	m.step(func() {
		if m.unmounted {
			return
		}
		// An in-flight reveal or save must not resolve after submission.
		m.reqToken = ""
		m.pending = false
		m.editBuf = ""
		m.conceal()
		m.setState(StateMasked)
	})
}

// Unmount tears the field down: timers cancelled, buffers overwritten,
// in-flight responses invalidated.
func (m *Machine) Unmount() {
	m.step(func() {
		m.unmounted = true
		m.reqToken = ""
		m.pending = false
		m.editBuf = ""
		m.conceal()
	})
}

// stale reports whether a completing request no longer owns the machine.
func (m *Machine) stale(token string) bool {
	return m.unmounted || m.reqToken != token
}

func (m *Machine) enterError(err error, revertTo State) {
	m.errMsg = humanMessage(err)
	m.setState(StateError)
	m.cancelTimer = m.sched.After(m.errorRevert, func() {
		m.step(func() {
			if !m.unmounted && m.state == StateError {
				m.cancelTimer = nil
				m.errMsg = ""
				m.setState(revertTo)
			}
		})
	})
}

func (m *Machine) storePlaintext(pt string) {
	m.conceal()
	m.plaintext = []byte(pt)
}

// conceal overwrites and drops the plaintext buffer and clears any reveal
// deadline.
func (m *Machine) conceal() {
	if m.cancelTimer != nil {
		m.cancelTimer()
		m.cancelTimer = nil
	}
	crypto.Zero(m.plaintext)
	m.plaintext = nil
}

func (m *Machine) armDeadline(d time.Duration) {
	if d <= 0 {
		return
	}
	m.cancelTimer = m.sched.After(d, func() {
		m.step(func() {
			if m.state == StateRevealed {
				m.cancelTimer = nil
				crypto.Zero(m.plaintext)
				m.plaintext = nil
				m.setState(StateMasked)
			}
		})
	})
}

func humanMessage(err error) string {
	var ce *client.Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case client.KindTimeout:
			return "the request timed out, try again"
		case client.KindNetwork:
			return "network error, try again"
		case client.KindAuthorization:
			return "you are not allowed to view this value"
		case client.KindValidation, client.KindServer:
			return ce.Message
		}
	}
	return "something went wrong"
}
