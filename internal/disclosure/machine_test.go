package disclosure

import (
	"context"
	"sync"
	"testing"
	"time"

	"secure-fields/internal/client"
)

// fakeScheduler collects timers so tests fire deadlines deterministically.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d         time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (s *fakeScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.cancelled = true
	}
}

// fireNext runs the oldest pending timer, if any.
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var pick *fakeTimer
	for _, t := range s.timers {
		if !t.cancelled && !t.fired {
			pick = t
			break
		}
	}
	if pick != nil {
		pick.fired = true
	}
	s.mu.Unlock()
	if pick == nil {
		return false
	}
	pick.fn()
	return true
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.cancelled && !t.fired {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu          sync.Mutex
	revealCalls int
	saveCalls   int
	savedValue  string

	reveal    client.Reveal
	revealErr error
	saveErr   error

	gate chan struct{} // when set, calls block until the gate closes
}

func (f *fakeTransport) Reveal(_ context.Context, _ string) (client.Reveal, error) {
	f.mu.Lock()
	f.revealCalls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.reveal, f.revealErr
}

func (f *fakeTransport) Save(_ context.Context, _ string, value string) error {
	f.mu.Lock()
	f.saveCalls++
	f.savedValue = value
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.saveErr
}

func (f *fakeTransport) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revealCalls, f.saveCalls
}

func newTestMachine(t *testing.T, tr *fakeTransport) (*Machine, *fakeScheduler, chan State) {
	t.Helper()
	sched := &fakeScheduler{}
	states := make(chan State, 64)
	m := NewMachine("stripe_api_key", tr, sched, WithObserver(func(s State) {
		states <- s
	}))
	return m, sched, states
}

func waitState(t *testing.T, ch chan State, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestRevealFlowAndDeadline(t *testing.T) {
	tr := &fakeTransport{reveal: client.Reveal{Plaintext: "sk-test-123", ExpiresIn: 30 * time.Second}}
	m, sched, states := newTestMachine(t, tr)

	if !m.RequestReveal(context.Background()) {
		t.Fatal("reveal request not issued")
	}
	waitState(t, states, StateRevealing)
	waitState(t, states, StateRevealed)

	if got := m.Plaintext(); got != "sk-test-123" {
		t.Fatalf("plaintext %q", got)
	}
	if sched.pendingCount() != 1 {
		t.Fatalf("expected armed deadline timer, pending=%d", sched.pendingCount())
	}

	// Simulated reveal deadline elapses.
	if !sched.fireNext() {
		t.Fatal("no timer to fire")
	}
	waitState(t, states, StateMasked)
	if got := m.Plaintext(); got != "" {
		t.Fatalf("plaintext retained after deadline: %q", got)
	}
}

func TestDoubleSubmitGuard(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{
		reveal: client.Reveal{Plaintext: "v", ExpiresIn: time.Minute},
		gate:   gate,
	}
	m, _, states := newTestMachine(t, tr)

	if !m.RequestReveal(context.Background()) {
		t.Fatal("first request not issued")
	}
	if m.RequestReveal(context.Background()) {
		t.Fatal("duplicate request issued while pending")
	}
	close(gate)
	waitState(t, states, StateRevealed)

	if reveals, _ := tr.calls(); reveals != 1 {
		t.Fatalf("expected exactly one network call, got %d", reveals)
	}
}

func TestRevealFailureAutoReverts(t *testing.T) {
	tr := &fakeTransport{revealErr: &client.Error{Kind: client.KindNetwork, Message: "boom"}}
	m, sched, states := newTestMachine(t, tr)

	m.RequestReveal(context.Background())
	waitState(t, states, StateError)
	if msg := m.ErrorMessage(); msg == "" {
		t.Fatal("expected human-readable error message")
	}

	if !sched.fireNext() {
		t.Fatal("no revert timer armed")
	}
	waitState(t, states, StateMasked)
	if m.ErrorMessage() != "" {
		t.Fatal("error message not cleared after revert")
	}
}

func TestHideClearsPlaintextAndTimer(t *testing.T) {
	tr := &fakeTransport{reveal: client.Reveal{Plaintext: "secret", ExpiresIn: time.Minute}}
	m, sched, states := newTestMachine(t, tr)

	m.RequestReveal(context.Background())
	waitState(t, states, StateRevealed)

	m.Hide()
	if m.State() != StateMasked || m.Plaintext() != "" {
		t.Fatalf("state=%s plaintext=%q", m.State(), m.Plaintext())
	}
	if sched.pendingCount() != 0 {
		t.Fatal("deadline timer not cancelled on hide")
	}
}

func TestEditSaveFlow(t *testing.T) {
	tr := &fakeTransport{reveal: client.Reveal{Plaintext: "old-value", ExpiresIn: time.Minute}}
	m, _, states := newTestMachine(t, tr)

	m.RequestReveal(context.Background())
	waitState(t, states, StateRevealed)

	m.StartEdit()
	if m.State() != StateEditing {
		t.Fatalf("state=%s", m.State())
	}
	if m.EditBuffer() != "old-value" {
		t.Fatalf("edit buffer not seeded: %q", m.EditBuffer())
	}
	if m.Plaintext() != "" {
		t.Fatal("revealed plaintext kept alongside edit buffer")
	}

	m.SetEditBuffer("new-value")
	if !m.RequestSave(context.Background()) {
		t.Fatal("save request not issued")
	}
	waitState(t, states, StateSaving)
	waitState(t, states, StateMasked)

	if _, saves := tr.calls(); saves != 1 {
		t.Fatalf("expected one save call, got %d", saves)
	}
	if tr.savedValue != "new-value" {
		t.Fatalf("saved %q", tr.savedValue)
	}
	// Post-save the value stays masked, never auto-redisplayed.
	if m.Plaintext() != "" || m.EditBuffer() != "" {
		t.Fatal("buffers not cleared after save")
	}
}

func TestSaveFailureRetainsTypedInput(t *testing.T) {
	tr := &fakeTransport{saveErr: &client.Error{Kind: client.KindValidation, Message: "value violates format constraint"}}
	m, sched, states := newTestMachine(t, tr)

	m.StartEdit()
	m.SetEditBuffer("typed-but-invalid")
	m.RequestSave(context.Background())
	waitState(t, states, StateError)

	if m.ErrorMessage() != "value violates format constraint" {
		t.Fatalf("unexpected message %q", m.ErrorMessage())
	}

	if !sched.fireNext() {
		t.Fatal("no revert timer armed")
	}
	waitState(t, states, StateEditing)
	if m.EditBuffer() != "typed-but-invalid" {
		t.Fatalf("typed input discarded: %q", m.EditBuffer())
	}
}

func TestCancelEditDiscardsBuffer(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestMachine(t, tr)

	m.StartEdit()
	m.SetEditBuffer("half-typed")
	m.CancelEdit()
	if m.State() != StateMasked || m.EditBuffer() != "" {
		t.Fatalf("state=%s buffer=%q", m.State(), m.EditBuffer())
	}
}

func TestUnmountDropsStaleResponse(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{
		reveal: client.Reveal{Plaintext: "late-secret", ExpiresIn: time.Minute},
		gate:   gate,
	}
	m, sched, states := newTestMachine(t, tr)

	m.RequestReveal(context.Background())
	waitState(t, states, StateRevealing)

	m.Unmount()
	close(gate) // response resolves after the field is gone

	// Give the in-flight goroutine a beat to complete and be discarded.
	time.Sleep(50 * time.Millisecond)
	if m.Plaintext() != "" {
		t.Fatal("stale response applied after unmount")
	}
	if sched.pendingCount() != 0 {
		t.Fatal("timers left pending after unmount")
	}
	select {
	case s := <-states:
		if s == StateRevealed {
			t.Fatal("unexpected revealed transition after unmount")
		}
	default:
	}
}

func TestSubmitFormMasksAndClears(t *testing.T) {
	tr := &fakeTransport{reveal: client.Reveal{Plaintext: "visible", ExpiresIn: time.Minute}}
	m, _, states := newTestMachine(t, tr)

	m.RequestReveal(context.Background())
	waitState(t, states, StateRevealed)

	m.SubmitForm()
	if m.State() != StateMasked || m.Plaintext() != "" {
		t.Fatalf("state=%s plaintext=%q", m.State(), m.Plaintext())
	}
}

func TestSubmitFormDropsInFlightReveal(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{
		reveal: client.Reveal{Plaintext: "late-secret", ExpiresIn: time.Minute},
		gate:   gate,
	}
	m, _, states := newTestMachine(t, tr)

	m.RequestReveal(context.Background())
	waitState(t, states, StateRevealing)

	m.SubmitForm()
	close(gate) // reveal resolves after the form already submitted

	time.Sleep(50 * time.Millisecond)
	if m.State() != StateMasked {
		t.Fatalf("state=%s after submit", m.State())
	}
	if m.Plaintext() != "" {
		t.Fatalf("late reveal response applied after form submit: %q", m.Plaintext())
	}
	// A fresh reveal must still work; the machine is masked, not wedged.
	if !m.RequestReveal(context.Background()) {
		t.Fatal("reveal blocked after submit")
	}
	waitState(t, states, StateRevealed)
}

func TestRevealIgnoredWhileEditing(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestMachine(t, tr)

	m.StartEdit()
	if m.RequestReveal(context.Background()) {
		t.Fatal("reveal issued from editing state")
	}
	if reveals, _ := tr.calls(); reveals != 0 {
		t.Fatalf("unexpected network call: %d", reveals)
	}
}
