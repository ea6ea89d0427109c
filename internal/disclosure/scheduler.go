package disclosure

import "time"

// Scheduler abstracts reveal-deadline and error-revert timers so tests can
// drive them deterministically. After runs fn once d elapses; the returned
// cancel stops a pending fire.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

type timerScheduler struct{}

// NewTimerScheduler returns the production scheduler backed by time.Timer.
func NewTimerScheduler() Scheduler { return timerScheduler{} }

func (timerScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
