package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler arranges a single future refresh attempt against the session's
// expiry. At most one timer is pending at any time: re-arming cancels and
// replaces the previous timer, so the last arm always wins.
//
// The refresh callback reads the manager's *current* session, not a snapshot
// captured at arm time; a logout between arming and firing therefore turns
// the firing into a no-op.
type Scheduler struct {
	refresh func()
	nowFunc func() time.Time
	log     zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// SchedulerOption modifies a Scheduler during construction.
type SchedulerOption func(*Scheduler)

// WithSchedulerNowFunc sets the time source (primarily for testing).
func WithSchedulerNowFunc(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.nowFunc = now
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(log zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = log
	}
}

// NewScheduler creates a Scheduler that invokes refresh when a timer fires.
func NewScheduler(refresh func(), options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		refresh: refresh,
		nowFunc: time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Arm schedules a refresh for when sess expires. An already-expired session
// triggers the refresh immediately. Any previously pending timer is cancelled
// first.
func (s *Scheduler) Arm(sess *Session) {
	delay := sess.Expiry().Sub(s.nowFunc())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.refresh)
	s.mu.Unlock()

	s.log.Debug().Dur("delay", delay).Msg("refresh scheduled")
}

// Cancel stops any pending timer.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
