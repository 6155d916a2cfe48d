package classify

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen indicates the circuit breaker refused the call locally;
// the deep classifier was never contacted.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is a snapshot of the circuit breaker
type BreakerState struct {
	Failures    int       `json:"failures"`
	MaxFailures int       `json:"max_failures"`
	Open        bool      `json:"open"`
	HalfOpen    bool      `json:"half_open"`
	OpenUntil   time.Time `json:"open_until"`
}

// Breaker isolates the deep classifier behind a three-state circuit:
// closed (calls allowed, consecutive failures counted), open (calls refused
// until the cooldown passes), half-open (exactly one trial call admitted).
//
// One instance is shared per endpoint and all state is guarded by its own
// mutex; construct a fresh one per test rather than sharing globals.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	cooldown    time.Duration
	openUntil   time.Time
	open        bool
	halfOpen    bool // a trial call is in flight
	now         func() time.Time
}

// NewBreaker creates a closed Breaker that opens after maxFailures
// consecutive failures and stays open for cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. After the cooldown elapses the
// first Allow admits exactly one half-open trial; concurrent callers keep
// seeing the breaker as open until that trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}

	if b.halfOpen {
		// Trial already in flight
		return false
	}

	if b.now().Before(b.openUntil) {
		return false
	}

	b.halfOpen = true
	return true
}

// RecordSuccess notes a successful call. It closes the breaker and resets
// the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
	b.halfOpen = false
	b.openUntil = time.Time{}
}

// RecordFailure notes a failed call. In the closed state it counts toward
// the trip threshold; a failed half-open trial reopens the breaker and
// extends the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halfOpen {
		b.halfOpen = false
		b.open = true
		b.openUntil = b.now().Add(b.cooldown)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.open = true
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// Reset force-closes the breaker regardless of timer state (operator action)
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
	b.halfOpen = false
	b.openUntil = time.Time{}
}

// Status returns a snapshot of the breaker state
func (b *Breaker) Status() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerState{
		Failures:    b.failures,
		MaxFailures: b.maxFailures,
		Open:        b.open,
		HalfOpen:    b.halfOpen,
		OpenUntil:   b.openUntil,
	}
}
