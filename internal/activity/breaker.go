package activity

import (
	"sync"
	"time"

	"github.com/strandhq/strand/pkg/schema"
)

// BreakerState is the state of one activity's circuit.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected until cooldown elapses
	BreakerHalfOpen                     // limited test calls allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes when an activity's circuit opens and recovers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before test calls are allowed.
	Cooldown time.Duration
	// HalfOpenMax caps test calls while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	lastFail  time.Time
	testCalls int
}

// BreakerSet holds one circuit per activity name. A flaky downstream trips
// only its own activity's circuit; the rest keep executing.
type BreakerSet struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[string]*breaker
}

// NewBreakerSet creates a BreakerSet with the given config.
func NewBreakerSet(config BreakerConfig) *BreakerSet {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = DefaultBreakerConfig().HalfOpenMax
	}
	return &BreakerSet{config: config, breakers: make(map[string]*breaker)}
}

// Allow reports whether a call to the activity may proceed. It returns a
// CIRCUIT_OPEN error while the circuit is open and its cooldown has not
// elapsed.
func (bs *BreakerSet) Allow(activity string) error {
	b := bs.get(activity)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(b.lastFail) >= bs.config.Cooldown {
			b.state = BreakerHalfOpen
			b.testCalls = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"activity %q suspended after %d consecutive failures", activity, b.failures).
			WithDetails(map[string]any{
				"activity": activity,
				"failures": b.failures,
				"state":    b.state.String(),
			})
	case BreakerHalfOpen:
		if b.testCalls >= bs.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"activity %q is testing recovery, try again later", activity)
		}
		b.testCalls++
		return nil
	}
	return nil
}

// RecordSuccess closes the activity's circuit.
func (bs *BreakerSet) RecordSuccess(activity string) {
	b := bs.get(activity)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.testCalls = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failed call. A failure while half-open, or the one
// that reaches the threshold, opens the circuit.
func (bs *BreakerSet) RecordFailure(activity string) BreakerState {
	b := bs.get(activity)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFail = time.Now()

	if b.state == BreakerHalfOpen || b.failures >= bs.config.FailureThreshold {
		b.state = BreakerOpen
	}
	return b.state
}

// State returns the activity's current circuit state, applying the
// open-to-half-open transition when the cooldown has elapsed.
func (bs *BreakerSet) State(activity string) BreakerState {
	b := bs.get(activity)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFail) >= bs.config.Cooldown {
		b.state = BreakerHalfOpen
		b.testCalls = 0
	}
	return b.state
}

func (bs *BreakerSet) get(activity string) *breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.breakers[activity]
	if !ok {
		b = &breaker{state: BreakerClosed}
		bs.breakers[activity] = b
	}
	return b
}
