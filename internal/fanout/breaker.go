package fanout

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBreakerOpen is returned (wrapped in a DeliveryError) when the sink
// breaker rejects an attempt without trying it.
var ErrBreakerOpen = errors.New("fanout: webhook breaker open")

// breakerState follows closed -> open -> half-open -> closed.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the webhook sink breaker.
type BreakerConfig struct {
	MaxFailures     int           // consecutive failures before opening
	RecoveryTimeout time.Duration // open duration before a probe
}

// Breaker is a small circuit breaker guarding the webhook sink. When the
// sink is down it fails rows fast instead of burning the full per-row
// retry budget on a dead endpoint. After RecoveryTimeout one probe
// attempt is admitted; success closes the circuit, failure re-opens it.
type Breaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	logger *zap.Logger

	state       breakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewBreaker creates a breaker with the given thresholds. Non-positive
// values fall back to 5 failures / 30s recovery.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, logger: logger, state: breakerClosed}
}

// Allow reports whether an attempt may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.state = breakerHalfOpen
			b.probing = true
			b.logger.Info("webhook breaker probing sink")
			return true
		}
		return false
	case breakerHalfOpen:
		// One probe at a time.
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess clears failure history; a half-open probe success closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != breakerClosed {
		b.state = breakerClosed
		b.logger.Info("webhook breaker closed, sink recovered")
	}
}

// RecordFailure counts a failed attempt; at the threshold the circuit
// opens, and a failed half-open probe re-opens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false

	switch b.state {
	case breakerClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.state = breakerOpen
			b.logger.Warn("webhook breaker opened",
				zap.Int("consecutive_failures", b.failures),
			)
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.logger.Warn("webhook breaker re-opened, probe failed")
	}
}

// CurrentState returns the state name for diagnostics.
func (b *Breaker) CurrentState() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
