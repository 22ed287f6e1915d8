package reconcile

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/metrics"
)

// Registry holds all outstanding expectations plus recently resolved
// ones. Resolved entries linger for a retention window so a racing late
// duplicate row has nothing fresh to re-match and recent history stays
// inspectable.
type Registry struct {
	mu        sync.Mutex
	items     []*Expectation // insertion order is match order
	tolerance time.Duration
	retention time.Duration
	logger    *zap.Logger
}

// NewRegistry creates a registry. tolerance is the matcher's "not too
// old" window; retention is how long resolved expectations stay listed.
func NewRegistry(tolerance, retention time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		tolerance: tolerance,
		retention: retention,
		logger:    logger,
	}
}

// Add registers an expectation. Multiple expectations may share a
// target; the oldest pending one wins a match.
func (r *Registry) Add(e *Expectation) {
	r.mu.Lock()
	r.items = append(r.items, e)
	pending := r.pendingLocked()
	r.mu.Unlock()

	metrics.SetPendingExpectations(pending)
	r.logger.Debug("expectation registered",
		zap.String("id", e.ID.String()),
		zap.String("target", e.TargetKey),
		zap.Bool("attachment", e.IsAttachment),
	)
}

// TryResolve offers a row to the registry. Only self-originated rows can
// explain an outgoing send; anything else is refused outright. Pending
// expectations are scanned in insertion order and the first match is
// resolved. One row resolves at most one expectation.
func (r *Registry) TryResolve(row *chatdb.Message) bool {
	if !row.FromMe {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.items {
		if e.State() != StatePending {
			continue
		}
		if !Matches(e, row, r.tolerance) {
			continue
		}
		if !e.Resolve(row) {
			// Lost a race with the timeout timer; keep scanning.
			continue
		}
		metrics.SetPendingExpectations(r.pendingLocked())
		r.logger.Info("send confirmed by observed row",
			zap.String("id", e.ID.String()),
			zap.Int64("row_id", row.RowID),
			zap.String("target", e.TargetKey),
			zap.Duration("latency", row.Time.Sub(e.CreatedAt)),
		)
		return true
	}
	return false
}

// Cleanup drops expectations resolved longer than the retention window
// ago. Pending entries are never dropped here.
func (r *Registry) Cleanup() {
	cutoff := time.Now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.items[:0]
	for _, e := range r.items {
		if !e.resolvedBefore(cutoff) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(r.items); i++ {
		r.items[i] = nil
	}
	r.items = kept
	// Expectations can time out on their own timers; refresh the gauge
	// here since no registry call witnesses those transitions.
	metrics.SetPendingExpectations(r.pendingLocked())
}

// RejectAll fails every still-pending expectation with reason, releasing
// all waiters. Used once, at shutdown, so no sender hangs on a
// confirmation that polling will never deliver.
func (r *Registry) RejectAll(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rejected int
	for _, e := range r.items {
		if e.Reject(reason) {
			rejected++
		}
	}
	metrics.SetPendingExpectations(0)
	if rejected > 0 {
		r.logger.Warn("rejected outstanding expectations",
			zap.Int("count", rejected),
			zap.Error(reason),
		)
	}
}

// Pending reports how many expectations are still awaiting a row.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked()
}

func (r *Registry) pendingLocked() int {
	n := 0
	for _, e := range r.items {
		if e.State() == StatePending {
			n++
		}
	}
	return n
}
