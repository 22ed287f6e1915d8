// Package reconcile correlates outgoing sends with the rows they later
// produce in the history database. A send has no return value tying it
// to a row, so each send registers an Expectation describing what the
// row should look like; polling offers new self-originated rows back to
// the registry, which resolves the first compatible expectation.
package reconcile

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/declanhiggins/echobridge/internal/chatdb"
)

// ErrConfirmTimeout is the rejection reason when no matching row appears
// within the expectation's budget. The send itself may still have
// succeeded; only the confirmation is missing.
var ErrConfirmTimeout = errors.New("reconcile: no matching row before timeout")

// State is an expectation's lifecycle position. Transitions are
// monotonic: Pending moves to exactly one of the resolved states, once.
type State int

const (
	StatePending State = iota
	StateResolved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the one-shot result a waiting sender receives.
type Outcome struct {
	Row *chatdb.Message // set on resolve
	Err error           // set on reject
}

// Expectation is a matchable, time-bounded record of one in-flight send.
type Expectation struct {
	ID            uuid.UUID
	TargetKey     string // normalized destination
	ContentKey    string // normalized text; unused for attachment sends
	AttachmentKey string // folded base filename; may be empty
	IsAttachment  bool
	CreatedAt     time.Time

	mu         sync.Mutex
	state      State
	resolvedAt time.Time
	timer      *time.Timer
	done       chan Outcome
}

// New creates an expectation for a text send and starts its timeout
// timer. content is raw message text; normalization happens here.
func New(targetKey, content string, timeout time.Duration) *Expectation {
	e := newExpectation(targetKey)
	e.ContentKey = NormalizeText(content)
	e.arm(timeout)
	return e
}

// NewAttachment creates an expectation for a file send. baseName is the
// filename without extension; empty means any attachment satisfies it.
func NewAttachment(targetKey, baseName string, timeout time.Duration) *Expectation {
	e := newExpectation(targetKey)
	e.IsAttachment = true
	e.AttachmentKey = NormalizeAttachmentName(baseName)
	e.arm(timeout)
	return e
}

func newExpectation(targetKey string) *Expectation {
	return &Expectation{
		ID:        uuid.New(),
		TargetKey: NormalizeTarget(targetKey),
		CreatedAt: time.Now(),
		state:     StatePending,
		done:      make(chan Outcome, 1),
	}
}

// arm starts the self-owned timeout. The timer is independent of the
// poll loop so a stalled or erroring watcher never leaves a sender
// blocked forever. The field is published under e.mu: the callback's
// finish takes the same lock, so it cannot observe a half-written timer
// even when the budget fires immediately.
func (e *Expectation) arm(timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer = time.AfterFunc(timeout, func() {
		e.Reject(ErrConfirmTimeout)
	})
}

// Resolve completes the expectation with the row that explains it.
// Returns false if the expectation already left Pending.
func (e *Expectation) Resolve(row *chatdb.Message) bool {
	return e.finish(StateResolved, Outcome{Row: row})
}

// Reject completes the expectation with a failure reason. Timeout and
// shutdown both land here so waiters see a single failure shape.
func (e *Expectation) Reject(reason error) bool {
	return e.finish(StateRejected, Outcome{Err: reason})
}

func (e *Expectation) finish(state State, out Outcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePending {
		return false
	}
	e.state = state
	e.resolvedAt = time.Now()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.done <- out // buffered; releases the waiter exactly once
	return true
}

// Done returns the channel the originating send blocks on. It receives
// exactly one Outcome.
func (e *Expectation) Done() <-chan Outcome {
	return e.done
}

// State reports the current lifecycle state.
func (e *Expectation) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// resolvedBefore reports whether the expectation left Pending before
// cutoff; used by registry cleanup.
func (e *Expectation) resolvedBefore(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != StatePending && e.resolvedAt.Before(cutoff)
}
