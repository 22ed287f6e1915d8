// Package watcher polls the history database and reconciles what it
// finds: self-originated rows are offered to the expectation registry
// first, and everything new that no expectation explains fans out to
// consumers.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/dedup"
	"github.com/declanhiggins/echobridge/internal/metrics"
	"github.com/declanhiggins/echobridge/internal/reconcile"
)

// maxOverlap caps how far each query window reaches behind lastCheck.
// The overlap covers rows whose write commits slightly after their
// logical timestamp; dedup keeps the re-fetched tail from re-delivering.
const maxOverlap = time.Second

// Source is the data-source contract the watcher polls.
type Source interface {
	MessagesSince(ctx context.Context, since time.Time) ([]*chatdb.Message, error)
}

// Dispatcher receives rows that survived reconciliation and filtering.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *chatdb.Message) error
}

// Config tunes one watcher.
type Config struct {
	PollInterval time.Duration
	UnreadOnly   bool // only forward rows the user has not read
	ExcludeSelf  bool // do not forward self-originated rows
	// OnError receives per-tick query errors and per-row delivery
	// errors. Optional; errors are always logged.
	OnError func(err error)
}

// Watcher owns all polling state: last-check watermark and the seen-row
// store. Multiple watchers are independently constructible.
type Watcher struct {
	source   Source
	registry *reconcile.Registry
	dispatch Dispatcher
	seen     dedup.Store
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	running   bool
	checking  bool
	lastCheck time.Time
	stop      chan struct{}
	done      chan struct{}
}

func New(source Source, registry *reconcile.Registry, dispatch Dispatcher, seen dedup.Store, cfg Config, logger *zap.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if seen == nil {
		seen = dedup.NewMemory()
	}
	return &Watcher{
		source:   source,
		registry: registry,
		dispatch: dispatch,
		seen:     seen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins polling. Idempotent: starting a running watcher is a
// no-op. Rows older than start time are never surfaced.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.lastCheck = time.Now()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(w.stop, w.done)
	w.logger.Info("watcher started", zap.Duration("poll_interval", w.cfg.PollInterval))
}

// Stop halts the timer and waits for an in-flight tick to finish.
// Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("watcher stopped")
}

// Running reports whether the loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.Tick(context.Background())
		}
	}
}

// Tick runs one poll cycle. A tick that fires while the previous one is
// still running is skipped, not queued, so slow queries never pile up.
func (w *Watcher) Tick(ctx context.Context) {
	w.mu.Lock()
	if w.checking {
		w.mu.Unlock()
		metrics.RecordPollTick("skipped")
		w.logger.Debug("tick skipped, previous still running")
		return
	}
	w.checking = true
	since := w.lastCheck
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.checking = false
		w.mu.Unlock()
	}()

	overlap := maxOverlap
	if w.cfg.PollInterval < overlap {
		overlap = w.cfg.PollInterval
	}

	checkStarted := time.Now()
	rows, err := w.source.MessagesSince(ctx, since.Add(-overlap))
	if err != nil {
		metrics.RecordPollTick("query_error")
		w.report(fmt.Errorf("watcher: query tick: %w", err))
		return
	}

	// Advance the watermark before processing so a slow consumer does
	// not widen the next window's gap.
	w.mu.Lock()
	w.lastCheck = checkStarted
	w.mu.Unlock()

	w.process(ctx, rows)
	w.registry.Cleanup()
	w.seen.Prune(ctx)
	metrics.RecordPollTick("ok")
}

func (w *Watcher) process(ctx context.Context, rows []*chatdb.Message) {
	var forward []*chatdb.Message

	for _, row := range rows {
		isNew, err := w.seen.MarkSeen(ctx, row.RowID)
		if err != nil {
			w.report(fmt.Errorf("watcher: mark seen row %d: %w", row.RowID, err))
			continue
		}
		if !isNew {
			metrics.RecordRowObserved("duplicate")
			continue
		}

		// Self-originated rows may be the echo of our own send; a row
		// consumed by a match is explained, not news.
		if row.FromMe && w.registry.TryResolve(row) {
			metrics.RecordRowObserved("matched")
			continue
		}

		if w.filtered(row) {
			metrics.RecordRowObserved("filtered")
			continue
		}

		metrics.RecordRowObserved("forwarded")
		forward = append(forward, row)
	}

	if len(forward) == 0 {
		return
	}

	// Rows are dispatched concurrently; one row's failure is reported
	// and contained, never allowed to suppress the others.
	var wg sync.WaitGroup
	for _, row := range forward {
		wg.Add(1)
		go func(row *chatdb.Message) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					w.report(fmt.Errorf("watcher: dispatch row %d panicked: %v", row.RowID, rec))
				}
			}()
			if err := w.dispatch.Dispatch(ctx, row); err != nil {
				w.report(fmt.Errorf("watcher: dispatch row %d: %w", row.RowID, err))
			}
		}(row)
	}
	wg.Wait()
}

func (w *Watcher) filtered(row *chatdb.Message) bool {
	if w.cfg.ExcludeSelf && row.FromMe {
		return true
	}
	if w.cfg.UnreadOnly && (row.IsRead || row.FromMe) {
		return true
	}
	return false
}

func (w *Watcher) report(err error) {
	w.logger.Error("watcher error", zap.Error(err))
	if w.cfg.OnError != nil {
		w.cfg.OnError(err)
	}
}
