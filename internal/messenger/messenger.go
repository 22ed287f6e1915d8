// Package messenger is the public face of the bridge: send a message,
// watch for new ones, shut the whole thing down in the right order.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/dedup"
	"github.com/declanhiggins/echobridge/internal/fanout"
	"github.com/declanhiggins/echobridge/internal/gate"
	"github.com/declanhiggins/echobridge/internal/metrics"
	"github.com/declanhiggins/echobridge/internal/plugin"
	"github.com/declanhiggins/echobridge/internal/reconcile"
	"github.com/declanhiggins/echobridge/internal/watcher"
)

// ErrDestroyed is returned by every operation after Close.
var ErrDestroyed = errors.New("messenger: destroyed")

// ErrShuttingDown is the rejection reason pending sends receive when
// Close drains the registry.
var ErrShuttingDown = errors.New("messenger: shutting down")

// Store is the history-database dependency.
type Store interface {
	MessagesSince(ctx context.Context, since time.Time) ([]*chatdb.Message, error)
	Close() error
}

// Executor performs the external send side effect.
type Executor interface {
	SendText(ctx context.Context, targetKey, text string) error
	SendAttachment(ctx context.Context, targetKey, path string) error
}

// Config tunes the facade.
type Config struct {
	SendConcurrency   int
	TextTimeout       time.Duration
	AttachmentTimeout time.Duration
	MatchTolerance    time.Duration
	ResolvedRetention time.Duration

	PollInterval time.Duration
	UnreadOnly   bool
	ExcludeSelf  bool

	// Webhook is optional; zero URL disables delivery.
	Webhook fanout.WebhookConfig
	// SeenStore overrides the default in-memory dedup store.
	SeenStore dedup.Store
}

// Result is what a send returns. Confirmed reports whether an observed
// row matched the send before its budget ran out; when false, MatchErr
// explains why confirmation is absent. The side effect itself may still
// have succeeded.
type Result struct {
	SentAt     time.Time
	Confirmed  bool
	MatchedRow *chatdb.Message
	MatchErr   error
}

// Messenger coordinates the gate, registry, executor, and watcher.
type Messenger struct {
	store    Store
	executor Executor
	gate     *gate.Gate
	registry *reconcile.Registry
	plugins  *plugin.Host
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	watch     *watcher.Watcher
	destroyed bool
	closeOnce sync.Once
}

// New wires a messenger from its collaborators.
func New(store Store, executor Executor, cfg Config, logger *zap.Logger) (*Messenger, error) {
	if cfg.SendConcurrency <= 0 {
		cfg.SendConcurrency = 2
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = 10 * time.Second
	}
	if cfg.AttachmentTimeout <= 0 {
		cfg.AttachmentTimeout = 30 * time.Second
	}
	if cfg.MatchTolerance <= 0 {
		cfg.MatchTolerance = 5 * time.Second
	}
	if cfg.ResolvedRetention <= 0 {
		cfg.ResolvedRetention = 60 * time.Second
	}

	g, err := gate.New(cfg.SendConcurrency)
	if err != nil {
		return nil, fmt.Errorf("messenger: %w", err)
	}

	return &Messenger{
		store:    store,
		executor: executor,
		gate:     g,
		registry: reconcile.NewRegistry(cfg.MatchTolerance, cfg.ResolvedRetention, logger),
		plugins:  plugin.NewHost(logger),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// RegisterPlugin adds a plugin to the fan-out path. Plugins registered
// after watching starts still receive subsequent rows.
func (m *Messenger) RegisterPlugin(p plugin.Plugin) {
	m.plugins.Register(p)
}

// Send dispatches text to targetKey and waits for the send to be
// confirmed by a row in the history database, bounded by the text
// timeout. An unconfirmed send is not an error; check Result.Confirmed.
func (m *Messenger) Send(ctx context.Context, targetKey, text string) (*Result, error) {
	return m.send(ctx, "text", func() *reconcile.Expectation {
		return reconcile.New(targetKey, text, m.cfg.TextTimeout)
	}, func(ctx context.Context) error {
		return m.executor.SendText(ctx, targetKey, text)
	})
}

// SendAttachment dispatches a file, matched later by its base filename.
func (m *Messenger) SendAttachment(ctx context.Context, targetKey, path string) (*Result, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	return m.send(ctx, "attachment", func() *reconcile.Expectation {
		return reconcile.NewAttachment(targetKey, base, m.cfg.AttachmentTimeout)
	}, func(ctx context.Context) error {
		return m.executor.SendAttachment(ctx, targetKey, path)
	})
}

func (m *Messenger) send(ctx context.Context, kind string, expect func() *reconcile.Expectation, perform func(ctx context.Context) error) (*Result, error) {
	if m.isDestroyed() {
		return nil, ErrDestroyed
	}

	var result *Result
	err := m.gate.Run(ctx, func(ctx context.Context) error {
		if m.isDestroyed() {
			return ErrDestroyed
		}

		// The expectation exists before the side effect so a fast echo
		// row cannot slip past an unregistered send.
		exp := expect()
		m.registry.Add(exp)
		sentAt := time.Now()

		if err := perform(ctx); err != nil {
			exp.Reject(err)
			<-exp.Done() // drain the buffered outcome
			metrics.RecordSend(kind, "failed")
			return err
		}

		result = m.await(ctx, kind, exp, sentAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// await blocks on the expectation's outcome. The expectation owns its
// own timeout; a cancelled context only abandons the local wait.
func (m *Messenger) await(ctx context.Context, kind string, exp *reconcile.Expectation, sentAt time.Time) *Result {
	select {
	case out := <-exp.Done():
		if out.Err != nil {
			outcome := "unconfirmed"
			if errors.Is(out.Err, ErrShuttingDown) {
				outcome = "rejected"
			}
			metrics.RecordSend(kind, outcome)
			return &Result{SentAt: sentAt, MatchErr: out.Err}
		}
		metrics.RecordSend(kind, "confirmed")
		metrics.RecordConfirmLatency(kind, time.Since(sentAt))
		return &Result{SentAt: sentAt, Confirmed: true, MatchedRow: out.Row}
	case <-ctx.Done():
		metrics.RecordSend(kind, "unconfirmed")
		return &Result{SentAt: sentAt, MatchErr: ctx.Err()}
	}
}

// StartWatching begins polling the store with the given callbacks.
// Idempotent; callbacks from the first call win until StopWatching.
func (m *Messenger) StartWatching(callbacks fanout.Callbacks) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return ErrDestroyed
	}

	if m.watch == nil {
		var sender *fanout.WebhookSender
		if m.cfg.Webhook.URL != "" {
			breaker := fanout.NewBreaker(fanout.BreakerConfig{}, m.logger)
			sender = fanout.NewWebhookSender(m.cfg.Webhook, breaker, m.logger)
		}
		dispatcher := fanout.NewDispatcher(m.plugins, callbacks, sender, m.logger)

		m.watch = watcher.New(m.store, m.registry, dispatcher, m.cfg.SeenStore, watcher.Config{
			PollInterval: m.cfg.PollInterval,
			UnreadOnly:   m.cfg.UnreadOnly,
			ExcludeSelf:  m.cfg.ExcludeSelf,
		}, m.logger)
	}

	m.watch.Start()
	return nil
}

// StopWatching halts polling. Idempotent; watching can be restarted.
func (m *Messenger) StopWatching() {
	m.mu.Lock()
	w := m.watch
	m.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// Close shuts the bridge down: stop polling, fail every pending send so
// no caller hangs, then release the database handle. The order matters;
// resolution callbacks must never run against a closed store. Close is
// idempotent and subsequent operations return ErrDestroyed.
func (m *Messenger) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.destroyed = true
		w := m.watch
		m.mu.Unlock()

		if w != nil {
			w.Stop()
		}
		m.registry.RejectAll(ErrShuttingDown)
		err = m.store.Close()
		m.logger.Info("messenger closed")
	})
	return err
}

func (m *Messenger) isDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}
