// Package plugin runs third-party hooks against observed messages. Each
// plugin is isolated: an error or panic in one never reaches another and
// never propagates to the caller.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/metrics"
)

// Plugin receives lifecycle hooks. Implementations may block; the host
// passes the dispatch context through.
type Plugin interface {
	Name() string
	OnMessage(ctx context.Context, msg *chatdb.Message) error
}

// Host holds registered plugins and fans hooks out to them in
// registration order.
type Host struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *zap.Logger
}

func NewHost(logger *zap.Logger) *Host {
	return &Host{logger: logger}
}

// Register appends a plugin. Registration order is invocation order.
func (h *Host) Register(p Plugin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plugins = append(h.plugins, p)
	h.logger.Info("plugin registered", zap.String("plugin", p.Name()))
}

// Len reports how many plugins are registered.
func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.plugins)
}

// OnMessage invokes every plugin's hook for msg. Failures are logged and
// counted, never returned; a panicking plugin does not stop the rest.
func (h *Host) OnMessage(ctx context.Context, msg *chatdb.Message) {
	h.mu.RLock()
	plugins := h.plugins
	h.mu.RUnlock()

	for _, p := range plugins {
		h.invoke(ctx, p, msg)
	}
}

func (h *Host) invoke(ctx context.Context, p Plugin, msg *chatdb.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordPluginError(p.Name())
			h.logger.Error("plugin panicked",
				zap.String("plugin", p.Name()),
				zap.Int64("row_id", msg.RowID),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := p.OnMessage(ctx, msg); err != nil {
		metrics.RecordPluginError(p.Name())
		h.logger.Error("plugin hook failed",
			zap.String("plugin", p.Name()),
			zap.Int64("row_id", msg.RowID),
			zap.Error(fmt.Errorf("plugin %s: %w", p.Name(), err)),
		)
	}
}
