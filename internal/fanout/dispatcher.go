// Package fanout delivers newly observed, unmatched rows to every
// interested consumer: registered plugins, a typed callback, and an
// optional at-least-once webhook. Consumers are isolated from each
// other; one failing never suppresses the rest.
package fanout

import (
	"context"

	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/plugin"
)

const (
	// EventDirectMessage names the webhook event for a direct thread.
	EventDirectMessage = "new_message"
	// EventGroupMessage names the webhook event for a multi-party thread.
	EventGroupMessage = "new_group_message"
)

// Callbacks holds the typed per-row consumer hooks. Either may be nil.
// Exactly one of them fires per row, chosen by thread shape.
type Callbacks struct {
	OnDirectMessage func(msg *chatdb.Message)
	OnGroupMessage  func(msg *chatdb.Message)
}

// Dispatcher fans a row out to plugins, the typed callback, and the
// webhook, in that order.
type Dispatcher struct {
	plugins   *plugin.Host
	callbacks Callbacks
	webhook   *WebhookSender // nil when no sink is configured
	logger    *zap.Logger
}

func NewDispatcher(plugins *plugin.Host, callbacks Callbacks, webhook *WebhookSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		plugins:   plugins,
		callbacks: callbacks,
		webhook:   webhook,
		logger:    logger,
	}
}

// Dispatch delivers one row to all consumers. The returned error is the
// webhook delivery failure, if any; plugin and callback failures are
// contained inside their own steps and never surface here.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *chatdb.Message) error {
	if d.plugins != nil {
		d.plugins.OnMessage(ctx, msg)
	}

	d.invokeCallback(msg)

	if d.webhook == nil {
		return nil
	}

	event := EventDirectMessage
	if msg.IsGroup {
		event = EventGroupMessage
	}
	_, err := d.webhook.Deliver(ctx, event, msg)
	return err
}

// invokeCallback fires exactly one typed callback, guarded against
// panics so a consumer bug stays that consumer's problem.
func (d *Dispatcher) invokeCallback(msg *chatdb.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("message callback panicked",
				zap.Int64("row_id", msg.RowID),
				zap.Any("panic", rec),
			)
		}
	}()

	if msg.IsGroup {
		if d.callbacks.OnGroupMessage != nil {
			d.callbacks.OnGroupMessage(msg)
		}
		return
	}
	if d.callbacks.OnDirectMessage != nil {
		d.callbacks.OnDirectMessage(msg)
	}
}
