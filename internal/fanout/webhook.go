package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/metrics"
)

// DeliveryError is raised when a row's webhook delivery exhausts its
// attempt budget. It is scoped to one row: the watcher reports it and
// moves on.
type DeliveryError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("fanout: webhook %s failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *DeliveryError) Unwrap() error { return e.Last }

// Envelope is the JSON body posted to the webhook sink.
type Envelope struct {
	Event       string        `json:"event"`
	Message     RowProjection `json:"message"`
	DeliveredAt time.Time     `json:"delivered_at"`
}

// RowProjection is the outward-facing shape of an observed row.
type RowProjection struct {
	RowID       int64    `json:"row_id"`
	GUID        string   `json:"guid"`
	ChatKey     string   `json:"chat_key"`
	Handle      string   `json:"handle,omitempty"`
	Text        string   `json:"text,omitempty"`
	FromMe      bool     `json:"from_me"`
	IsGroup     bool     `json:"is_group"`
	Time        int64    `json:"timestamp_ms"`
	Attachments []string `json:"attachments,omitempty"`
}

func projectRow(msg *chatdb.Message) RowProjection {
	p := RowProjection{
		RowID:   msg.RowID,
		GUID:    msg.GUID,
		ChatKey: msg.ChatKey,
		Handle:  msg.Handle,
		Text:    msg.Text,
		FromMe:  msg.FromMe,
		IsGroup: msg.IsGroup,
		Time:    msg.Time.UnixMilli(),
	}
	for _, att := range msg.Attachments {
		p.Attachments = append(p.Attachments, att.Filename)
	}
	return p
}

// WebhookConfig configures at-least-once delivery to one HTTP sink.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Retries int           // additional attempts after the first
	Backoff time.Duration // fixed wait between attempts
	Timeout time.Duration // per attempt
}

// WebhookSender posts observed rows to a configured sink with a fixed
// retry budget. One instance serves all rows; attempts for different
// rows may interleave.
type WebhookSender struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *Breaker
	logger  *zap.Logger
}

// NewWebhookSender creates a sender. A nil breaker disables fast-fail.
func NewWebhookSender(cfg WebhookConfig, breaker *Breaker, logger *zap.Logger) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.Timeout = timeout

	return &WebhookSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Deliver posts msg under the given event name, retrying on non-success
// status and transport errors with a fixed backoff. Returns the number
// of attempts made and a *DeliveryError once the budget is spent.
func (s *WebhookSender) Deliver(ctx context.Context, event string, msg *chatdb.Message) (int, error) {
	body, err := json.Marshal(Envelope{
		Event:       event,
		Message:     projectRow(msg),
		DeliveredAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("fanout: marshal envelope: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.cfg.Backoff):
			case <-ctx.Done():
				return attempts, &DeliveryError{URL: s.cfg.URL, Attempts: attempts, Last: ctx.Err()}
			}
		}

		if s.breaker != nil && !s.breaker.Allow() {
			lastErr = ErrBreakerOpen
			break
		}

		attempts++
		err := s.post(ctx, body)
		if err == nil {
			metrics.RecordWebhookAttempt("success")
			if s.breaker != nil {
				s.breaker.RecordSuccess()
			}
			s.logger.Debug("webhook delivered",
				zap.Int64("row_id", msg.RowID),
				zap.Int("attempts", attempts),
			)
			return attempts, nil
		}

		metrics.RecordWebhookAttempt("failure")
		if s.breaker != nil {
			s.breaker.RecordFailure()
		}
		lastErr = err
		s.logger.Warn("webhook attempt failed",
			zap.Int64("row_id", msg.RowID),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
	}

	metrics.RecordWebhookDeliveryFailure()
	return attempts, &DeliveryError{URL: s.cfg.URL, Attempts: attempts, Last: lastErr}
}

// post runs one attempt under its own deadline so a hung sink aborts
// that attempt only.
func (s *WebhookSender) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "echobridge/1.0")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status %d: %s", resp.StatusCode, string(preview))
	}
	return nil
}
