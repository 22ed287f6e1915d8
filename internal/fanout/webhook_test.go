package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
)

func testMessage() *chatdb.Message {
	return &chatdb.Message{
		RowID:   42,
		GUID:    "guid-42",
		ChatKey: "iMessage;-;+15550100",
		Handle:  "+15550100",
		Text:    "hi there",
		Time:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDeliverSucceedsFirstAttempt(t *testing.T) {
	var got Envelope
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	s := NewWebhookSender(WebhookConfig{
		URL:     sink.URL,
		Retries: 2,
		Backoff: 10 * time.Millisecond,
	}, nil, zap.NewNop())

	attempts, err := s.Deliver(context.Background(), EventDirectMessage, testMessage())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, EventDirectMessage, got.Event)
	assert.Equal(t, int64(42), got.Message.RowID)
	assert.Equal(t, "hi there", got.Message.Text)
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var calls int32
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	s := NewWebhookSender(WebhookConfig{
		URL:     sink.URL,
		Retries: 2,
		Backoff: 10 * time.Millisecond,
	}, nil, zap.NewNop())

	attempts, err := s.Deliver(context.Background(), EventDirectMessage, testMessage())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "fails twice, succeeds on the third attempt")
}

func TestDeliverExhaustsBudget(t *testing.T) {
	var calls int32
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()

	s := NewWebhookSender(WebhookConfig{
		URL:     sink.URL,
		Retries: 2,
		Backoff: time.Millisecond,
	}, nil, zap.NewNop())

	attempts, err := s.Deliver(context.Background(), EventDirectMessage, testMessage())
	require.Error(t, err)

	var dErr *DeliveryError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, dErr.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDeliverSendsCustomHeaders(t *testing.T) {
	var auth string
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	s := NewWebhookSender(WebhookConfig{
		URL:     sink.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
	}, nil, zap.NewNop())

	_, err := s.Deliver(context.Background(), EventDirectMessage, testMessage())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
}

func TestDeliverFastFailsWhenBreakerOpen(t *testing.T) {
	var calls int32
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()

	breaker := NewBreaker(BreakerConfig{MaxFailures: 2, RecoveryTimeout: time.Hour}, zap.NewNop())
	s := NewWebhookSender(WebhookConfig{
		URL:     sink.URL,
		Retries: 5,
		Backoff: time.Millisecond,
	}, breaker, zap.NewNop())

	_, err := s.Deliver(context.Background(), EventDirectMessage, testMessage())
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "breaker opens after 2 failures, stops retrying")
	assert.ErrorIs(t, err, ErrBreakerOpen)

	// Subsequent rows fail fast without touching the sink.
	_, err = s.Deliver(context.Background(), EventDirectMessage, testMessage())
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
