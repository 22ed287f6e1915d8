package fanout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/plugin"
)

type countingPlugin struct {
	name  string
	seen  int
	panic bool
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) OnMessage(ctx context.Context, msg *chatdb.Message) error {
	p.seen++
	if p.panic {
		panic("bad plugin")
	}
	return nil
}

func TestDispatchRoutesDirectAndGroup(t *testing.T) {
	var direct, group int
	d := NewDispatcher(nil, Callbacks{
		OnDirectMessage: func(*chatdb.Message) { direct++ },
		OnGroupMessage:  func(*chatdb.Message) { group++ },
	}, nil, zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), &chatdb.Message{RowID: 1}))
	require.NoError(t, d.Dispatch(context.Background(), &chatdb.Message{RowID: 2, IsGroup: true}))

	assert.Equal(t, 1, direct)
	assert.Equal(t, 1, group)
}

func TestDispatchRunsPluginsBeforeWebhook(t *testing.T) {
	host := plugin.NewHost(zap.NewNop())
	p := &countingPlugin{name: "counter"}
	host.Register(p)

	var event string
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	sender := NewWebhookSender(WebhookConfig{URL: sink.URL}, nil, zap.NewNop())
	d := NewDispatcher(host, Callbacks{
		OnGroupMessage: func(m *chatdb.Message) { event = EventGroupMessage },
	}, sender, zap.NewNop())

	err := d.Dispatch(context.Background(), &chatdb.Message{RowID: 3, IsGroup: true})
	require.NoError(t, err)
	assert.Equal(t, 1, p.seen)
	assert.Equal(t, EventGroupMessage, event)
}

func TestDispatchSurvivesPanickingConsumers(t *testing.T) {
	host := plugin.NewHost(zap.NewNop())
	host.Register(&countingPlugin{name: "volatile", panic: true})

	var called bool
	d := NewDispatcher(host, Callbacks{
		OnDirectMessage: func(*chatdb.Message) {
			called = true
			panic("callback bug")
		},
	}, nil, zap.NewNop())

	assert.NotPanics(t, func() {
		_ = d.Dispatch(context.Background(), &chatdb.Message{RowID: 4})
	})
	assert.True(t, called)
}

func TestDispatchReturnsWebhookDeliveryError(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()

	sender := NewWebhookSender(WebhookConfig{URL: sink.URL, Retries: 0}, nil, zap.NewNop())
	d := NewDispatcher(nil, Callbacks{}, sender, zap.NewNop())

	err := d.Dispatch(context.Background(), &chatdb.Message{RowID: 5})
	var dErr *DeliveryError
	assert.ErrorAs(t, err, &dErr)
}
