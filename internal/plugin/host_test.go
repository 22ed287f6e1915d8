package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/chatdb"
)

type recordingPlugin struct {
	name  string
	calls []int64
	fail  error
	panic bool
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) OnMessage(ctx context.Context, msg *chatdb.Message) error {
	p.calls = append(p.calls, msg.RowID)
	if p.panic {
		panic("plugin exploded")
	}
	return p.fail
}

func TestOnMessageInvokesInRegistrationOrder(t *testing.T) {
	host := NewHost(zap.NewNop())

	var order []string
	first := &orderPlugin{name: "first", order: &order}
	second := &orderPlugin{name: "second", order: &order}
	host.Register(first)
	host.Register(second)

	host.OnMessage(context.Background(), &chatdb.Message{RowID: 1})
	assert.Equal(t, []string{"first", "second"}, order)
}

type orderPlugin struct {
	name  string
	order *[]string
}

func (p *orderPlugin) Name() string { return p.name }

func (p *orderPlugin) OnMessage(ctx context.Context, msg *chatdb.Message) error {
	*p.order = append(*p.order, p.name)
	return nil
}

func TestFailingPluginDoesNotStopOthers(t *testing.T) {
	host := NewHost(zap.NewNop())

	bad := &recordingPlugin{name: "bad", fail: errors.New("hook error")}
	good := &recordingPlugin{name: "good"}
	host.Register(bad)
	host.Register(good)

	host.OnMessage(context.Background(), &chatdb.Message{RowID: 7})

	assert.Equal(t, []int64{7}, bad.calls)
	assert.Equal(t, []int64{7}, good.calls, "plugin after a failing one must still run")
}

func TestPanickingPluginIsContained(t *testing.T) {
	host := NewHost(zap.NewNop())

	host.Register(&recordingPlugin{name: "volatile", panic: true})
	good := &recordingPlugin{name: "good"}
	host.Register(good)

	assert.NotPanics(t, func() {
		host.OnMessage(context.Background(), &chatdb.Message{RowID: 9})
	})
	assert.Equal(t, []int64{9}, good.calls)
}
