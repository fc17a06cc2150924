package feed

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mindpalace/internal/config"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := StartEmbedded(EmbeddedOptions{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func newTestFeed(t *testing.T) *Feed {
	t.Helper()
	srv := startTestNATSServer(t)
	f, err := Connect(srv.ClientURL(), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func receive(t *testing.T, sub *Subscription) thought.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return thought.ChangeEvent{}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "changes.thoughts.insert", Subject("thoughts", thought.EventInsert))
	assert.Equal(t, "changes.thoughts.update", Subject("thoughts", thought.EventUpdate))
}

func TestPublishSubscribe(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, thought.Table)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	row := &thought.Thought{ID: 42, Content: "ship it", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.Publish(ctx, thought.NewChangeEvent(thought.EventInsert, row, nil)))

	row.AIInsight = thought.StringPtr("Entropy approves.")
	require.NoError(t, f.Publish(ctx, thought.NewChangeEvent(thought.EventUpdate, row, &thought.Thought{ID: 42})))

	first := receive(t, sub)
	assert.Equal(t, thought.EventInsert, first.Type)
	assert.Equal(t, int64(42), first.New.ID)
	assert.Nil(t, first.New.AIInsight)

	second := receive(t, sub)
	assert.Equal(t, thought.EventUpdate, second.Type)
	assert.Equal(t, "Entropy approves.", second.New.Insight())
	assert.Equal(t, int64(42), second.Old.ID)
}

func TestSubscribe_FiltersByEventType(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, thought.Table, thought.EventUpdate)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	row := &thought.Thought{ID: 1, Content: "a"}
	require.NoError(t, f.Publish(ctx, thought.NewChangeEvent(thought.EventInsert, row, nil)))
	require.NoError(t, f.Publish(ctx, thought.NewChangeEvent(thought.EventUpdate, row, nil)))

	ev := receive(t, sub)
	assert.Equal(t, thought.EventUpdate, ev.Type)
}

func TestSubscribe_OtherTableIgnored(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, thought.Table)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	other := thought.NewChangeEvent(thought.EventInsert, &thought.Thought{ID: 9}, nil)
	other.Table = "profiles"
	require.NoError(t, f.Publish(ctx, other))
	require.NoError(t, f.Publish(ctx, thought.NewChangeEvent(thought.EventInsert, &thought.Thought{ID: 1}, nil)))

	ev := receive(t, sub)
	assert.Equal(t, int64(1), ev.New.ID)
}

func TestSubscribe_InvalidArgs(t *testing.T) {
	f := newTestFeed(t)

	_, err := f.Subscribe(context.Background(), "")
	assert.Error(t, err)

	_, err = f.Subscribe(context.Background(), thought.Table, thought.EventType("TRUNCATE"))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestPublish_InvalidEvent(t *testing.T) {
	f := newTestFeed(t)

	err := f.Publish(context.Background(), thought.ChangeEvent{Type: "TRUNCATE", Table: thought.Table})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestPublish_CancelledContext(t *testing.T) {
	f := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Publish(ctx, thought.NewChangeEvent(thought.EventInsert, &thought.Thought{ID: 1}, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnsubscribe_ClosesChannelAndIsIdempotent(t *testing.T) {
	f := newTestFeed(t)

	sub, err := f.Subscribe(context.Background(), thought.Table)
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestSubscribe_EndsWithContext(t *testing.T) {
	f := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.Subscribe(ctx, thought.Table)
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop after context cancel")
	}
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestSubscribe_DropsUndecodable(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	f := New(nc, nil)
	sub, err := f.Subscribe(context.Background(), thought.Table)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, nc.Publish("changes.thoughts.insert", []byte("not json")))
	require.NoError(t, f.Publish(context.Background(), thought.NewChangeEvent(thought.EventInsert, &thought.Thought{ID: 3}, nil)))

	ev := receive(t, sub)
	assert.Equal(t, int64(3), ev.New.ID)
}

func TestStartEmbedded_Token(t *testing.T) {
	srv, err := StartEmbedded(EmbeddedOptions{Host: "127.0.0.1", Port: -1, Token: config.Secret("pub-key")})
	require.NoError(t, err)
	defer srv.Shutdown()

	_, err = nats.Connect(srv.ClientURL())
	assert.Error(t, err, "connection without token must be rejected")

	f, err := Connect(srv.ClientURL(), config.Secret("pub-key"), nil)
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, f.Connected())
}
