// Package feed is the change feed: committed row changes published on
// NATS and delivered to any number of subscribers.
//
// Events are published to subjects:
//   - changes.{table}.insert
//   - changes.{table}.update
//   - changes.{table}.delete
//
// Delivery is at-least-once from the subscriber's point of view; a
// subscriber should merge by id rather than assume exactly-once.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/config"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// ErrInvalidEvent is returned when publishing an event with an unknown
// type or no table.
var ErrInvalidEvent = errors.New("invalid change event")

const subscriptionBuffer = 64

// Feed publishes and subscribes to change events over a NATS connection.
type Feed struct {
	nc     *nats.Conn
	owned  bool
	logger *zap.Logger
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{nc: nc, logger: logger}
}

// Connect dials url and returns a Feed that owns the connection.
// A non-empty token authenticates the client.
func Connect(url string, token config.Secret, logger *zap.Logger) (*Feed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("mindpalace"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("change feed disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("change feed reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	if token.IsSet() {
		opts = append(opts, nats.Token(token.Value()))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to change feed at %s: %w", url, err)
	}
	f := New(nc, logger)
	f.owned = true
	return f, nil
}

// Close drains the connection if the Feed owns it.
func (f *Feed) Close() error {
	if !f.owned || f.nc == nil {
		return nil
	}
	if err := f.nc.Drain(); err != nil {
		f.nc.Close()
		return fmt.Errorf("drain change feed: %w", err)
	}
	return nil
}

// Connected reports whether the underlying connection is usable.
func (f *Feed) Connected() bool {
	return f.nc != nil && f.nc.IsConnected()
}

// Subject returns the subject events of typ on table are published to.
func Subject(table string, typ thought.EventType) string {
	return fmt.Sprintf("changes.%s.%s", table, typ.Subject())
}

// Publish sends ev to its subject.
func (f *Feed) Publish(ctx context.Context, ev thought.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ev.Type.Valid() || ev.Table == "" {
		PublishErrors.Inc()
		return fmt.Errorf("%w: type %q table %q", ErrInvalidEvent, ev.Type, ev.Table)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		PublishErrors.Inc()
		return fmt.Errorf("marshal change event: %w", err)
	}

	if err := f.nc.Publish(Subject(ev.Table, ev.Type), data); err != nil {
		PublishErrors.Inc()
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}

	EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	f.logger.Debug("change event published",
		zap.String("event_id", ev.EventID),
		zap.String("type", string(ev.Type)),
		zap.String("table", ev.Table),
	)
	return nil
}

// Subscribe delivers events for table. With no event types every change
// on the table is delivered. The subscription ends when ctx is done or
// Unsubscribe is called; either way the Events channel is closed.
func (f *Feed) Subscribe(ctx context.Context, table string, events ...thought.EventType) (*Subscription, error) {
	if table == "" {
		return nil, fmt.Errorf("subscribe: table is required")
	}

	subjects := []string{fmt.Sprintf("changes.%s.*", table)}
	if len(events) > 0 {
		subjects = subjects[:0]
		for _, e := range events {
			if !e.Valid() {
				return nil, fmt.Errorf("subscribe: %w: type %q", ErrInvalidEvent, e)
			}
			subjects = append(subjects, Subject(table, e))
		}
	}

	msgs := make(chan *nats.Msg, subscriptionBuffer)
	s := &Subscription{
		events:   make(chan thought.ChangeEvent, subscriptionBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		logger:   f.logger,
	}
	for _, subject := range subjects {
		sub, err := f.nc.ChanSubscribe(subject, msgs)
		if err != nil {
			s.stop()
			close(s.events)
			close(s.finished)
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	// Make sure the server has registered the interest before returning so
	// that a write made right after Subscribe is not missed.
	if err := f.nc.Flush(); err != nil {
		f.logger.Warn("change feed flush after subscribe failed", zap.Error(err))
	}

	ActiveSubscriptions.Inc()
	go s.run(ctx, msgs)
	return s, nil
}

// Subscription is a live stream of change events.
type Subscription struct {
	subs     []*nats.Subscription
	events   chan thought.ChangeEvent
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
	unsubErr error
	logger   *zap.Logger
}

// Events returns the delivery channel. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan thought.ChangeEvent {
	return s.events
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.finished
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	s.stop()
	<-s.finished
	return s.unsubErr
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && s.unsubErr == nil {
				s.unsubErr = err
			}
		}
		close(s.done)
	})
}

func (s *Subscription) run(ctx context.Context, msgs <-chan *nats.Msg) {
	defer close(s.finished)
	defer close(s.events)
	defer ActiveSubscriptions.Dec()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.stop()
			return
		case msg := <-msgs:
			ev, err := decode(msg)
			if err != nil {
				DecodeErrors.Inc()
				s.logger.Warn("dropping undecodable change event",
					zap.String("subject", msg.Subject), zap.Error(err))
				continue
			}
			select {
			case s.events <- ev:
				EventsDelivered.Inc()
			case <-s.done:
				return
			case <-ctx.Done():
				s.stop()
				return
			}
		}
	}
}

func decode(msg *nats.Msg) (thought.ChangeEvent, error) {
	var ev thought.ChangeEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal: %w", err)
	}
	// Subject is authoritative for the type if the payload omitted it.
	if ev.Type == "" {
		parts := strings.Split(msg.Subject, ".")
		if len(parts) == 3 {
			ev.Type = thought.EventType(strings.ToUpper(parts[2]))
		}
	}
	if !ev.Type.Valid() {
		return ev, fmt.Errorf("%w: type %q", ErrInvalidEvent, ev.Type)
	}
	return ev, nil
}
