// Package liveview keeps a local, newest-first projection of all thoughts
// and converges it with the Record Store through the change feed.
//
// Open subscribes before loading, so a change that races the initial
// load is still seen; Apply merges by id, so seeing it twice is harmless.
package liveview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/mindpalace/internal/feed"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// ErrClosed is returned by Next once the view is closed or its stream
// has ended.
var ErrClosed = errors.New("live view closed")

// Lister loads all thoughts newest first.
type Lister interface {
	List(ctx context.Context) ([]*thought.Thought, error)
}

// Stream is an open change subscription.
type Stream interface {
	Events() <-chan thought.ChangeEvent
	Unsubscribe() error
}

// Subscriber opens a change stream for the thoughts table.
type Subscriber interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context) (Stream, error)

// Subscribe calls f.
func (f SubscriberFunc) Subscribe(ctx context.Context) (Stream, error) {
	return f(ctx)
}

// FeedSubscriber subscribes to every change on the thoughts table.
func FeedSubscriber(f *feed.Feed) Subscriber {
	return SubscriberFunc(func(ctx context.Context) (Stream, error) {
		sub, err := f.Subscribe(ctx, thought.Table)
		if err != nil {
			return nil, err
		}
		return sub, nil
	})
}

// View is a live list of thoughts.
type View struct {
	lister     Lister
	subscriber Subscriber

	mu       sync.Mutex
	thoughts []*thought.Thought
	stream   Stream
	closed   bool
}

// New creates a View. Call Open before reading.
func New(lister Lister, subscriber Subscriber) *View {
	return &View{lister: lister, subscriber: subscriber}
}

// Open subscribes to the change feed and then loads the current list.
func (v *View) Open(ctx context.Context) error {
	stream, err := v.subscriber.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}

	list, err := v.lister.List(ctx)
	if err != nil {
		_ = stream.Unsubscribe()
		return fmt.Errorf("load thoughts: %w", err)
	}

	loaded := make([]*thought.Thought, 0, len(list))
	for _, t := range list {
		loaded = append(loaded, t.Clone())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.stream = stream
	v.thoughts = loaded
	v.closed = false
	return nil
}

// Next waits for the next change, applies it and returns it.
func (v *View) Next(ctx context.Context) (thought.ChangeEvent, error) {
	v.mu.Lock()
	stream, closed := v.stream, v.closed
	v.mu.Unlock()
	if stream == nil || closed {
		return thought.ChangeEvent{}, ErrClosed
	}

	select {
	case ev, ok := <-stream.Events():
		if !ok {
			return thought.ChangeEvent{}, ErrClosed
		}
		v.Apply(ev)
		return ev, nil
	case <-ctx.Done():
		return thought.ChangeEvent{}, ctx.Err()
	}
}

// Apply folds one change into the list and reports whether it changed.
//
//   - INSERT prepends the new row, or merges it if the id is present.
//   - UPDATE merges into the row with the same id; unknown ids are ignored.
//   - DELETE and changes to other tables are ignored.
func (v *View) Apply(ev thought.ChangeEvent) bool {
	if ev.Table != thought.Table || ev.New == nil {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Type {
	case thought.EventInsert:
		if existing := v.find(ev.New.ID); existing != nil {
			existing.Merge(ev.New)
			return true
		}
		v.thoughts = append([]*thought.Thought{ev.New.Clone()}, v.thoughts...)
		return true
	case thought.EventUpdate:
		existing := v.find(ev.New.ID)
		if existing == nil {
			return false
		}
		existing.Merge(ev.New)
		return true
	default:
		return false
	}
}

func (v *View) find(id int64) *thought.Thought {
	for _, t := range v.thoughts {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Thoughts returns a copy of the current list, newest first.
func (v *View) Thoughts() []*thought.Thought {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*thought.Thought, len(v.thoughts))
	for i, t := range v.thoughts {
		out[i] = t.Clone()
	}
	return out
}

// Close releases the subscription. Safe to call more than once.
func (v *View) Close() error {
	v.mu.Lock()
	stream, closed := v.stream, v.closed
	v.closed = true
	v.mu.Unlock()

	if stream == nil || closed {
		return nil
	}
	return stream.Unsubscribe()
}
