package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// maxEventSize caps one SSE line.
const maxEventSize = 1 << 20

// Stream is an open GET /api/thoughts/stream connection.
type Stream struct {
	events chan thought.ChangeEvent
	cancel context.CancelFunc
	body   interface{ Close() error }
	logger *zap.Logger

	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe opens the change stream. The stream ends when ctx is done,
// the server closes it, or Unsubscribe is called.
func (c *Client) Subscribe(ctx context.Context) (liveview.Stream, error) {
	return c.Stream(ctx)
}

// Stream is Subscribe with the concrete type.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/thoughts/stream", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening change stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &Stream{
		events: make(chan thought.ChangeEvent, 16),
		cancel: cancel,
		body:   resp.Body,
		logger: c.logger,
		done:   make(chan struct{}),
	}
	go s.run(ctx, bufio.NewScanner(resp.Body))
	return s, nil
}

// Events delivers change events; the channel closes when the stream ends.
func (s *Stream) Events() <-chan thought.ChangeEvent {
	return s.events
}

// Unsubscribe closes the connection and waits for the reader to exit.
// Safe to call more than once.
func (s *Stream) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	<-s.done
	return nil
}

// Err reports why the stream ended, or nil after a clean close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) run(ctx context.Context, scanner *bufio.Scanner) {
	defer close(s.done)
	defer close(s.events)

	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() == 0 {
				name = ""
				continue
			}
			ev, err := decodeEvent(name, data.String())
			name = ""
			data.Reset()
			if err != nil {
				s.logger.Warn("dropping malformed change event", zap.Error(err))
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.mu.Lock()
		s.err = fmt.Errorf("reading change stream: %w", err)
		s.mu.Unlock()
	}
}

func decodeEvent(name, data string) (thought.ChangeEvent, error) {
	var ev thought.ChangeEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Type == "" {
		ev.Type = thought.EventType(name)
	}
	if !ev.Type.Valid() {
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}
