package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/mindpalace/internal/annotator"
	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
	"github.com/fyrsmithlabs/mindpalace/internal/store"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

type fakeLister struct {
	thoughts []*thought.Thought
	err      error
}

func (f *fakeLister) List(context.Context) ([]*thought.Thought, error) {
	return f.thoughts, f.err
}

type fakeSubmitter struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, content string) (*thought.Thought, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, content)
	if f.err != nil {
		return nil, f.err
	}
	if err := thought.ValidateContent(content); err != nil {
		return nil, err
	}
	return &thought.Thought{ID: int64(len(f.contents)), Content: content, CreatedAt: time.Unix(1700000000, 0).UTC()}, nil
}

type fakeAnnotator struct {
	insight string
	err     error
	gotID   int64
	gotText string
}

func (f *fakeAnnotator) Annotate(_ context.Context, id int64, text string) (string, error) {
	f.gotID, f.gotText = id, text
	return f.insight, f.err
}

// chanStream is a liveview.Stream fed by the test.
type chanStream struct {
	events       chan thought.ChangeEvent
	unsubscribed atomic.Bool
}

func (s *chanStream) Events() <-chan thought.ChangeEvent { return s.events }

func (s *chanStream) Unsubscribe() error {
	s.unsubscribed.Store(true)
	return nil
}

func streamSubscriber(s *chanStream) liveview.Subscriber {
	return liveview.SubscriberFunc(func(context.Context) (liveview.Stream, error) {
		return s, nil
	})
}

type testDeps struct {
	lister    *fakeLister
	submitter *fakeSubmitter
	annotator *fakeAnnotator
	stream    *chanStream
}

func newTestServer(t *testing.T, logger *zap.Logger) (*Server, *testDeps) {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	td := &testDeps{
		lister:    &fakeLister{},
		submitter: &fakeSubmitter{},
		annotator: &fakeAnnotator{},
		stream:    &chanStream{events: make(chan thought.ChangeEvent, 4)},
	}
	srv, err := NewServer(Deps{
		Thoughts:  td.lister,
		Submitter: td.submitter,
		Annotator: td.annotator,
		Changes:   streamSubscriber(td.stream),
	}, logger, &Config{Host: "127.0.0.1", Heartbeat: 20 * time.Millisecond})
	require.NoError(t, err)
	return srv, td
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	full := Deps{
		Thoughts:  &fakeLister{},
		Submitter: &fakeSubmitter{},
		Annotator: &fakeAnnotator{},
		Changes:   streamSubscriber(&chanStream{}),
	}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		srv, err := NewServer(full, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, 3000, srv.config.Port)
		assert.Equal(t, defaultShutdownTimeout, srv.config.ShutdownTimeout)
		assert.Equal(t, defaultHeartbeat, srv.config.Heartbeat)
		assert.NotNil(t, srv.Echo())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(full, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when a dependency is missing", func(t *testing.T) {
		for name, mutate := range map[string]func(*Deps){
			"thoughts":  func(d *Deps) { d.Thoughts = nil },
			"submitter": func(d *Deps) { d.Submitter = nil },
			"annotator": func(d *Deps) { d.Annotator = nil },
			"changes":   func(d *Deps) { d.Changes = nil },
		} {
			deps := full
			mutate(&deps)
			_, err := NewServer(deps, zap.NewNop(), nil)
			assert.Error(t, err, name)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"mindpalace"}`, rec.Body.String())
}

func TestHandleMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleAnalyze(t *testing.T) {
	t.Run("returns insight", func(t *testing.T) {
		srv, td := newTestServer(t, nil)
		td.annotator.insight = "Deploy before the heat death."

		rec := doJSON(t, srv, http.MethodPost, "/api/analyze", `{"thoughtId":42,"content":"ship it"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"insight":"Deploy before the heat death."}`, rec.Body.String())
		assert.Equal(t, int64(42), td.annotator.gotID)
		assert.Equal(t, "ship it", td.annotator.gotText)
	})

	failures := []struct {
		name      string
		err       error
		body      string
		class     string
		thoughtID bool
	}{
		{"upstream", fmt.Errorf("%w: 503", annotator.ErrUpstream), `{"thoughtId":42,"content":"ship it"}`, "upstream", true},
		{"store", fmt.Errorf("%w: %w", annotator.ErrStore, store.ErrNotFound), `{"thoughtId":42,"content":"ship it"}`, "store", true},
		{"invalid", fmt.Errorf("%w: content is empty", annotator.ErrInvalidRequest), `{"thoughtId":42,"content":"  "}`, "invalid_request", true},
		{"malformed json", nil, `{"thoughtId":"forty-two"`, "invalid_request", false},
		{"wrong type", nil, `{"thoughtId":"42","content":"x"}`, "invalid_request", false},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			srv, td := newTestServer(t, zap.New(core))
			td.annotator.err = tt.err

			rec := doJSON(t, srv, http.MethodPost, "/api/analyze", tt.body)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"Brain failure"}`, rec.Body.String())

			entries := logs.FilterMessage("analyze failed").All()
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, tt.class, fields["class"])
			if tt.thoughtID {
				assert.Equal(t, int64(42), fields["thought.id"])
			} else {
				assert.NotContains(t, fields, "thought.id")
			}
		})
	}
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "unknown", errorClass(errors.New("boom")))
	assert.Equal(t, "store", errorClass(fmt.Errorf("wrap: %w", annotator.ErrStore)))
}

func TestHandleListThoughts(t *testing.T) {
	t.Run("empty list encodes as array", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/thoughts", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("returns thoughts in store order", func(t *testing.T) {
		srv, td := newTestServer(t, nil)
		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		td.lister.thoughts = []*thought.Thought{
			{ID: 2, Content: "second", CreatedAt: at, AIInsight: thought.StringPtr("noted")},
			{ID: 1, Content: "first", CreatedAt: at},
		}

		rec := doJSON(t, srv, http.MethodGet, "/api/thoughts", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var got []thought.Thought
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, int64(2), got[0].ID)
		assert.Equal(t, "noted", got[0].Insight())
		assert.False(t, got[1].HasInsight())
	})

	t.Run("store failure", func(t *testing.T) {
		srv, td := newTestServer(t, nil)
		td.lister.err = errors.New("disk gone")

		rec := doJSON(t, srv, http.MethodGet, "/api/thoughts", "")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk gone")
	})
}

func TestHandleSubmitThought(t *testing.T) {
	t.Run("creates thought", func(t *testing.T) {
		srv, td := newTestServer(t, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/thoughts", `{"content":"  ship it  "}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		var got thought.Thought
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "  ship it  ", got.Content)
		assert.Equal(t, []string{"  ship it  "}, td.submitter.contents)
	})

	t.Run("blank content is rejected", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/thoughts", `{"content":"   "}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"content is required"}`, rec.Body.String())
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, td := newTestServer(t, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/thoughts", `{"content":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, td.submitter.contents)
	})

	t.Run("insert failure", func(t *testing.T) {
		srv, td := newTestServer(t, nil)
		td.submitter.err = errors.New("database is locked")

		rec := doJSON(t, srv, http.MethodPost, "/api/thoughts", `{"content":"x"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"failed to save thought"}`, rec.Body.String())
	})
}

// readEvent reads one SSE block, skipping heartbeats.
func readEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestHandleStream(t *testing.T) {
	srv, td := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/thoughts/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": heartbeat\n", line)

	td.stream.events <- thought.NewChangeEvent(thought.EventInsert,
		&thought.Thought{ID: 7, Content: "ship it", CreatedAt: time.Unix(0, 0).UTC()}, nil)

	event, data := readEvent(t, r)
	assert.Equal(t, "INSERT", event)
	var ev thought.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, thought.EventInsert, ev.Type)
	require.NotNil(t, ev.New)
	assert.Equal(t, int64(7), ev.New.ID)

	cancel()
	assert.Eventually(t, td.stream.unsubscribed.Load, time.Second, 10*time.Millisecond)
}

func TestHandleStream_EndsWhenStreamCloses(t *testing.T) {
	srv, td := newTestServer(t, nil)
	close(td.stream.events)

	rec := doJSON(t, srv, http.MethodGet, "/api/thoughts/stream", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, td.stream.unsubscribed.Load())
}

func TestHandleStream_SubscribeFailure(t *testing.T) {
	srv, err := NewServer(Deps{
		Thoughts:  &fakeLister{},
		Submitter: &fakeSubmitter{},
		Annotator: &fakeAnnotator{},
		Changes: liveview.SubscriberFunc(func(context.Context) (liveview.Stream, error) {
			return nil, errors.New("nats: no servers available")
		}),
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/api/thoughts/stream", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.config.Port = 0
	srv.config.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Echo().ListenerAddr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Echo().ListenerAddr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
