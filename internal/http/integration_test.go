package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/annotator"
	"github.com/fyrsmithlabs/mindpalace/internal/feed"
	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
	"github.com/fyrsmithlabs/mindpalace/internal/store"
	"github.com/fyrsmithlabs/mindpalace/internal/submission"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

type completerFunc func(ctx context.Context, systemPrompt, userText string) (string, error)

func (f completerFunc) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	return f(ctx, systemPrompt, userText)
}

type stack struct {
	store *store.Store
	ts    *httptest.Server
}

// newStack wires the real store, embedded feed, annotator and submission
// flow behind one test server. Annotations go back through /api/analyze.
func newStack(t *testing.T, complete completerFunc) *stack {
	t.Helper()

	ns, err := feed.StartEmbedded(feed.EmbeddedOptions{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	f, err := feed.Connect(ns.ClientURL(), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	st, err := store.Open(filepath.Join(t.TempDir(), "thoughts.db"), store.WithNotifier(f))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ann, err := annotator.New(complete, st, annotator.Config{})
	require.NoError(t, err)

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	dispatcher := submission.NewHTTPDispatcher(ts.URL, ts.Client(), zap.NewNop())
	t.Cleanup(func() { _ = dispatcher.Wait(context.Background()) })

	srv, err := NewServer(Deps{
		Thoughts:  st,
		Submitter: submission.NewFlow(st, dispatcher, zap.NewNop()),
		Annotator: ann,
		Changes:   liveview.FeedSubscriber(f),
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	handler = srv.Handler()

	return &stack{store: st, ts: ts}
}

func TestAnalyze_EndToEnd(t *testing.T) {
	s := newStack(t, func(_ context.Context, system, text string) (string, error) {
		assert.Equal(t, annotator.DefaultSystemPrompt, system)
		assert.Equal(t, "ship it", text)
		return "Deploy before the heat death.", nil
	})
	ctx := t.Context()

	for i := 1; i < 42; i++ {
		_, err := s.store.Insert(ctx, "filler")
		require.NoError(t, err)
	}
	target, err := s.store.Insert(ctx, "ship it")
	require.NoError(t, err)
	require.Equal(t, int64(42), target.ID)

	resp, err := s.ts.Client().Post(s.ts.URL+"/api/analyze", "application/json",
		strings.NewReader(`{"thoughtId":42,"content":"ship it"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body AnalyzeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "Deploy before the heat death.", body.Insight)

	got, err := s.store.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Deploy before the heat death.", got.Insight())
	assert.Equal(t, "ship it", got.Content)
}

func TestAnalyze_UnknownThoughtIsBrainFailure(t *testing.T) {
	s := newStack(t, func(context.Context, string, string) (string, error) {
		return "unused", nil
	})

	resp, err := s.ts.Client().Post(s.ts.URL+"/api/analyze", "application/json",
		strings.NewReader(`{"thoughtId":999,"content":"ghost"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Brain failure", body.Error)
}

func TestSubmit_StreamSeesInsertThenInsight(t *testing.T) {
	s := newStack(t, func(context.Context, string, string) (string, error) {
		return "Entropy approves.", nil
	})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ts.URL+"/api/thoughts/stream", nil)
	require.NoError(t, err)
	stream, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	resp, err := s.ts.Client().Post(s.ts.URL+"/api/thoughts", "application/json",
		strings.NewReader(`{"content":"ship it"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created thought.Thought
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.False(t, created.HasInsight())

	r := bufio.NewReader(stream.Body)

	event, data := readEvent(t, r)
	assert.Equal(t, "INSERT", event)
	var ins thought.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ins))
	assert.Equal(t, created.ID, ins.New.ID)

	event, data = readEvent(t, r)
	assert.Equal(t, "UPDATE", event)
	var upd thought.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &upd))
	assert.Equal(t, created.ID, upd.New.ID)
	assert.Equal(t, "Entropy approves.", upd.New.Insight())

	list, err := s.ts.Client().Get(s.ts.URL + "/api/thoughts")
	require.NoError(t, err)
	defer list.Body.Close()
	var thoughts []thought.Thought
	require.NoError(t, json.NewDecoder(list.Body).Decode(&thoughts))
	require.Len(t, thoughts, 1)
	assert.Equal(t, "Entropy approves.", thoughts[0].Insight())
}
