package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/logging"
)

// Annotator is the in-process annotation operation.
type Annotator interface {
	Annotate(ctx context.Context, id int64, text string) (string, error)
}

// AsyncDispatcher runs each annotation on its own goroutine.
//
// The goroutine uses a context detached from the submitter's, so a
// finished or abandoned request never cancels the annotation. Values on
// the context (trace, request id) are kept.
type AsyncDispatcher struct {
	annotator Annotator
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewAsyncDispatcher creates an AsyncDispatcher.
func NewAsyncDispatcher(a Annotator, logger *zap.Logger) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{annotator: a, logger: logger}
}

// Dispatch starts the annotation and returns immediately.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, req Request) {
	detached := logging.WithThoughtID(context.WithoutCancel(ctx), req.ThoughtID)
	d.wg.Add(1)
	InFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer InFlight.Dec()

		if _, err := d.annotator.Annotate(detached, req.ThoughtID, req.Content); err != nil {
			DispatchFailures.WithLabelValues("async").Inc()
			d.logger.Warn("annotation failed",
				append(logging.ContextFields(detached), zap.Error(err))...)
		}
	}()
}

// Wait blocks until in-flight annotations finish or ctx is done.
func (d *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for annotations: %w", ctx.Err())
	}
}

// HTTPDispatcher posts each request to a remote /api/analyze endpoint
// and does not wait for the reply.
type HTTPDispatcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewHTTPDispatcher targets baseURL, e.g. http://localhost:3000. A nil
// client uses one without a timeout.
func NewHTTPDispatcher(baseURL string, client *http.Client, logger *zap.Logger) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPDispatcher{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/analyze",
		client:   client,
		logger:   logger,
	}
}

// Dispatch fires the POST on a goroutine.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) {
	detached := logging.WithThoughtID(context.WithoutCancel(ctx), req.ThoughtID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.post(detached, req); err != nil {
			DispatchFailures.WithLabelValues("http").Inc()
			d.logger.Warn("remote annotation failed", append(logging.ContextFields(detached),
				zap.String("endpoint", d.endpoint),
				zap.Error(err),
			)...)
		}
	}()
}

func (d *HTTPDispatcher) post(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := logging.RequestIDFromContext(ctx); id != "" {
		httpReq.Header.Set("X-Request-Id", id)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Wait blocks until in-flight posts finish or ctx is done.
func (d *HTTPDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for remote annotations: %w", ctx.Err())
	}
}

// dispatchTimeout bounds Wait during shutdown when callers pass no deadline.
const dispatchTimeout = 30 * time.Second

// Drain waits for d with a default deadline if it supports waiting.
func Drain(ctx context.Context, d Dispatcher) error {
	w, ok := d.(interface{ Wait(context.Context) error })
	if !ok {
		return nil
	}
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()
	}
	return w.Wait(ctx)
}
