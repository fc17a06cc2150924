// Package submission accepts a new thought, stores it and hands it to the
// annotator without waiting for the result.
package submission

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/logging"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// Inserter creates thoughts.
type Inserter interface {
	Insert(ctx context.Context, content string) (*thought.Thought, error)
}

// Request asks for one thought to be annotated.
type Request struct {
	ThoughtID int64  `json:"thoughtId"`
	Content   string `json:"content"`
}

// Dispatcher starts an annotation and returns immediately. Outcomes are
// never reported back to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request)
}

// Flow is the submission pipeline.
type Flow struct {
	store      Inserter
	dispatcher Dispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewFlow creates a Flow. A nil logger discards output.
func NewFlow(store Inserter, dispatcher Dispatcher, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer("github.com/fyrsmithlabs/mindpalace/internal/submission"),
	}
}

// Submit stores content as a new thought and dispatches its annotation.
// Blank content returns thought.ErrEmptyContent without touching the
// store. An insert failure is returned and nothing is dispatched.
func (f *Flow) Submit(ctx context.Context, content string) (*thought.Thought, error) {
	ctx, span := f.tracer.Start(ctx, "submission.Submit")
	defer span.End()

	if err := thought.ValidateContent(content); err != nil {
		SubmissionsTotal.WithLabelValues("empty").Inc()
		span.SetStatus(codes.Error, "empty content")
		return nil, err
	}

	t, err := f.store.Insert(ctx, content)
	if err != nil {
		SubmissionsTotal.WithLabelValues("store_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		if errors.Is(err, thought.ErrEmptyContent) {
			return nil, err
		}
		return nil, fmt.Errorf("store thought: %w", err)
	}

	span.SetAttributes(attribute.Int64("thought.id", t.ID))
	SubmissionsTotal.WithLabelValues("accepted").Inc()
	ctx = logging.WithThoughtID(ctx, t.ID)
	f.logger.Info("thought stored", logging.ContextFields(ctx)...)

	f.dispatcher.Dispatch(ctx, Request{ThoughtID: t.ID, Content: t.Content})
	return t, nil
}
