// Package annotator turns a thought into a short machine insight and
// writes it back to the Record Store.
//
// One call to Annotate makes one completion request and at most one
// store update. There is no idempotency key: annotating the same thought
// twice produces two completions and the last write wins, unless the
// single-writer guard is enabled.
package annotator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/config"
	"github.com/fyrsmithlabs/mindpalace/internal/logging"
	"github.com/fyrsmithlabs/mindpalace/internal/secrets"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// Error classes. Every error returned by Annotate wraps exactly one.
var (
	ErrInvalidRequest = errors.New("invalid annotation request")
	ErrUpstream       = errors.New("annotation service failure")
	ErrStore          = errors.New("insight store failure")
)

// DefaultPlaceholder is written when the service returns no content.
const DefaultPlaceholder = "The machine is lost in thought."

// DefaultSystemPrompt is the fixed instruction sent with every note.
const DefaultSystemPrompt = "You are a cyberpunk-style digital assistant. " +
	"Reply to the user's thought with one short, sharp remark that is slightly " +
	"philosophical or humorous. Keep it under 50 characters."

// InsightWriter persists an insight on an existing thought.
type InsightWriter interface {
	UpdateInsight(ctx context.Context, id int64, insight string) (*thought.Thought, error)
	UpdateInsightIfAbsent(ctx context.Context, id int64, insight string) (*thought.Thought, error)
}

// Config tunes annotation behaviour.
type Config struct {
	SystemPrompt string
	Placeholder  string

	// ScrubSecrets redacts credentials from the text before it is sent.
	ScrubSecrets bool

	// SingleWriter only writes when the thought has no insight yet.
	SingleWriter bool
}

// ConfigFromApp converts the ai config section.
func ConfigFromApp(c config.AIConfig) Config {
	return Config{
		SystemPrompt: c.SystemPrompt,
		Placeholder:  c.Placeholder,
		ScrubSecrets: c.ScrubSecrets,
		SingleWriter: c.SingleWriter,
	}
}

// Annotator requests insights and stores them.
type Annotator struct {
	completer Completer
	store     InsightWriter
	cfg       Config
	scrubber  *secrets.Scrubber
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Annotator) { a.logger = l }
}

// WithTracer sets the tracer used for annotation spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Annotator) { a.tracer = t }
}

// New creates an Annotator.
func New(completer Completer, store InsightWriter, cfg Config, opts ...Option) (*Annotator, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if store == nil {
		return nil, errors.New("insight store is required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}

	a := &Annotator{
		completer: completer,
		store:     store,
		cfg:       cfg,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/fyrsmithlabs/mindpalace/internal/annotator"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.ScrubSecrets {
		s, err := secrets.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create scrubber: %w", err)
		}
		a.scrubber = s
	}
	return a, nil
}

// Annotate asks the Annotation Service about text and stores the insight
// on thought id. It returns the insight that was written.
func (a *Annotator) Annotate(ctx context.Context, id int64, text string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "annotator.Annotate",
		trace.WithAttributes(attribute.Int64("thought.id", id)))
	defer span.End()
	ctx = logging.WithThoughtID(ctx, id)

	insight, result, err := a.annotate(ctx, id, text)
	AnnotationsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("annotation.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return insight, nil
}

func (a *Annotator) annotate(ctx context.Context, id int64, text string) (string, string, error) {
	if id <= 0 {
		return "", resultInvalid, fmt.Errorf("%w: thought id must be positive, got %d", ErrInvalidRequest, id)
	}
	if strings.TrimSpace(text) == "" {
		return "", resultInvalid, fmt.Errorf("%w: content is empty", ErrInvalidRequest)
	}

	if a.scrubber != nil {
		res := a.scrubber.Scrub(text)
		if res.HasFindings() {
			ScrubbedSecrets.Add(float64(len(res.Findings)))
			a.logger.Info("secrets redacted before completion",
				append(logging.ContextFields(ctx), zap.Strings("rules", res.RuleIDs()))...)
			text = res.Scrubbed
		}
	}

	start := time.Now()
	completion, err := a.completer.Complete(ctx, a.cfg.SystemPrompt, text)
	CompletionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", resultUpstream, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	result := resultSuccess
	insight := strings.TrimSpace(completion)
	if insight == "" {
		insight = a.cfg.Placeholder
		result = resultPlaceholder
	}

	write := a.store.UpdateInsight
	if a.cfg.SingleWriter {
		write = a.store.UpdateInsightIfAbsent
	}
	if _, err := write(ctx, id, insight); err != nil {
		return "", resultStore, fmt.Errorf("%w: %w", ErrStore, err)
	}

	a.logger.Debug("insight stored", append(logging.ContextFields(ctx),
		zap.String("result", result),
		zap.Int("chars", len(insight)),
	)...)
	return insight, result, nil
}
