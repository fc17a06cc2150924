package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/annotator"
	"github.com/fyrsmithlabs/mindpalace/internal/config"
	"github.com/fyrsmithlabs/mindpalace/internal/logging"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// brainFailure is the only error body /api/analyze ever returns.
const brainFailure = "Brain failure"

// AnalyzeRequest is the request body for POST /api/analyze.
type AnalyzeRequest struct {
	ThoughtID int64  `json:"thoughtId"`
	Content   string `json:"content"`
}

// AnalyzeResponse is the success body for POST /api/analyze.
type AnalyzeResponse struct {
	Success bool   `json:"success"`
	Insight string `json:"insight"`
}

// SubmitRequest is the request body for POST /api/thoughts.
type SubmitRequest struct {
	Content string `json:"content"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: config.DefaultServiceName})
}

// handleAnalyze annotates one thought. Every failure, malformed input
// included, answers 500 with the same body; the cause is only logged.
func (s *Server) handleAnalyze(c echo.Context) error {
	ctx := c.Request().Context()

	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return s.analyzeFailed(c, fmt.Errorf("%w: %w", annotator.ErrInvalidRequest, err))
	}

	ctx = logging.WithThoughtID(ctx, req.ThoughtID)
	c.SetRequest(c.Request().WithContext(ctx))
	insight, err := s.deps.Annotator.Annotate(ctx, req.ThoughtID, req.Content)
	if err != nil {
		return s.analyzeFailed(c, err)
	}
	return c.JSON(http.StatusOK, AnalyzeResponse{Success: true, Insight: insight})
}

func (s *Server) analyzeFailed(c echo.Context, err error) error {
	fields := append(logging.ContextFields(c.Request().Context()),
		zap.String("class", errorClass(err)),
		zap.Error(err),
	)
	s.logger.Error("analyze failed", fields...)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: brainFailure})
}

// errorClass names the failure taxonomy bucket for logs.
func errorClass(err error) string {
	switch {
	case errors.Is(err, annotator.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, annotator.ErrUpstream):
		return "upstream"
	case errors.Is(err, annotator.ErrStore):
		return "store"
	default:
		return "unknown"
	}
}

func (s *Server) handleListThoughts(c echo.Context) error {
	list, err := s.deps.Thoughts.List(c.Request().Context())
	if err != nil {
		s.logger.Error("list thoughts failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load thoughts"})
	}
	if list == nil {
		list = []*thought.Thought{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleSubmitThought(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid submit request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	t, err := s.deps.Submitter.Submit(c.Request().Context(), req.Content)
	switch {
	case errors.Is(err, thought.ErrEmptyContent):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is required"})
	case err != nil:
		s.logger.Error("submit thought failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to save thought"})
	}
	return c.JSON(http.StatusCreated, t)
}
