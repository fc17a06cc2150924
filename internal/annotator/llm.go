package annotator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/config"
)

// ErrNotConfigured is returned when the Annotation Service settings are
// missing or invalid at first use.
var ErrNotConfigured = errors.New("annotation service not configured")

// Completer produces one chat completion for a system instruction and a
// user message. An empty string means the service returned no content.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
}

// LLMConfig holds Annotation Service connection settings.
type LLMConfig struct {
	BaseURL     string
	APIKey      config.Secret
	Model       string
	Temperature float64

	// HTTPClient overrides the transport; nil uses the default client.
	HTTPClient *http.Client
}

// LLMConfigFromApp converts the ai config section.
func LLMConfigFromApp(c config.AIConfig) LLMConfig {
	return LLMConfig{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Temperature: c.Temperature,
	}
}

// Validate checks the settings needed to reach the service.
func (c LLMConfig) Validate() error {
	if !c.APIKey.IsSet() {
		return fmt.Errorf("%w: api key required", ErrNotConfigured)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrNotConfigured)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrNotConfigured)
	}
	return nil
}

// ConfigLoader returns the current Annotation Service settings. It is
// called on every initialization attempt, including the first one after
// Reset.
type ConfigLoader func() (LLMConfig, error)

// StaticConfig returns a loader that always yields cfg.
func StaticConfig(cfg LLMConfig) ConfigLoader {
	return func() (LLMConfig, error) { return cfg, nil }
}

// LLMClient is a Completer over an OpenAI-compatible chat completion API.
//
// The underlying client is built on first use under a mutex. A failed
// build is not cached; the next call tries again. Reset drops a built
// client so the next call reloads settings.
type LLMClient struct {
	load   ConfigLoader
	logger *zap.Logger

	mu          sync.Mutex
	llm         llms.Model
	temperature float64
	model       string
}

// NewLLMClient returns a client that defers configuration to first use.
func NewLLMClient(load ConfigLoader, logger *zap.Logger) *LLMClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClient{load: load, logger: logger}
}

// Reset discards the cached client. The next Complete reloads settings.
func (c *LLMClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.llm != nil {
		c.logger.Info("annotation service client reset")
	}
	c.llm, c.model, c.temperature = nil, "", 0
}

func (c *LLMClient) client() (llms.Model, string, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.llm != nil {
		return c.llm, c.model, c.temperature, nil
	}

	cfg, err := c.load()
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", 0, err
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	c.llm, c.model, c.temperature = llm, cfg.Model, cfg.Temperature
	c.logger.Info("annotation service client initialized",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
	)
	return c.llm, c.model, c.temperature, nil
}

// Complete sends one non-streaming chat completion.
func (c *LLMClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	llm, model, temperature, err := c.client()
	if err != nil {
		return "", err
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userText),
	}
	resp, err := llm.GenerateContent(ctx, messages,
		llms.WithModel(model),
		llms.WithTemperature(temperature),
	)
	if isEmptyResponse(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

// emptyResponseText is the message of the openai client's internal
// sentinel for a reply with no choices. That error is not exported and
// reaches callers unwrapped.
const emptyResponseText = "empty response"

func isEmptyResponse(err error) bool {
	if errors.Is(err, openai.ErrEmptyResponse) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if e.Error() == emptyResponseText {
			return true
		}
	}
	return false
}
