// Package rag answers questions about ingested logs with
// retrieval-augmented generation.
//
// Ask runs a fixed pipeline: embed the question, retrieve the nearest
// log events, assemble a character-budgeted context block, generate an
// answer grounded in that block. Failures before generation are
// returned to the caller as errors; a generation failure instead
// produces Answer{Degraded: true} with a stock message, so a flaky
// model provider degrades the answer rather than the request.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/search"
)

// searcher is the slice of *search.Engine the orchestrator needs.
type searcher interface {
	Search(ctx context.Context, vector []float32, topK int, f search.Filters) ([]search.Result, error)
}

// Answer is a generated reply with the log events it cites.
type Answer struct {
	Text     string   `json:"answer"`
	Sources  []Source `json:"sources,omitempty"`
	Degraded bool     `json:"degraded"`
}

// Source is one cited log event, in retrieval rank order.
type Source struct {
	ID       int64   `json:"id"`
	Message  string  `json:"message"`
	RawLine  string  `json:"raw_line,omitempty"`
	Distance float64 `json:"distance"`
}

// DegradedAnswerText is the reply when generation fails after retries.
const DegradedAnswerText = "I hit an error fetching the answer."

// Defaults applied by New for zero Config fields.
const (
	DefaultTopK            = 5
	DefaultMaxContextChars = 8192
	DefaultTimeout         = 30 * time.Second
)

// Config tunes the pipeline. Zero fields fall back to the defaults
// above; ModelName is required.
type Config struct {
	ModelName       string
	TopK            int           // retrieval depth when the caller does not override
	MaxContextChars int           // context block character budget
	Timeout         time.Duration // bound on each external call (embed, generate)
	Retry           RetryConfig
	RateLimiter     *rate.Limiter // nil = default limiter
}

// Engine orchestrates retrieval-augmented answers. It is safe for
// concurrent use.
type Engine struct {
	g        *genkit.Genkit
	embedder *embed.Provider
	searcher searcher
	logger   *slog.Logger

	modelName       string
	topK            int
	maxContextChars int
	timeout         time.Duration
	retry           RetryConfig
	limiter         *rate.Limiter
}

// New creates the orchestrator.
func New(g *genkit.Genkit, embedder *embed.Provider, s searcher, cfg Config, logger *slog.Logger) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if s == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	maxChars := cfg.MaxContextChars
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		// 10 requests/sec sustained, burst of 30.
		limiter = rate.NewLimiter(10, 30)
	}

	return &Engine{
		g:               g,
		embedder:        embedder,
		searcher:        s,
		logger:          logger,
		modelName:       cfg.ModelName,
		topK:            topK,
		maxContextChars: maxChars,
		timeout:         timeout,
		retry:           retry,
		limiter:         limiter,
	}, nil
}

// AskOption adjusts a single Ask call.
type AskOption func(*askConfig)

type askConfig struct {
	topK    int
	filters search.Filters
}

// WithTopK overrides the retrieval depth for one question.
func WithTopK(k int) AskOption {
	return func(c *askConfig) { c.topK = k }
}

// WithFilters narrows retrieval for one question.
func WithFilters(f search.Filters) AskOption {
	return func(c *askConfig) { c.filters = f }
}

// Ask answers question from the ingested logs. The returned Answer
// cites exactly the events rendered into the model's context. A model
// failure is reported in-band: Degraded is true, the error is nil and
// Sources are absent. Errors from embedding or retrieval are returned
// as errors.
func (e *Engine) Ask(ctx context.Context, question string, opts ...AskOption) (*Answer, error) {
	cfg := askConfig{topK: e.topK}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()

	embedCtx, cancel := context.WithTimeout(ctx, e.timeout)
	vector, err := e.embedder.Embed(embedCtx, question)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	results, err := e.searcher.Search(ctx, vector, cfg.topK, cfg.filters)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	contextBlock, cited := buildContext(results, e.maxContextChars)
	if dropped := len(results) - len(cited); dropped > 0 {
		e.logger.Debug("context budget dropped candidates",
			"dropped", dropped,
			"kept", len(cited))
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	resp, err := e.generate(genCtx, question, contextBlock)
	if err != nil {
		if errors.Is(err, ErrGeneration) {
			e.logger.Warn("generation failed, answering degraded",
				"error", err,
				"candidates", len(cited))
			return &Answer{Text: DegradedAnswerText, Degraded: true}, nil
		}
		return nil, err
	}

	answer := &Answer{
		Text:    strings.TrimSpace(resp.Text()),
		Sources: sources(cited),
	}
	e.logger.Debug("question answered",
		"top_k", cfg.topK,
		"sources", len(answer.Sources),
		"elapsed", time.Since(start))
	return answer, nil
}

func (e *Engine) generate(ctx context.Context, question, contextBlock string) (*ai.ModelResponse, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(e.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(buildPrompt(question, contextBlock)))),
	}
	return e.generateWithRetry(ctx, opts)
}

func sources(results []search.Result) []Source {
	if len(results) == 0 {
		return nil
	}
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{
			ID:       r.ID,
			Message:  r.Message,
			RawLine:  r.RawLine,
			Distance: r.Distance,
		}
	}
	return out
}
