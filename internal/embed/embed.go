// Package embed wraps a genkit ai.Embedder behind input validation and
// a pinned output dimension.
//
// Every vector leaving this package is exactly Config.Dim wide; a
// provider response of any other width fails with ErrDimensionMismatch
// rather than poisoning the vector column. VerifySchema performs the
// matching startup check against the database so a misconfigured
// deployment dies at boot, not on the first insert.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/logsift/logsift/internal/postgres"
)

// Config holds the provider settings.
type Config struct {
	// Dim is the required embedding dimensionality.
	Dim int

	// RequestDim asks the provider to produce exactly Dim dimensions
	// via genai.EmbedContentConfig. Only the Gemini plugin honors the
	// option; other providers must use a model that is natively Dim
	// wide.
	RequestDim bool
}

// Provider generates embeddings with a fixed dimensionality.
//
// Provider is safe for concurrent use by multiple goroutines.
type Provider struct {
	embedder ai.Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a Provider around a resolved genkit embedder.
func New(embedder ai.Embedder, cfg Config, logger *slog.Logger) (*Provider, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dim)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Dim returns the configured embedding dimensionality.
func (p *Provider) Dim() int {
	return p.cfg.Dim
}

// Embed returns the vector for a single text. Blank input fails with
// ErrInvalidInput before any provider call; a response of the wrong
// width fails with ErrDimensionMismatch. The same text and model always
// produce the same vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: blank text", ErrInvalidInput)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: p.options(),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != p.cfg.Dim {
		return nil, fmt.Errorf("%w: provider returned %d, want %d",
			ErrDimensionMismatch, len(vec), p.cfg.Dim)
	}
	return vec, nil
}

// EmbedBatch returns one vector per input text, in input order. The
// call is atomic: every text is validated up front, all documents go
// out in a single request, and any failure returns no vectors at all.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: blank text at index %d", ErrInvalidInput, i)
		}
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: p.options(),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding batch of %d: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts",
			len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != p.cfg.Dim {
			return nil, fmt.Errorf("%w: index %d returned %d, want %d",
				ErrDimensionMismatch, i, len(e.Embedding), p.cfg.Dim)
		}
		vecs[i] = e.Embedding
	}
	return vecs, nil
}

// VerifySchema checks that the log_event.embedding column was created
// with the configured dimension. A mismatch is a deployment error that
// must stop startup; per-request writes would otherwise fail opaquely.
func (p *Provider) VerifySchema(ctx context.Context, db *postgres.DB) error {
	var typmod int32
	err := db.QueryRow(ctx, `SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'log_event'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("reading embedding column type: %w", err)
	}

	if int(typmod) != p.cfg.Dim {
		return fmt.Errorf("%w: schema has vector(%d), configured dimension is %d",
			ErrDimensionMismatch, typmod, p.cfg.Dim)
	}

	p.logger.Debug("embedding schema verified", "dim", p.cfg.Dim)
	return nil
}

// options builds the per-request provider options. Gemini accepts an
// explicit output dimensionality; everyone else gets nil.
func (p *Provider) options() any {
	if !p.cfg.RequestDim {
		return nil
	}
	dim := int32(p.cfg.Dim)
	return &genai.EmbedContentConfig{OutputDimensionality: &dim}
}
