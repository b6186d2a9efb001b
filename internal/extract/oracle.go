// Package extract adapts a language model into the extraction oracle: it sends
// a chunk of transcript text, recovers JSON from the reply and normalizes it
// into typed candidates.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/lorekeeper/internal/llm"
	"github.com/raphaelgruber/lorekeeper/internal/metrics"
	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// Result holds the candidates of one chunk by entity type.
type Result map[models.EntityType][]models.Candidate

// All flattens the result in entity type order.
func (r Result) All() []models.Candidate {
	var out []models.Candidate
	for _, t := range models.EntityTypes {
		out = append(out, r[t]...)
	}
	return out
}

// Count returns the total number of candidates.
func (r Result) Count() int {
	n := 0
	for _, cs := range r {
		n += len(cs)
	}
	return n
}

// Oracle turns a chunk of transcript text into candidate entities.
// Malformed model output yields an empty result, not an error.
type Oracle interface {
	Extract(ctx context.Context, text string) (Result, error)
}

// Generator produces the raw model reply for a transcript excerpt.
type Generator interface {
	ExtractEntities(ctx context.Context, transcript string) (llm.Generation, error)
}

// LLMOracle is the Oracle backed by a language model.
type LLMOracle struct {
	gen     Generator
	timeout time.Duration
	metrics *metrics.Collector
}

// NewLLMOracle creates an oracle. timeout bounds each call; zero means no limit.
func NewLLMOracle(gen Generator, timeout time.Duration, mc *metrics.Collector) *LLMOracle {
	return &LLMOracle{gen: gen, timeout: timeout, metrics: mc}
}

// Extract calls the model once for text. Errors wrapping llm.ErrFatalAPI are passed through.
func (o *LLMOracle) Extract(ctx context.Context, text string) (Result, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	gen, err := o.gen.ExtractEntities(ctx, text)
	if err != nil {
		o.metrics.RecordFailure(metrics.OpExtract, time.Since(start))
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	o.metrics.RecordLLMUsage(metrics.OpExtract, time.Since(start), gen.InputTokens, gen.OutputTokens)

	raw, ok := ParseResponse(gen.Content)
	if !ok {
		slog.Warn("oracle returned no usable JSON, treating chunk as empty", "response_len", len(gen.Content))
		return Result{}, nil
	}
	return Normalize(raw, text), nil
}
