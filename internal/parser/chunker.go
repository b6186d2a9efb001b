package parser

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// ErrInvalidChunking reports a chunk configuration that cannot make progress.
var ErrInvalidChunking = errors.New("invalid chunk configuration")

// ChunkConfig defines windowing parameters.
type ChunkConfig struct {
	// Size: messages per chunk
	Size int
	// Overlap: trailing messages shared with the next chunk
	Overlap int
	// MaxChunks: chunks per scan, 0 for unlimited
	MaxChunks int
}

// Validate fails when the window cannot advance.
func (c ChunkConfig) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunking, c.Size)
	case c.Overlap < 0:
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidChunking, c.Overlap)
	case c.Size <= c.Overlap:
		return fmt.Errorf("%w: chunk size %d must exceed overlap %d", ErrInvalidChunking, c.Size, c.Overlap)
	case c.MaxChunks < 0:
		return fmt.Errorf("%w: max chunks %d must not be negative", ErrInvalidChunking, c.MaxChunks)
	}
	return nil
}

// stride is how far each chunk start advances.
func (c ChunkConfig) stride() int {
	return c.Size - c.Overlap
}

// Span is a half-open message range [Start, End).
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Window is the set of chunks one scan will process.
type Window struct {
	Spans         []Span `json:"spans"`
	StartIndex    int    `json:"start_index"`
	EndIndex      int    `json:"end_index"` // boundary actually covered; the next scan resumes here
	TotalMessages int    `json:"total_messages"`
	Truncated     bool   `json:"truncated"`
}

// Empty reports whether there is nothing to process.
func (w Window) Empty() bool {
	return len(w.Spans) == 0
}

// MessagesCovered returns the number of messages between start and the covered boundary.
func (w Window) MessagesCovered() int {
	return w.EndIndex - w.StartIndex
}

// Plan computes the chunk boundaries covering [start, total).
// Each chunk spans [s, min(s+Size, total)) and the next starts at s+Size-Overlap.
// When more than MaxChunks are needed, only the first MaxChunks are kept and
// EndIndex becomes start+MaxChunks*(Size-Overlap), clamped to total.
func Plan(total, start int, cfg ChunkConfig) (Window, error) {
	if err := cfg.Validate(); err != nil {
		return Window{}, err
	}
	if start < 0 {
		start = 0
	}
	w := Window{StartIndex: start, EndIndex: start, TotalMessages: total}
	if start >= total {
		return w, nil
	}

	for s := start; ; s += cfg.stride() {
		end := min(s+cfg.Size, total)
		w.Spans = append(w.Spans, Span{Start: s, End: end})
		if end >= total {
			break
		}
	}
	w.EndIndex = total

	if cfg.MaxChunks > 0 && len(w.Spans) > cfg.MaxChunks {
		w.Spans = w.Spans[:cfg.MaxChunks]
		w.EndIndex = min(start+cfg.MaxChunks*cfg.stride(), total)
		w.Truncated = true
	}
	return w, nil
}

// Render turns planned spans into text chunks. messages must be indexed by SequenceIndex.
func Render(w Window, messages []models.Message) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(w.Spans))
	for i, span := range w.Spans {
		end := min(span.End, len(messages))
		start := min(span.Start, end)
		chunks = append(chunks, models.NewChunk(i, span.Start, span.End, messages[start:end]))
	}
	return chunks
}
