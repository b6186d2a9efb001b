// Package source lists chat transcripts and reads their messages.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/raphaelgruber/lorekeeper/internal/parser"
)

// ErrSourceNotFound is returned when a source ID does not name a readable transcript.
var ErrSourceNotFound = errors.New("source not found")

// Reader provides the ordered messages of a source.
// Repeated calls for the same source must return the same sequence.
type Reader interface {
	ListMessages(ctx context.Context, sourceID string) ([]models.Message, error)
}

// Info describes one transcript on disk.
type Info struct {
	ID         string    `json:"id"` // slash-separated path relative to the chats directory
	Character  string    `json:"character"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Directory reads SillyTavern JSONL chats from a directory tree.
type Directory struct {
	root     string
	mappings map[string]string // chat file name or ID -> character file
}

// NewDirectory creates a reader rooted at dir. mappings pins chats to character files.
func NewDirectory(dir string, mappings map[string]string) *Directory {
	return &Directory{root: dir, mappings: mappings}
}

// Root returns the chats directory.
func (d *Directory) Root() string {
	return d.root
}

// ListSources walks the chats directory and returns all .jsonl transcripts sorted by ID.
func (d *Directory) ListSources(ctx context.Context) ([]Info, error) {
	var sources []Info
	walkFn := func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(p), ".jsonl") {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		sources = append(sources, Info{
			ID:         id,
			Character:  d.CharacterFor(id),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	}

	if err := filepath.WalkDir(d.root, walkFn); err != nil {
		return nil, fmt.Errorf("scan chats directory: %w", err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

// ListMessages reads and parses one transcript.
func (d *Directory) ListMessages(ctx context.Context, sourceID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.resolve(sourceID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	messages, err := parser.ParseTranscript(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", sourceID, err)
	}
	return messages, nil
}

// resolve maps a source ID to a file path, rejecting IDs that escape the root.
func (d *Directory) resolve(sourceID string) (string, error) {
	rel := filepath.FromSlash(sourceID)
	if sourceID == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: invalid source id %q", ErrSourceNotFound, sourceID)
	}
	return filepath.Join(d.root, rel), nil
}

// CharacterFor returns the character a chat belongs to: an explicit mapping
// when configured, otherwise the name derived from the file name.
func (d *Directory) CharacterFor(sourceID string) string {
	base := path.Base(sourceID)
	if c, ok := d.mappings[sourceID]; ok {
		return c
	}
	if c, ok := d.mappings[base]; ok {
		return c
	}
	return CharacterFromFilename(base)
}

// CharacterFromFilename derives the character name from a chat file name:
// "Aria_-_2024-03-01@10h00m.jsonl", "Aria - 2024-03-01.jsonl", "Aria-2024.jsonl" and "Aria.jsonl" all yield "Aria".
func CharacterFromFilename(name string) string {
	stem := strings.TrimSuffix(name, path.Ext(name))
	if i := strings.Index(stem, "_-_"); i > 0 {
		return strings.TrimSpace(stem[:i])
	}
	if i := strings.Index(stem, " - "); i > 0 {
		return strings.TrimSpace(stem[:i])
	}
	if i := strings.Index(stem, "-"); i > 0 {
		return strings.TrimSpace(stem[:i])
	}
	return strings.TrimSpace(stem)
}
