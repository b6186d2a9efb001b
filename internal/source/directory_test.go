package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestListSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Aria/Aria_-_2024-03-01@10h00m.jsonl", `{"name":"Aria","mes":"hi"}`)
	writeFile(t, dir, "Borin - 2024.jsonl", `{"name":"Borin","mes":"ho"}`)
	writeFile(t, dir, "notes.txt", "ignored")

	d := NewDirectory(dir, map[string]string{"Borin - 2024.jsonl": "Borin the Smith.png"})
	sources, err := d.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, "Aria/Aria_-_2024-03-01@10h00m.jsonl", sources[0].ID)
	assert.Equal(t, "Aria", sources[0].Character)
	assert.Equal(t, "Borin - 2024.jsonl", sources[1].ID)
	assert.Equal(t, "Borin the Smith.png", sources[1].Character)
}

func TestListMessages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.jsonl", "{\"chat_metadata\":{}}\n{\"name\":\"Aria\",\"mes\":\"one\"}\n{\"name\":\"You\",\"is_user\":true,\"mes\":\"two\"}\n")
	d := NewDirectory(dir, nil)

	first, err := d.ListMessages(context.Background(), "chat.jsonl")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "Aria", first[0].Speaker)
	assert.Equal(t, 1, first[1].SequenceIndex)

	second, err := d.ListMessages(context.Background(), "chat.jsonl")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListMessagesErrors(t *testing.T) {
	d := NewDirectory(t.TempDir(), nil)

	for _, id := range []string{"missing.jsonl", "../etc/passwd", "/abs/chat.jsonl", ""} {
		t.Run(id, func(t *testing.T) {
			_, err := d.ListMessages(context.Background(), id)
			assert.ErrorIs(t, err, ErrSourceNotFound)
		})
	}
}

func TestCharacterFromFilename(t *testing.T) {
	tests := map[string]string{
		"Aria_-_2024-03-01@10h00m.jsonl": "Aria",
		"Sir Borin - 2024-03-01.jsonl":   "Sir Borin",
		"Aria-2024.jsonl":                "Aria",
		"Aria.jsonl":                     "Aria",
	}
	for in, want := range tests {
		assert.Equal(t, want, CharacterFromFilename(in), in)
	}
}
