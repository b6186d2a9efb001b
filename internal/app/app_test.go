package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lorekeeper/internal/config"
	"github.com/raphaelgruber/lorekeeper/internal/extract"
	"github.com/raphaelgruber/lorekeeper/internal/llm"
	"github.com/raphaelgruber/lorekeeper/internal/models"
	"github.com/raphaelgruber/lorekeeper/internal/service"
	"github.com/raphaelgruber/lorekeeper/internal/store"
)

type oracleFunc func(ctx context.Context, text string) (extract.Result, error)

func (f oracleFunc) Extract(ctx context.Context, text string) (extract.Result, error) {
	return f(ctx, text)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "lorekeeper.db")
	cfg.ChatsDir = t.TempDir()
	cfg.Scan.RateLimitDelay = 0
	return cfg
}

func writeChat(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, `{"name":"Aria","is_user":false,"mes":%q,"send_date":"2024-03-01T10:00:%02dZ"}`+"\n", l, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644))
}

func TestNewScansEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeChat(t, cfg.ChatsDir, "Aria_-_2024-03-01.jsonl",
		"The tavern is loud tonight.",
		"Marcus, the east gate guard, nods at you.",
		"You order an ale.",
	)

	var events []string
	oracle := oracleFunc(func(_ context.Context, text string) (extract.Result, error) {
		return extract.Result{models.EntityNPC: {{
			Type: models.EntityNPC, Name: "Marcus", Confidence: 0.7, MentionCount: 1,
			Attributes: map[string]string{models.AttrDescription: "guard at the east gate"},
		}}}, nil
	})
	a, err := New(ctx, cfg, Options{
		Oracle:   oracle,
		Observer: service.ObserverFunc(func(e models.ProgressEvent) { events = append(events, e.Type) }),
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	res, err := a.Scans.Scan(ctx, "Aria_-_2024-03-01.jsonl", service.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, res.Status)
	assert.Equal(t, 3, res.EndIndex)
	assert.Equal(t, "Aria", res.TargetFile)
	assert.Equal(t, []string{models.EventScanStarted, models.EventScanProgress, models.EventScanCompleted}, events)

	queue, err := a.Store.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "Marcus", queue[0].EntityName)

	cp, err := a.Store.GetCheckpoint(ctx, "Aria_-_2024-03-01.jsonl")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 3, cp.LastProcessedIndex)
	require.NotNil(t, cp.LastProcessedTimestamp)
	assert.Equal(t, "2024-03-01T10:00:02Z", *cp.LastProcessedTimestamp)

	snap := a.Metrics.Snapshot()
	require.NotNil(t, snap.Scan)
	assert.Equal(t, int64(1), snap.Scan.Count)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scan.ChunkOverlap = cfg.Scan.ChunkSize

	_, err := New(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{"sqlite", config.StoreSQLite, false},
		{"memory", config.StoreMemory, false},
		{"unknown", "postgres", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Store = tt.backend

			st, err := OpenStore(ctx, cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })

			cp, err := st.GetCheckpoint(ctx, "none.jsonl")
			require.NoError(t, err)
			assert.Nil(t, cp)
		})
	}
}

func TestLazyOracleMisconfigurationIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMProvider = config.ProviderOpenAI
	cfg.OpenAIAPIKey = ""

	o := &lazyOracle{cfg: cfg}
	_, err := o.Extract(context.Background(), "text")
	require.ErrorIs(t, err, llm.ErrFatalAPI)

	// The failure is remembered.
	_, err = o.Extract(context.Background(), "text")
	require.ErrorIs(t, err, llm.ErrFatalAPI)
}

var _ store.Store = (*store.MemoryStore)(nil)
