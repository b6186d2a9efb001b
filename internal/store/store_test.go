package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			cp, err := s.GetCheckpoint(ctx, "aria.jsonl")
			require.NoError(t, err)
			assert.Nil(t, cp, "absent until first scan")

			ts := "2024-03-01T10:00:00.000Z"
			require.NoError(t, s.UpsertCheckpoint(ctx, models.Checkpoint{
				SourceID: "aria.jsonl", LastProcessedIndex: 30, LastProcessedTimestamp: &ts, TotalMessagesSeen: 47,
			}))
			require.NoError(t, s.UpsertCheckpoint(ctx, models.Checkpoint{
				SourceID: "aria.jsonl", LastProcessedIndex: 47, TotalMessagesSeen: 47,
			}))
			require.NoError(t, s.UpsertCheckpoint(ctx, models.Checkpoint{
				SourceID: "borin.jsonl", LastProcessedIndex: 5, TotalMessagesSeen: 9,
			}))

			cp, err = s.GetCheckpoint(ctx, "aria.jsonl")
			require.NoError(t, err)
			require.NotNil(t, cp)
			assert.Equal(t, 47, cp.LastProcessedIndex)
			assert.Equal(t, 47, cp.TotalMessagesSeen)
			assert.Nil(t, cp.LastProcessedTimestamp)
			assert.False(t, cp.UpdatedAt.IsZero())

			all, err := s.ListCheckpoints(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "aria.jsonl", all[0].SourceID)
			assert.Equal(t, "borin.jsonl", all[1].SourceID)

			require.NoError(t, s.ResetCheckpoint(ctx, "aria.jsonl"))
			cp, err = s.GetCheckpoint(ctx, "aria.jsonl")
			require.NoError(t, err)
			assert.Nil(t, cp)
			assert.ErrorIs(t, s.ResetCheckpoint(ctx, "aria.jsonl"), ErrNotFound)
		})
	}
}

func TestScanHistory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			last, err := s.LastScan(ctx, "aria.jsonl")
			require.NoError(t, err)
			assert.Nil(t, last)

			for i, src := range []string{"aria.jsonl", "borin.jsonl", "aria.jsonl"} {
				finished := base.Add(time.Duration(i)*time.Minute + time.Second)
				require.NoError(t, s.AddScan(ctx, models.ScanRecord{
					ID:              string(rune('a' + i)),
					SourceID:        src,
					Status:          models.ScanCompleted,
					EndIndex:        10 * (i + 1),
					ChunksTotal:     i + 1,
					ChunksProcessed: i + 1,
					EntitiesFound:   i,
					StartedAt:       base.Add(time.Duration(i) * time.Minute),
					FinishedAt:      &finished,
				}))
			}

			all, err := s.ListScans(ctx, "", 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c", all[0].ID, "most recent first")

			aria, err := s.ListScans(ctx, "aria.jsonl", 1)
			require.NoError(t, err)
			require.Len(t, aria, 1)
			assert.Equal(t, 30, aria[0].EndIndex)

			last, err = s.LastScan(ctx, "borin.jsonl")
			require.NoError(t, err)
			require.NotNil(t, last)
			assert.Equal(t, "b", last.ID)
			assert.Equal(t, models.ScanCompleted, last.Status)
			require.NotNil(t, last.FinishedAt)
			assert.True(t, last.StartedAt.Equal(base.Add(time.Minute)))
		})
	}
}

func TestReviewQueue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := func(id string, typ models.EntityType, name string, conf float64) models.QueueEntry {
		return models.QueueEntry{
			ID:         id,
			EntityType: typ,
			EntityName: name,
			EntityData: models.Candidate{
				Type: typ, Name: name, Confidence: conf, MentionCount: 2,
				Attributes: map[string]string{"description": name + " description"},
			},
			SourceID:       "aria.jsonl",
			SourceMessages: "Messages 0-47 from aria.jsonl",
			Confidence:     conf,
			Status:         models.QueuePending,
			CreatedAt:      now,
		}
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rejected := entry("4", models.EntityNPC, "Zorblax", 0.99)
			rejected.Status = models.QueueRejected
			require.NoError(t, s.Enqueue(ctx, []models.QueueEntry{
				entry("1", models.EntityNPC, "Marcus", 0.6),
				entry("2", models.EntityLocation, "Brightwater", 0.8),
				entry("3", models.EntityNPC, "Mira", 0.9),
				rejected,
			}))

			all, err := s.ListPending(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"Mira", "Brightwater", "Marcus"}, []string{all[0].EntityName, all[1].EntityName, all[2].EntityName})

			npcs, err := s.ListPending(ctx, models.EntityNPC)
			require.NoError(t, err)
			require.Len(t, npcs, 2)
			assert.Equal(t, "Mira description", npcs[0].EntityData.Description())
			assert.Equal(t, 2, npcs[0].EntityData.MentionCount)
			assert.Equal(t, "Messages 0-47 from aria.jsonl", npcs[0].SourceMessages)
			assert.True(t, npcs[0].CreatedAt.Equal(now))
		})
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lore.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertCheckpoint(context.Background(), models.Checkpoint{SourceID: "x", LastProcessedIndex: 3, TotalMessagesSeen: 3}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	cp, err := reopened.GetCheckpoint(context.Background(), "x")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 3, cp.LastProcessedIndex)
}
