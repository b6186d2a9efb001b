package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

func npc(name string, confidence float64, attrs map[string]string, mentions int) models.Candidate {
	return models.Candidate{
		Type:         models.EntityNPC,
		Name:         name,
		Attributes:   attrs,
		Confidence:   confidence,
		MentionCount: mentions,
	}
}

func TestMergeConflictResolution(t *testing.T) {
	a := npc("Marcus", 0.4, map[string]string{"description": "a guard"}, 1)
	b := npc("Marcus", 0.9, map[string]string{"description": "a guard at the east gate"}, 2)

	for _, order := range [][2]models.Candidate{{a, b}, {b, a}} {
		got := Merge(order[0], order[1], MentionSum)
		assert.Equal(t, 0.9, got.Confidence)
		assert.Contains(t, got.Description(), "a guard")
		assert.Contains(t, got.Description(), "a guard at the east gate")
		assert.Equal(t, 3, got.MentionCount)
	}
}

func TestMergeDescription(t *testing.T) {
	tests := []struct {
		name, existing, incoming, want string
	}{
		{"novel text appended", "Captain of the guard.", "Owes Aria a favor.", "Captain of the guard. Owes Aria a favor."},
		{"duplicate ignored case-insensitively", "Captain of the Guard.", "captain of the guard.", "Captain of the Guard."},
		{"contained text ignored", "A tall captain of the guard.", "captain of the guard", "A tall captain of the guard."},
		{"existing empty", "", "A smith.", "A smith."},
		{"incoming empty", "A smith.", "", "A smith."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(
				npc("Borin", 0.5, map[string]string{"description": tt.existing}, 1),
				npc("Borin", 0.5, map[string]string{"description": tt.incoming}, 1),
				MentionSum,
			)
			assert.Equal(t, tt.want, got.Description())
		})
	}
}

func TestMergeKeepsExistingAttributes(t *testing.T) {
	existing := npc("Mira", 0.7, map[string]string{"relationship": "ally", "goals": ""}, 1)
	incoming := npc("Mira", 0.6, map[string]string{"relationship": "rival", "goals": "find her brother", "properties": "carries a lantern"}, 1)

	got := Merge(existing, incoming, MentionSum)
	assert.Equal(t, "ally", got.Attributes["relationship"])
	assert.Equal(t, "find her brother", got.Attributes["goals"])
	assert.Equal(t, "carries a lantern", got.Attributes["properties"])

	// inputs untouched
	assert.Equal(t, "", existing.Attributes["goals"])
	assert.NotContains(t, existing.Attributes, "properties")
}

func TestMergeFlagsAndRisk(t *testing.T) {
	a := npc("Mira", 0.6, nil, 1)
	a.Flagged = true
	a.FlagReason = "Potential hallucination (risk: 0.55)"
	a.HallucinationRisk = 0.55
	a.RiskReasons = []string{"never mentioned in source text"}
	b := npc("mira", 0.8, map[string]string{"description": "a scout"}, 1)
	b.RiskReasons = []string{"never mentioned in source text", "suspicious name pattern"}
	b.SourceSnippet = "Mira scouted ahead"

	got := Merge(a, b, MentionSum)
	assert.True(t, got.Flagged)
	assert.Equal(t, a.FlagReason, got.FlagReason)
	assert.Equal(t, 0.55, got.HallucinationRisk)
	assert.Equal(t, []string{"never mentioned in source text", "suspicious name pattern"}, got.RiskReasons)
	assert.Equal(t, "Mira scouted ahead", got.SourceSnippet)
	assert.Equal(t, "a scout", got.Description())
	assert.Equal(t, "mira", got.Name, "more confident spelling wins")
}

func TestMergeMentionModes(t *testing.T) {
	a := npc("Marcus", 0.5, nil, 2)
	a.MentionIndices = []int{16, 18}
	b := npc("Marcus", 0.5, nil, 3)
	b.MentionIndices = []int{18, 22, 30}

	sum := Merge(a, b, MentionSum)
	assert.Equal(t, 5, sum.MentionCount)
	assert.Equal(t, []int{16, 18, 22, 30}, sum.MentionIndices)

	distinct := Merge(a, b, MentionDistinct)
	assert.Equal(t, 4, distinct.MentionCount)

	noIdx := Merge(npc("Marcus", 0.5, nil, 2), npc("Marcus", 0.5, nil, 3), MentionDistinct)
	assert.Equal(t, 3, noIdx.MentionCount)
}

func TestSetDedupKey(t *testing.T) {
	s := NewSet(MentionSum)
	added := s.Add([]models.Candidate{
		npc("Marcus", 0.4, nil, 1),
		npc("  marcus ", 0.5, nil, 1),
		{Type: models.EntityLocation, Name: "Marcus", Confidence: 0.5, MentionCount: 1},
		npc("", 0.9, nil, 1),
	})
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, s.Len())

	entities := s.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, models.EntityLocation, entities[0].Type)
	assert.Equal(t, models.EntityNPC, entities[1].Type)
	assert.Equal(t, 2, entities[1].MentionCount)
}

// Batch order does not change the merged set when one name collides across batches.
func TestSetCommutative(t *testing.T) {
	batchA := []models.Candidate{
		npc("Marcus", 0.4, map[string]string{"description": "a guard"}, 1),
		{Type: models.EntityLocation, Name: "Brightwater", Confidence: 0.7, MentionCount: 2, Attributes: map[string]string{"description": "a river town"}},
	}
	batchB := []models.Candidate{
		{Type: models.EntityFaction, Name: "Silver Hand", Confidence: 0.8, MentionCount: 1, Attributes: map[string]string{"goals": "keep the peace"}},
	}
	batchC := []models.Candidate{
		npc("marcus", 0.9, map[string]string{"description": "a guard at the east gate", "relationship": "friendly"}, 2),
	}

	for _, mode := range []MentionMode{MentionSum, MentionDistinct} {
		t.Run(string(mode), func(t *testing.T) {
			first := Fold(nil, mode, batchA, batchB, batchC)
			second := Fold(nil, mode, batchC, batchA, batchB)
			assert.Equal(t, first, second)

			require.Len(t, first, 3)
			marcus := first[2]
			assert.Equal(t, "npc:marcus", marcus.Key())
			assert.Equal(t, 0.9, marcus.Confidence)
			assert.Equal(t, "a guard at the east gate", marcus.Description())
			assert.Equal(t, "friendly", marcus.Attributes["relationship"])
		})
	}
}

func TestFoldDoesNotModifyExisting(t *testing.T) {
	existing := []models.Candidate{npc("Marcus", 0.4, map[string]string{"description": "a guard"}, 1)}
	out := Fold(existing, MentionSum, []models.Candidate{npc("Marcus", 0.9, map[string]string{"description": "tall"}, 1)})

	require.Len(t, out, 1)
	assert.Equal(t, "a guard tall", out[0].Description())
	assert.Equal(t, 0.4, existing[0].Confidence)
	assert.Equal(t, "a guard", existing[0].Description())
}
