package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lorekeeper/internal/config"
	"github.com/raphaelgruber/lorekeeper/internal/models"
)

func candidate(name, desc string, confidence float64) models.Candidate {
	return models.Candidate{
		Type:         models.EntityNPC,
		Name:         name,
		Attributes:   map[string]string{models.AttrDescription: desc},
		Confidence:   confidence,
		MentionCount: 1,
	}
}

func TestScore(t *testing.T) {
	d := New(config.DefaultFilterConfig())
	long := strings.Repeat("x", 250)
	longer := strings.Repeat("y", 350)

	tests := []struct {
		name     string
		cand     models.Candidate
		text     string
		wantRisk float64
	}{
		{
			name:     "grounded single mention",
			cand:     candidate("Marcus", "a guard", 0.8),
			text:     "Marcus: I guard the east gate.",
			wantRisk: 0,
		},
		{
			name:     "name never appears",
			cand:     candidate("Zorblax", "a wizard", 0.8),
			text:     "Aria: The road is quiet tonight.",
			wantRisk: 0.9,
		},
		{
			name:     "minority of tokens present",
			cand:     candidate("Captain Elira Stormwind", "a sailor", 0.8),
			text:     "Aria: Elira waved from the dock.",
			wantRisk: 0.65,
		},
		{
			name:     "half of tokens present",
			cand:     candidate("Elira Stormwind", "a sailor", 0.8),
			text:     "Aria: Elira waved from the dock.",
			wantRisk: 0.4,
		},
		{
			name:     "title pattern",
			cand:     candidate("Lord Varn of Ashfall", "ruler", 0.8),
			text:     "Guard: Lord Varn of Ashfall sends his regards.",
			wantRisk: 0.3,
		},
		{
			name:     "epithet with detailed single mention",
			cand:     candidate("The Great Wyrm", long, 0.8),
			text:     "Aria: They say the great wyrm sleeps below.",
			wantRisk: 0.5,
		},
		{
			name:     "long multi-word name",
			cand:     candidate("Keeper of the Old Flame", "priest", 0.7),
			text:     "Aria: Ask the Keeper of the Old Flame.",
			wantRisk: 0.3,
		},
		{
			name:     "over-confident with two mentions",
			cand:     candidate("Marcus", longer, 0.95),
			text:     "Marcus: Hello.\nAria: Hi Marcus.",
			wantRisk: 0.2,
		},
		{
			name:     "over-confident with a single mention",
			cand:     candidate("Marcus", longer, 0.95),
			text:     "Marcus: Hello.",
			wantRisk: 0.4,
		},
		{
			name:     "capped at one",
			cand:     candidate("King Aldric the Great", "ruler", 0.8),
			text:     "Aria: Nobody is here.",
			wantRisk: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk, reasons := d.Score(tt.cand, tt.text)
			assert.InDelta(t, tt.wantRisk, risk, 1e-9)
			if tt.wantRisk == 0 {
				assert.Empty(t, reasons)
			} else {
				assert.NotEmpty(t, reasons)
			}
		})
	}
}

func TestAbsentNameRiskFloor(t *testing.T) {
	d := New(config.DefaultFilterConfig())
	for _, name := range []string{"Zorblax", "Q", "Mira Dawnfeather", "The Ashen Court"} {
		risk, _ := d.Score(candidate(name, "", 0.5), "Aria: nothing to see.")
		assert.GreaterOrEqual(t, risk, 0.4, name)
	}
}

func TestApply(t *testing.T) {
	d := New(config.DefaultFilterConfig())

	t.Run("drops at threshold", func(t *testing.T) {
		out, keep := d.Apply(candidate("Zorblax", "", 0.9), "Aria: hello")
		assert.False(t, keep)
		assert.InDelta(t, 0.9, out.HallucinationRisk, 1e-9)
	})

	t.Run("flags and caps confidence", func(t *testing.T) {
		in := candidate("Captain Elira Stormwind", "a sailor", 0.95)
		out, keep := d.Apply(in, "Aria: Elira waved from the dock.")
		require.True(t, keep)
		assert.True(t, out.Flagged)
		assert.Equal(t, 0.6, out.Confidence)
		assert.Contains(t, out.FlagReason, "risk: 0.65")
		// input untouched
		assert.Equal(t, 0.95, in.Confidence)
		assert.False(t, in.Flagged)
	})

	t.Run("flag cap never raises confidence", func(t *testing.T) {
		out, keep := d.Apply(candidate("Captain Elira Stormwind", "a sailor", 0.3), "Elira")
		require.True(t, keep)
		assert.True(t, out.Flagged)
		assert.Equal(t, 0.3, out.Confidence)
	})

	t.Run("risk of exactly the flag threshold is not flagged", func(t *testing.T) {
		out, keep := d.Apply(candidate("The Great Wyrm", strings.Repeat("x", 250), 0.8), "the great wyrm")
		require.True(t, keep)
		assert.False(t, out.Flagged)
		assert.Equal(t, 0.8, out.Confidence)
	})
}

func TestFilter(t *testing.T) {
	d := New(config.DefaultFilterConfig())
	text := "Marcus: Welcome.\nAria: Elira is late."
	res := d.Filter([]models.Candidate{
		candidate("Marcus", "a guard", 0.8),
		candidate("Zorblax", "a wizard", 0.8),
		candidate("Captain Elira Stormwind", "a sailor", 0.8),
	}, text)

	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Flagged)
	require.Len(t, res.Kept, 2)
	assert.Equal(t, "Marcus", res.Kept[0].Name)
	assert.Equal(t, "Captain Elira Stormwind", res.Kept[1].Name)
}

func TestCustomWeights(t *testing.T) {
	cfg := config.DefaultFilterConfig()
	cfg.NeverMentioned = 0
	cfg.NameAbsent = 0.1
	d := New(cfg)

	out, keep := d.Apply(candidate("Zorblax", "", 0.9), "Aria: hello")
	require.True(t, keep)
	assert.InDelta(t, 0.1, out.HallucinationRisk, 1e-9)
	assert.Len(t, out.RiskReasons, 1)
}
