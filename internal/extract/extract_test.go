package extract

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lorekeeper/internal/llm"
	"github.com/raphaelgruber/lorekeeper/internal/metrics"
	"github.com/raphaelgruber/lorekeeper/internal/models"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantOK   bool
		wantKey  string
	}{
		{"direct json", `{"npcs":[{"name":"Marcus"}]}`, true, "npcs"},
		{"fenced json", "Here you go:\n```json\n{\"locations\":[{\"name\":\"Brightwater\"}]}\n```\nDone.", true, "locations"},
		{"fenced without language", "```\n{\"items\":[]}\n```", true, "items"},
		{"embedded object", `Sure! {"factions":[{"name":"Silver Hand","goals":"peace {eventually}"}]} Let me know.`, true, "factions"},
		{"embedded object after unrelated object", `{"note":"x"} then {"npc":[{"name":"Mira"}]}`, true, "npc"},
		{"prose only", "I could not find any entities.", false, ""},
		{"unbalanced", `{"npcs":[{"name":"Marcus"}`, false, ""},
		{"array not object", `[{"name":"Marcus"}]`, false, ""},
		{"stray braces", strings.Repeat("{ ", 5000) + "no entities here", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := ParseResponse(tt.response)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Contains(t, obj, tt.wantKey)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	text := "Marcus: Welcome to Brightwater.\nAria: Marcus, where is the Silver Hand?\nMarcus: Ask Captain Elira Stormwind."
	raw := map[string]any{
		"npcs": []any{
			map[string]any{"name": " Marcus ", "description": "A gruff guard at the east gate", "confidence": 1.4, "mentions": float64(3)},
			map[string]any{"name": "Captain Elira Stormwind", "relationship": "unknown", "traits": []any{"brave", "stern"}},
			map[string]any{"description": "nameless"},
			"Aria",
		},
		"factions": []any{
			map[string]any{"name": "Silver Hand", "leadership": map[string]any{"leader": "unknown"}, "confidence": "0.7", "source_context": "where is the Silver Hand"},
		},
		"stats":  []any{map[string]any{"name": "Gold", "value": float64(120)}},
		"weapons": []any{map[string]any{"name": "ignored"}},
		"items":  "not a list",
	}

	res := Normalize(raw, text)
	assert.Equal(t, 5, res.Count())

	npcs := res[models.EntityNPC]
	require.Len(t, npcs, 3)

	marcus := npcs[0]
	assert.Equal(t, "Marcus", marcus.Name)
	assert.Equal(t, 1.0, marcus.Confidence)
	assert.Equal(t, 3, marcus.MentionCount)
	assert.Equal(t, "A gruff guard at the east gate", marcus.Description())
	assert.Equal(t, "Marcus: Welcome to Brightwater.", marcus.SourceSnippet)

	elira := npcs[1]
	assert.Equal(t, "brave; stern", elira.Attributes["traits"])
	// exact 1 + captain 1 + elira 1 + stormwind 1
	assert.Equal(t, 4, elira.MentionCount)
	// 0.5 + 3 fields * 0.05 + min(0.1, 4*0.03)
	assert.InDelta(t, 0.75, elira.Confidence, 1e-9)

	assert.Equal(t, "Aria", npcs[2].Name)

	faction := res[models.EntityFaction][0]
	assert.Equal(t, 0.7, faction.Confidence)
	assert.Equal(t, `{"leader":"unknown"}`, faction.Attributes["leadership"])
	assert.Equal(t, "where is the Silver Hand", faction.SourceSnippet)

	stat := res[models.EntityStat][0]
	assert.Equal(t, "120", stat.Attributes["value"])
	assert.Equal(t, "Mentioned: Gold", stat.SourceSnippet)
}

func TestCountMentions(t *testing.T) {
	text := "Elira Stormwind arrived. Elira smiled. The storm passed."
	assert.Equal(t, 4, CountMentions("Elira Stormwind", text))
	assert.Equal(t, 1, CountMentions("Zorblax", text))
	assert.Equal(t, 2, CountMentions("elira", text))
}

func TestFindContext(t *testing.T) {
	line := "Aria: " + "a long stretch of road that winds on and on through the hills " + "until Brightwater appears " + "beyond the last ridge where the river bends toward the sea"
	snippet := FindContext("Brightwater", line)
	assert.Contains(t, snippet, "Brightwater")
	assert.True(t, len(snippet) <= 50+len("Brightwater")+50+6)
	assert.Equal(t, "...", snippet[:3])
	assert.Equal(t, "...", snippet[len(snippet)-3:])
}

func TestFindContextNonASCII(t *testing.T) {
	tests := []struct {
		name   string
		entity string
		line   string
		want   string
	}{
		// Ⱥ is 2 bytes but lowercases to 3
		{"lowercase grows", "marcus", "Aria: " + strings.Repeat("Ⱥ", 100) + " Marcus", "Marcus"},
		{"lowercase shrinks", "marcus", "Aria: " + strings.Repeat("İ", 100) + " MARCUS waves", "MARCUS waves"},
		{"accented name", "éloïse", "Ser Éloïse rides north", "Ser Éloïse rides north"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snippet string
			require.NotPanics(t, func() { snippet = FindContext(tt.entity, tt.line) })
			assert.Contains(t, snippet, tt.want)
			assert.True(t, utf8.ValidString(snippet))
		})
	}

	res := Normalize(map[string]any{"npcs": []any{"Marcus"}}, "Aria: "+strings.Repeat("Ⱥ", 100)+" Marcus")
	require.Len(t, res[models.EntityNPC], 1)
	assert.Contains(t, res[models.EntityNPC][0].SourceSnippet, "Marcus")
}

func TestNormalizeRejectsNonFiniteNumbers(t *testing.T) {
	for _, v := range []any{"NaN", "nan", "Inf", "-Infinity", math.NaN(), math.Inf(1)} {
		res := Normalize(map[string]any{
			"npcs": []any{map[string]any{"name": "Marcus", "confidence": v, "mentions": v}},
		}, "Marcus waves")
		require.Len(t, res[models.EntityNPC], 1)
		c := res[models.EntityNPC][0]
		assert.False(t, math.IsNaN(c.Confidence), "confidence %v", v)
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
		assert.Equal(t, 1, c.MentionCount)
	}
}

func TestEstimateConfidence(t *testing.T) {
	c := models.Candidate{Name: "Marcus", Attributes: map[string]string{"description": "A guard who watches the east gate"}}
	// 0.5 + 0.2 + 2*0.05 + 0.03
	assert.InDelta(t, 0.83, EstimateConfidence(c, "Marcus: hi"), 1e-9)

	many := models.Candidate{Name: "Marcus", Attributes: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "description": "A guard who watches the east gate"}}
	assert.InDelta(t, 1.0, EstimateConfidence(many, "Marcus Marcus Marcus Marcus"), 1e-9)
}

type fakeGenerator struct {
	content string
	err     error
	delay   time.Duration
}

func (f *fakeGenerator) ExtractEntities(ctx context.Context, _ string) (llm.Generation, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return llm.Generation{}, ctx.Err()
		}
	}
	return llm.Generation{Content: f.content, InputTokens: 10, OutputTokens: 5}, f.err
}

func TestLLMOracle(t *testing.T) {
	t.Run("parses reply", func(t *testing.T) {
		mc := metrics.NewCollector()
		o := NewLLMOracle(&fakeGenerator{content: "```json\n{\"npcs\":[{\"name\":\"Marcus\"}]}\n```"}, time.Second, mc)
		res, err := o.Extract(context.Background(), "Marcus: hello")
		require.NoError(t, err)
		require.Len(t, res.All(), 1)
		assert.Equal(t, "Marcus", res.All()[0].Name)
		require.NotNil(t, mc.Snapshot().Extract)
		assert.Equal(t, int64(10), *mc.Snapshot().Extract.TotalInputTokens)
	})

	t.Run("malformed reply is empty", func(t *testing.T) {
		o := NewLLMOracle(&fakeGenerator{content: "no entities here"}, 0, nil)
		res, err := o.Extract(context.Background(), "Marcus: hello")
		require.NoError(t, err)
		assert.Zero(t, res.Count())
	})

	t.Run("fatal error passes through", func(t *testing.T) {
		o := NewLLMOracle(&fakeGenerator{err: llm.ErrFatalAPI}, 0, nil)
		_, err := o.Extract(context.Background(), "x")
		assert.ErrorIs(t, err, llm.ErrFatalAPI)
	})

	t.Run("timeout", func(t *testing.T) {
		mc := metrics.NewCollector()
		o := NewLLMOracle(&fakeGenerator{delay: time.Second}, 10*time.Millisecond, mc)
		_, err := o.Extract(context.Background(), "x")
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Equal(t, int64(1), mc.Snapshot().Extract.Failures)
	})
}
