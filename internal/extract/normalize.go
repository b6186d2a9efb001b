package extract

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// Keys with dedicated candidate fields. Everything else becomes an attribute.
var reservedKeys = map[string]bool{
	"name":           true,
	"type":           true,
	"confidence":     true,
	"mentions":       true,
	"mention_count":  true,
	"source_context": true,
	"source_snippet": true,
}

const snippetContext = 50

// Normalize converts a decoded model reply into typed candidates for text.
// Unknown keys are ignored and nameless entries are dropped.
func Normalize(raw map[string]any, text string) Result {
	out := Result{}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		t, err := models.ParseEntityType(key)
		if err != nil {
			continue
		}
		items, ok := raw[key].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			if c, ok := normalizeOne(t, item, text); ok {
				out[t] = append(out[t], c)
			}
		}
	}
	return out
}

func normalizeOne(t models.EntityType, item any, text string) (models.Candidate, bool) {
	var fields map[string]any
	switch v := item.(type) {
	case map[string]any:
		fields = v
	case string:
		fields = map[string]any{"name": v}
	default:
		return models.Candidate{}, false
	}

	name := strings.TrimSpace(flatten(fields["name"]))
	if name == "" {
		return models.Candidate{}, false
	}

	c := models.Candidate{Type: t, Name: name, Attributes: map[string]string{}}
	for k, v := range fields {
		if reservedKeys[k] {
			continue
		}
		if s := strings.TrimSpace(flatten(v)); s != "" {
			c.Attributes[k] = s
		}
	}

	if n, ok := number(fields["mentions"]); ok {
		c.MentionCount = max(int(n), 0)
	} else if n, ok := number(fields["mention_count"]); ok {
		c.MentionCount = max(int(n), 0)
	} else {
		c.MentionCount = CountMentions(name, text)
	}

	if conf, ok := number(fields["confidence"]); ok {
		c.Confidence = clamp01(conf)
	} else {
		c.Confidence = EstimateConfidence(c, text)
	}

	c.SourceSnippet = strings.TrimSpace(flatten(fields["source_snippet"]))
	if c.SourceSnippet == "" {
		c.SourceSnippet = strings.TrimSpace(flatten(fields["source_context"]))
	}
	if c.SourceSnippet == "" {
		c.SourceSnippet = FindContext(name, text)
	}
	return c, true
}

// EstimateConfidence scores a candidate the model gave no confidence for:
// 0.5 base, +0.2 for a description over 20 chars, +0.05 per filled field
// (up to 0.2) and +0.03 per mention (up to 0.1).
func EstimateConfidence(c models.Candidate, text string) float64 {
	score := 0.5
	if len(c.Description()) > 20 {
		score += 0.2
	}
	filled := 1 // name
	for _, v := range c.Attributes {
		if strings.TrimSpace(v) != "" {
			filled++
		}
	}
	score += math.Min(0.2, float64(filled)*0.05)
	score += math.Min(0.1, float64(CountMentions(c.Name, text))*0.03)
	return math.Round(math.Min(1, score)*1000) / 1000
}

// CountMentions counts case-insensitive occurrences of name in text, plus
// occurrences of each word longer than 3 chars of a multi-word name. Minimum 1.
func CountMentions(name, text string) int {
	lowerText := strings.ToLower(text)
	lowerName := strings.ToLower(strings.TrimSpace(name))
	if lowerName == "" {
		return 1
	}
	count := strings.Count(lowerText, lowerName)
	if parts := strings.Fields(lowerName); len(parts) > 1 {
		for _, p := range parts {
			if len([]rune(p)) > 3 {
				count += strings.Count(lowerText, p)
			}
		}
	}
	return max(count, 1)
}

// FindContext returns up to 50 bytes on either side of the first line mentioning name.
func FindContext(name, text string) string {
	for _, line := range strings.Split(text, "\n") {
		pos, matchEnd := indexFold(line, name)
		if pos < 0 {
			continue
		}
		start := max(0, pos-snippetContext)
		end := min(len(line), matchEnd+snippetContext)
		// stay on rune boundaries
		for start > 0 && !utf8.RuneStart(line[start]) {
			start--
		}
		for end < len(line) && !utf8.RuneStart(line[end]) {
			end++
		}
		snippet := line[start:end]
		if start > 0 {
			snippet = "..." + snippet
		}
		if end < len(line) {
			snippet += "..."
		}
		return snippet
	}
	return "Mentioned: " + name
}

// indexFold finds the first case-insensitive match of substr in s and returns
// its byte range in s, or -1, -1. Lowercasing can change byte lengths, so
// runes are folded one at a time instead of indexing a lowered copy.
func indexFold(s, substr string) (int, int) {
	want := []rune(substr)
	if len(want) == 0 {
		return -1, -1
	}
	for i := range want {
		want[i] = unicode.ToLower(want[i])
	}
	for i := 0; i < len(s); {
		j, k := i, 0
		for k < len(want) && j < len(s) {
			r, size := utf8.DecodeRuneInString(s[j:])
			if unicode.ToLower(r) != want[k] {
				break
			}
			j += size
			k++
		}
		if k == len(want) {
			return i, j
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, -1
}

// flatten renders an attribute value as text: lists joined by "; ", objects as compact JSON.
func flatten(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(flatten(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
