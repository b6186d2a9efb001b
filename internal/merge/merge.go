// Package merge folds per-chunk candidates into the deduplicated entity set of a scan.
package merge

import (
	"slices"
	"sort"
	"strings"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// MentionMode selects how mention counts combine on collision.
type MentionMode string

const (
	// MentionSum adds counts. Messages inside chunk overlaps are counted once per chunk.
	MentionSum MentionMode = "sum"
	// MentionDistinct counts distinct message indices across all contributions.
	MentionDistinct MentionMode = "distinct"
)

// Merge reconciles two candidates with the same key into one. Neither input is modified.
//
//   - confidence and hallucination risk take the maximum
//   - description concatenates novel text, skipping text already contained
//   - other attributes are copied only when absent on the retained side
//   - mention counts combine per mode
func Merge(existing, incoming models.Candidate, mode MentionMode) models.Candidate {
	out := existing.Clone()

	out.Name = displayName(existing, incoming)
	out.Confidence = max(existing.Confidence, incoming.Confidence)
	out.HallucinationRisk = max(existing.HallucinationRisk, incoming.HallucinationRisk)
	out.Flagged = existing.Flagged || incoming.Flagged
	if out.FlagReason == "" {
		out.FlagReason = incoming.FlagReason
	}
	out.RiskReasons = unionStrings(existing.RiskReasons, incoming.RiskReasons)
	if out.SourceSnippet == "" {
		out.SourceSnippet = incoming.SourceSnippet
	}

	if out.Attributes == nil && len(incoming.Attributes) > 0 {
		out.Attributes = make(map[string]string, len(incoming.Attributes))
	}
	for k, v := range incoming.Attributes {
		if k == models.AttrDescription {
			out.Attributes[k] = mergeText(out.Attributes[k], v)
			continue
		}
		if strings.TrimSpace(out.Attributes[k]) == "" && v != "" {
			out.Attributes[k] = v
		}
	}

	out.MentionIndices = unionInts(existing.MentionIndices, incoming.MentionIndices)
	switch {
	case mode == MentionDistinct && len(out.MentionIndices) > 0:
		out.MentionCount = len(out.MentionIndices)
	case mode == MentionDistinct:
		out.MentionCount = max(existing.MentionCount, incoming.MentionCount)
	default:
		out.MentionCount = existing.MentionCount + incoming.MentionCount
	}
	return out
}

// displayName keeps the name of the more confident candidate, then the lexically smaller one.
func displayName(a, b models.Candidate) string {
	an, bn := strings.TrimSpace(a.Name), strings.TrimSpace(b.Name)
	switch {
	case a.Confidence > b.Confidence:
		return an
	case b.Confidence > a.Confidence:
		return bn
	case bn < an:
		return bn
	default:
		return an
	}
}

// mergeText appends incoming after existing unless one already contains the other.
func mergeText(existing, incoming string) string {
	existing, incoming = strings.TrimSpace(existing), strings.TrimSpace(incoming)
	le, li := strings.ToLower(existing), strings.ToLower(incoming)
	switch {
	case incoming == "" || strings.Contains(le, li):
		return existing
	case existing == "" || strings.Contains(li, le):
		return incoming
	default:
		return existing + " " + incoming
	}
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := append([]string(nil), a...)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func unionInts(a, b []int) []int {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := append(append([]int(nil), a...), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Set is the running merged entity set of one scan. It is not safe for
// concurrent use and must not be shared between scans.
type Set struct {
	mode     MentionMode
	entities map[string]models.Candidate
}

// NewSet creates an empty set. An unknown mode falls back to MentionSum.
func NewSet(mode MentionMode) *Set {
	if mode != MentionDistinct {
		mode = MentionSum
	}
	return &Set{mode: mode, entities: make(map[string]models.Candidate)}
}

// Add folds one chunk's candidates into the set. Candidates without a name are ignored.
// Returns the number of new keys.
func (s *Set) Add(batch []models.Candidate) int {
	added := 0
	for _, c := range batch {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		key := c.Key()
		if prev, ok := s.entities[key]; ok {
			s.entities[key] = Merge(prev, c, s.mode)
			continue
		}
		c = c.Clone()
		c.Name = strings.TrimSpace(c.Name)
		s.entities[key] = c
		added++
	}
	return added
}

// Len returns the number of distinct entities.
func (s *Set) Len() int {
	return len(s.entities)
}

// Entities returns the merged entities ordered by key.
func (s *Set) Entities() []models.Candidate {
	out := make([]models.Candidate, 0, len(s.entities))
	for _, c := range s.entities {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Fold merges batches into existing and returns the new set without modifying existing.
func Fold(existing []models.Candidate, mode MentionMode, batches ...[]models.Candidate) []models.Candidate {
	s := NewSet(mode)
	s.Add(existing)
	for _, b := range batches {
		s.Add(b)
	}
	return s.Entities()
}
