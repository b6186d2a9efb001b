// Package filter scores extracted entities for hallucination risk against
// the chunk text they were extracted from.
package filter

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/raphaelgruber/lorekeeper/internal/config"
	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// suspiciousPatterns match names that read like invented epithets or titles.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bthe (great|mighty|terrible|magnificent|dread)\b`),
	regexp.MustCompile(`(?i)\b(king|queen|lord|duke|baron)\s+\w+\s+(the|of)\b`),
	regexp.MustCompile(`(?i)^\w+(\s+\w+){4,}$`),
}

// Weights are the additive risk contributions. Risk is capped at 1.
type Weights struct {
	NameAbsent        float64 // no part of the name appears in the text
	NamePartial       float64 // fewer than half of the significant name tokens appear
	SuspiciousPattern float64 // per pattern hit
	NeverMentioned    float64 // zero literal occurrences
	DetailedSingle    float64 // one occurrence but description over 200 chars
	OverConfident     float64 // confidence over 0.9, description over 300 chars, under 3 occurrences
}

// Detector applies the risk heuristics and the drop/flag policy.
type Detector struct {
	weights       Weights
	dropThreshold float64
	flagThreshold float64
	confidenceCap float64
}

// New creates a detector from configuration.
func New(cfg config.FilterConfig) *Detector {
	return &Detector{
		weights: Weights{
			NameAbsent:        cfg.NameAbsent,
			NamePartial:       cfg.NamePartial,
			SuspiciousPattern: cfg.SuspiciousPattern,
			NeverMentioned:    cfg.NeverMentioned,
			DetailedSingle:    cfg.DetailedSingle,
			OverConfident:     cfg.OverConfident,
		},
		dropThreshold: cfg.DropThreshold,
		flagThreshold: cfg.FlagThreshold,
		confidenceCap: cfg.ConfidenceCap,
	}
}

// Score computes the hallucination risk of c given the source text, with the reasons that contributed.
func (d *Detector) Score(c models.Candidate, text string) (float64, []string) {
	var risk float64
	var reasons []string
	add := func(w float64, reason string) {
		if w == 0 {
			return
		}
		risk += w
		reasons = append(reasons, reason)
	}

	name := strings.TrimSpace(c.Name)
	lowerName := strings.ToLower(name)
	lowerText := strings.ToLower(text)

	switch nameMatch(lowerName, lowerText) {
	case matchNone:
		add(d.weights.NameAbsent, "name not found in source text")
	case matchMinority:
		add(d.weights.NamePartial, "only part of the name found in source text")
	}

	for _, p := range suspiciousPatterns {
		if p.MatchString(name) {
			add(d.weights.SuspiciousPattern, "suspicious name pattern: "+p.String())
		}
	}

	occurrences := 0
	if lowerName != "" {
		occurrences = strings.Count(lowerText, lowerName)
	}
	descLen := len(c.Description())

	if occurrences == 0 {
		add(d.weights.NeverMentioned, "never mentioned in source text")
	}
	if occurrences == 1 && descLen > 200 {
		add(d.weights.DetailedSingle, "detailed description from a single mention")
	}
	if c.Confidence > 0.9 && descLen > 300 && occurrences < 3 {
		add(d.weights.OverConfident, "high confidence with extensive detail from few mentions")
	}

	risk = math.Round(math.Min(risk, 1)*1000) / 1000
	return risk, reasons
}

// Apply scores c and applies the policy. It returns the possibly demoted
// candidate and false when the candidate should be dropped.
func (d *Detector) Apply(c models.Candidate, text string) (models.Candidate, bool) {
	out := c.Clone()
	risk, reasons := d.Score(out, text)
	out.HallucinationRisk = risk
	out.RiskReasons = reasons

	if risk >= d.dropThreshold {
		return out, false
	}
	if risk > d.flagThreshold {
		out.Confidence = math.Min(out.Confidence, d.confidenceCap)
		out.Flagged = true
		out.FlagReason = fmt.Sprintf("Potential hallucination (risk: %.2f): %s", risk, strings.Join(reasons, "; "))
	}
	return out, true
}

// Result summarizes one chunk's filtering.
type Result struct {
	Kept    []models.Candidate
	Dropped int
	Flagged int
}

// Filter applies the policy to every candidate extracted from one chunk.
// It never sees other chunks.
func (d *Detector) Filter(batch []models.Candidate, text string) Result {
	var res Result
	for _, c := range batch {
		out, keep := d.Apply(c, text)
		if !keep {
			res.Dropped++
			slog.Debug("dropped likely hallucination", "type", c.Type, "name", c.Name, "risk", out.HallucinationRisk, "reasons", out.RiskReasons)
			continue
		}
		if out.Flagged {
			res.Flagged++
		}
		res.Kept = append(res.Kept, out)
	}
	return res
}

type matchKind int

const (
	matchFull matchKind = iota
	matchMinority
	matchNone
)

// nameMatch reports whether the name, or at least half of its significant
// tokens (longer than 3 chars), occurs in the text. Both inputs are lowercased.
func nameMatch(name, text string) matchKind {
	if name == "" {
		return matchNone
	}
	if strings.Contains(text, name) {
		return matchFull
	}
	var significant []string
	for _, w := range strings.Fields(name) {
		if len([]rune(w)) > 3 {
			significant = append(significant, w)
		}
	}
	if len(significant) == 0 {
		return matchNone
	}
	found := 0
	for _, w := range significant {
		if strings.Contains(text, w) {
			found++
		}
	}
	switch {
	case found*2 >= len(significant):
		return matchFull
	case found > 0:
		return matchMinority
	default:
		return matchNone
	}
}
