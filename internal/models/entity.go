package models

import (
	"fmt"
	"maps"
	"strings"
)

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityNPC      EntityType = "npc"
	EntityFaction  EntityType = "faction"
	EntityLocation EntityType = "location"
	EntityItem     EntityType = "item"
	EntityAlias    EntityType = "alias"
	EntityStat     EntityType = "stat"
)

// EntityTypes lists all entity types in display order.
var EntityTypes = []EntityType{EntityNPC, EntityFaction, EntityLocation, EntityItem, EntityAlias, EntityStat}

// ParseEntityType accepts singular and plural forms ("npc", "npcs", "Factions").
func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range EntityTypes {
		if s == string(t) || s == t.Plural() {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type: %q", s)
}

// Plural returns the key the extraction prompt uses for this type.
func (t EntityType) Plural() string {
	switch t {
	case EntityAlias:
		return "aliases"
	default:
		return string(t) + "s"
	}
}

// AttrDescription is the free-text attribute that merges by concatenation.
const AttrDescription = "description"

// Candidate is an entity proposed by the oracle for one chunk, and after
// merging, the deduplicated entity for a whole scan.
type Candidate struct {
	Type              EntityType        `json:"type"`
	Name              string            `json:"name"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	Confidence        float64           `json:"confidence"`
	MentionCount      int               `json:"mention_count"`
	SourceSnippet     string            `json:"source_snippet,omitempty"`
	HallucinationRisk float64           `json:"hallucination_risk"`
	RiskReasons       []string          `json:"risk_reasons,omitempty"`
	Flagged           bool              `json:"flagged,omitempty"`
	FlagReason        string            `json:"flag_reason,omitempty"`

	// MentionIndices are the absolute message indices where the name occurs.
	MentionIndices []int `json:"mention_indices,omitempty"`
}

// Key returns the deduplication key: entity type plus lowercased trimmed name.
func (c Candidate) Key() string {
	return string(c.Type) + ":" + strings.ToLower(strings.TrimSpace(c.Name))
}

// Description returns the free-text description attribute.
func (c Candidate) Description() string {
	return c.Attributes[AttrDescription]
}

// Clone returns a deep copy.
func (c Candidate) Clone() Candidate {
	out := c
	out.Attributes = maps.Clone(c.Attributes)
	if c.RiskReasons != nil {
		out.RiskReasons = append([]string(nil), c.RiskReasons...)
	}
	if c.MentionIndices != nil {
		out.MentionIndices = append([]int(nil), c.MentionIndices...)
	}
	return out
}
