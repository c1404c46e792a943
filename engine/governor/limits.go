package governor

import "github.com/WessleyAI/groundwork/engine/evidence"

// Limits bounds the work a single request may cause.
type Limits struct {
	Depth           int `yaml:"depth"`
	EvidencePerRow  int `yaml:"evidence_per_row"`
	TopK            int `yaml:"top_k"`
	NodeCap         int `yaml:"node_cap"`
	RelationshipCap int `yaml:"relationship_cap"`
}

// HardLimits are the ceilings no caller can exceed.
var HardLimits = Limits{Depth: 2, EvidencePerRow: 15, TopK: 10, NodeCap: 50, RelationshipCap: 100}

// DefaultLimits apply when a caller leaves a value unset or sends garbage.
var DefaultLimits = Limits{Depth: 1, EvidencePerRow: 5, TopK: 10, NodeCap: 50, RelationshipCap: 100}

// Facet listing bounds.
const (
	DefaultFacetLimit = 25
	MaxFacetLimit     = 100
)

// Clamp coerces every requested value into [1, hard]: non-positive values
// take the default, oversized values the ceiling.
func Clamp(requested Limits) Limits {
	return Limits{
		Depth:           clamp(requested.Depth, DefaultLimits.Depth, HardLimits.Depth),
		EvidencePerRow:  clamp(requested.EvidencePerRow, DefaultLimits.EvidencePerRow, HardLimits.EvidencePerRow),
		TopK:            clamp(requested.TopK, DefaultLimits.TopK, HardLimits.TopK),
		NodeCap:         clamp(requested.NodeCap, DefaultLimits.NodeCap, HardLimits.NodeCap),
		RelationshipCap: clamp(requested.RelationshipCap, DefaultLimits.RelationshipCap, HardLimits.RelationshipCap),
	}
}

// Caps converts clamped limits to aggregator caps.
func (l Limits) Caps() evidence.Caps {
	return evidence.Caps{
		EvidencePerRow:  l.EvidencePerRow,
		TopK:            l.TopK,
		NodeCap:         l.NodeCap,
		RelationshipCap: l.RelationshipCap,
	}
}

func clamp(v, def, hi int) int {
	switch {
	case v <= 0:
		return min(def, hi)
	case v > hi:
		return hi
	default:
		return v
	}
}
