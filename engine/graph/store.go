// Package graph builds and runs the two-tier retrieval against the property
// graph: curated Concept matches first, raw Evidence search as a labelled
// fallback. Every query is scoped to a single graph id.
package graph

import "context"

// Store is the read surface the retrieval pipeline needs from the graph.
type Store interface {
	// MatchConcepts runs the primary pass.
	MatchConcepts(ctx context.Context, q ConceptQuery) ([]ConceptRecord, error)
	// SearchEvidence runs the scored fallback pass.
	SearchEvidence(ctx context.Context, q EvidenceQuery) ([]EvidenceRecord, error)
	// EvidenceForEntities returns evidence mentioning any of the named entities.
	EvidenceForEntities(ctx context.Context, q EntityQuery) ([]EvidenceRecord, error)
	// FacetValues returns the distinct values of a named facet.
	FacetValues(ctx context.Context, q FacetQuery) ([]string, error)
}

// ConceptQuery parameterizes the primary pass. Depth, Limit and
// EvidenceLimit are expected to be clamped by the caller.
type ConceptQuery struct {
	GraphID       string
	Vertical      string
	Terms         []string
	ConceptID     string
	Depth         int
	Limit         int
	EvidenceLimit int
}

// EvidenceQuery parameterizes the fallback pass.
type EvidenceQuery struct {
	GraphID  string
	Vertical string
	Terms    []string
	Limit    int
}

// EntityQuery parameterizes entity evidence lookup. Names are matched
// case-insensitively.
type EntityQuery struct {
	GraphID  string
	Vertical string
	Names    []string
	Limit    int
}

// FacetQuery names a facet of a graph.
type FacetQuery struct {
	GraphID string
	Facet   string
	Limit   int
}

// ConceptRecord is one Concept row of the primary pass with its linked
// evidence, newest first.
type ConceptRecord struct {
	ID          string
	Name        string
	Description string
	Vertical    string
	GraphID     string
	Evidence    []EvidenceRecord
}

// EvidenceRecord is one Evidence node. Score is set by the fallback pass only.
type EvidenceRecord struct {
	ID          string
	Title       string
	URL         string
	PublishedAt string
	Summary     string
	Snippet     string
	Excerpt     string
	Vertical    string
	Source      string
	GraphID     string
	Brands      []string
	Score       int
}

// Scoring weights of the fallback pass, additive across terms.
const (
	ScoreTitleWord    = 100
	ScoreTitleSubstr  = 20
	ScoreSummaryWord  = 30
	ScoreSnippetMatch = 20
	ScoreExcerptMatch = 10
)

// MaxEvidencePerConcept bounds the evidence collected per Concept before
// the aggregator applies the tighter per-row cap.
const MaxEvidencePerConcept = 30
