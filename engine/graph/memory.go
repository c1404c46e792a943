package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/terms"
	"github.com/WessleyAI/groundwork/pkg/fn"
	"gopkg.in/yaml.v3"
)

// Fixture is a YAML description of one or more graphs.
type Fixture struct {
	Concepts []FixtureConcept  `yaml:"concepts"`
	Evidence []FixtureEvidence `yaml:"evidence"`
}

// FixtureConcept is a Concept node. Related lists ids of Concepts in the
// same graph joined by RELATED_TO.
type FixtureConcept struct {
	ID          string   `yaml:"id"`
	GraphID     string   `yaml:"graph_id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Vertical    string   `yaml:"vertical"`
	Related     []string `yaml:"related"`
}

// FixtureEvidence is an Evidence node. Concepts lists the Concepts it is
// EVIDENCE_FOR; Mentions lists Entity names.
type FixtureEvidence struct {
	ID          string   `yaml:"id"`
	GraphID     string   `yaml:"graph_id"`
	Title       string   `yaml:"title"`
	URL         string   `yaml:"url"`
	PublishedAt string   `yaml:"published_at"`
	Summary     string   `yaml:"summary"`
	Snippet     string   `yaml:"snippet"`
	Excerpt     string   `yaml:"excerpt"`
	Vertical    string   `yaml:"vertical"`
	Source      string   `yaml:"source"`
	Concepts    []string `yaml:"concepts"`
	Mentions    []string `yaml:"mentions"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("graph: read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes fixture YAML.
func ParseFixture(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("graph: parse fixture: %w", err)
	}
	return f, nil
}

type nodeKey struct{ graph, id string }

// MemoryStore implements Store over an in-memory fixture with the same
// lexical rules and ordering as the Cypher templates. It is read-only after
// construction and safe for concurrent use.
type MemoryStore struct {
	concepts []FixtureConcept
	evidence []FixtureEvidence
	related  map[nodeKey][]string
	linked   map[nodeKey][]int // concept -> evidence indexes

	calls atomic.Int64
	// Fail, if set, makes every call return a StoreError wrapping it.
	Fail error
}

// NewMemoryStore indexes f.
func NewMemoryStore(f Fixture) *MemoryStore {
	m := &MemoryStore{
		concepts: f.Concepts,
		evidence: f.Evidence,
		related:  make(map[nodeKey][]string),
		linked:   make(map[nodeKey][]int),
	}
	for _, c := range f.Concepts {
		k := nodeKey{c.GraphID, c.ID}
		for _, r := range c.Related {
			m.related[k] = append(m.related[k], r)
			rk := nodeKey{c.GraphID, r}
			m.related[rk] = append(m.related[rk], c.ID)
		}
	}
	for i, e := range f.Evidence {
		for _, cid := range e.Concepts {
			k := nodeKey{e.GraphID, cid}
			m.linked[k] = append(m.linked[k], i)
		}
	}
	return m
}

// Calls returns how many store operations were attempted.
func (m *MemoryStore) Calls() int64 { return m.calls.Load() }

func (m *MemoryStore) begin(ctx context.Context, op string) error {
	m.calls.Add(1)
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.StoreError{Op: op, Unavailable: true, Cause: err}
	case err != nil:
		return fmt.Errorf("graph: %s: %w", op, err)
	}
	if m.Fail != nil {
		return &domain.StoreError{Op: op, Unavailable: true, Cause: m.Fail}
	}
	return nil
}

// MatchConcepts implements Store.
func (m *MemoryStore) MatchConcepts(ctx context.Context, q ConceptQuery) ([]ConceptRecord, error) {
	if err := m.begin(ctx, "concept_match"); err != nil {
		return nil, err
	}
	var hits []FixtureConcept
	for _, c := range m.concepts {
		if c.GraphID != q.GraphID || !verticalMatches(c.Vertical, q.Vertical) {
			continue
		}
		if (q.ConceptID != "" && c.ID == q.ConceptID) || anyTermMatches(q.Terms, c.Name, c.Description) {
			hits = append(hits, c)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Name != hits[j].Name {
			return hits[i].Name < hits[j].Name
		}
		return hits[i].ID < hits[j].ID
	})
	if q.Limit >= 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	evLimit := min(q.EvidenceLimit, MaxEvidencePerConcept)
	out := make([]ConceptRecord, 0, len(hits))
	for _, c := range hits {
		rec := ConceptRecord{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Vertical:    c.Vertical,
			GraphID:     c.GraphID,
		}
		ev := m.conceptEvidence(c, max(q.Depth, 1))
		if len(ev) > evLimit {
			ev = ev[:max(evLimit, 0)]
		}
		rec.Evidence = ev
		out = append(out, rec)
	}
	return out, nil
}

// conceptEvidence collects evidence linked to c or to Concepts within
// depth-1 RELATED_TO hops, newest first.
func (m *MemoryStore) conceptEvidence(c FixtureConcept, depth int) []EvidenceRecord {
	reach := map[string]bool{c.ID: true}
	frontier := []string{c.ID}
	for hop := 1; hop < depth; hop++ {
		var next []string
		for _, id := range frontier {
			for _, r := range m.related[nodeKey{c.GraphID, id}] {
				if !reach[r] && m.hasConcept(c.GraphID, r) {
					reach[r] = true
					next = append(next, r)
				}
			}
		}
		frontier = next
	}
	seen := make(map[int]bool)
	var out []EvidenceRecord
	for id := range reach {
		for _, i := range m.linked[nodeKey{c.GraphID, id}] {
			if !seen[i] {
				seen[i] = true
				out = append(out, toEvidenceRecord(m.evidence[i], 0))
			}
		}
	}
	sortEvidence(out)
	return out
}

func (m *MemoryStore) hasConcept(graph, id string) bool {
	for _, c := range m.concepts {
		if c.GraphID == graph && c.ID == id {
			return true
		}
	}
	return false
}

// SearchEvidence implements Store.
func (m *MemoryStore) SearchEvidence(ctx context.Context, q EvidenceQuery) ([]EvidenceRecord, error) {
	if len(q.Terms) == 0 {
		return nil, nil
	}
	if err := m.begin(ctx, "evidence_fallback"); err != nil {
		return nil, err
	}
	var out []EvidenceRecord
	for _, e := range m.evidence {
		if e.GraphID != q.GraphID || !verticalMatches(e.Vertical, q.Vertical) {
			continue
		}
		if !anyTermMatches(q.Terms, e.Title, e.Summary, e.Snippet, e.Excerpt) {
			continue
		}
		out = append(out, toEvidenceRecord(e, Score(q.Terms, e.Title, e.Summary, e.Snippet, e.Excerpt)))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return newer(out[i], out[j])
	})
	return truncate(out, q.Limit), nil
}

// EvidenceForEntities implements Store.
func (m *MemoryStore) EvidenceForEntities(ctx context.Context, q EntityQuery) ([]EvidenceRecord, error) {
	want := make(map[string]bool, len(q.Names))
	for _, n := range fn.FilterMap(q.Names, entityKey) {
		want[n] = true
	}
	if len(want) == 0 {
		return nil, nil
	}
	if err := m.begin(ctx, "entity_evidence"); err != nil {
		return nil, err
	}
	var out []EvidenceRecord
	for _, e := range m.evidence {
		if e.GraphID != q.GraphID || !verticalMatches(e.Vertical, q.Vertical) {
			continue
		}
		for _, name := range e.Mentions {
			if want[strings.ToLower(name)] {
				out = append(out, toEvidenceRecord(e, 0))
				break
			}
		}
	}
	sortEvidence(out)
	return truncate(out, q.Limit), nil
}

// FacetValues implements Store.
func (m *MemoryStore) FacetValues(ctx context.Context, q FacetQuery) ([]string, error) {
	f, ok := LookupFacet(q.Facet)
	if !ok {
		return nil, domain.NewValidationError("facet", q.Facet, domain.ErrUnknownFacet)
	}
	if err := m.begin(ctx, "facet_"+f.Name); err != nil {
		return nil, err
	}
	var raw []string
	switch f.Name {
	case "vertical":
		for _, c := range m.concepts {
			if c.GraphID == q.GraphID {
				raw = append(raw, c.Vertical)
			}
		}
	case "concept":
		for _, c := range m.concepts {
			if c.GraphID == q.GraphID {
				raw = append(raw, c.Name)
			}
		}
	case "source":
		for _, e := range m.evidence {
			if e.GraphID == q.GraphID {
				raw = append(raw, e.Source)
			}
		}
	case "entity":
		for _, e := range m.evidence {
			if e.GraphID == q.GraphID {
				raw = append(raw, e.Mentions...)
			}
		}
	}
	return FacetResult(f, raw, q.Limit), nil
}

// Score computes the fallback relevance of one evidence item, additive
// across terms. It orders matches; it does not decide them.
func Score(searchTerms []string, title, summary, snippet, excerpt string) int {
	title, summary = strings.ToLower(title), strings.ToLower(summary)
	snippet, excerpt = strings.ToLower(snippet), strings.ToLower(excerpt)
	score := 0
	for _, t := range searchTerms {
		switch {
		case terms.ContainsWord(title, t):
			score += ScoreTitleWord
		case len([]rune(t)) > 3 && strings.Contains(title, t):
			score += ScoreTitleSubstr
		}
		if terms.ContainsWord(summary, t) {
			score += ScoreSummaryWord
		}
		if terms.Matches(snippet, t) {
			score += ScoreSnippetMatch
		}
		if terms.Matches(excerpt, t) {
			score += ScoreExcerptMatch
		}
	}
	return score
}

func anyTermMatches(searchTerms []string, fields ...string) bool {
	for i := range fields {
		fields[i] = strings.ToLower(fields[i])
	}
	for _, t := range searchTerms {
		for _, f := range fields {
			if terms.Matches(f, t) {
				return true
			}
		}
	}
	return false
}

func verticalMatches(tag, want string) bool {
	want = strings.TrimSpace(want)
	return want == "" || strings.Contains(strings.ToLower(tag), strings.ToLower(want))
}

func toEvidenceRecord(e FixtureEvidence, score int) EvidenceRecord {
	return EvidenceRecord{
		ID:          e.ID,
		Title:       e.Title,
		URL:         e.URL,
		PublishedAt: e.PublishedAt,
		Summary:     e.Summary,
		Snippet:     e.Snippet,
		Excerpt:     e.Excerpt,
		Vertical:    e.Vertical,
		Source:      e.Source,
		GraphID:     e.GraphID,
		Brands:      dedupeStrings(e.Mentions),
		Score:       score,
	}
}

// newer orders by publish date descending (missing dates last), then id.
func newer(a, b EvidenceRecord) bool {
	if a.PublishedAt != b.PublishedAt {
		return a.PublishedAt > b.PublishedAt
	}
	return a.ID < b.ID
}

func sortEvidence(ev []EvidenceRecord) {
	sort.SliceStable(ev, func(i, j int) bool { return newer(ev[i], ev[j]) })
}

func truncate(ev []EvidenceRecord, limit int) []EvidenceRecord {
	if limit >= 0 && len(ev) > limit {
		return ev[:limit]
	}
	return ev
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
