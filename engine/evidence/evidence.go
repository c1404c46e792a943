// Package evidence shapes raw graph records into the public row contract:
// stable row ids, deduplicated mentions, inherited verticals and the governor
// caps on rows and nested evidence.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/graph"
)

// Row id prefixes keep concept and evidence rows in separate id spaces.
const (
	ConceptPrefix  = "concept:"
	EvidencePrefix = "evidence:"
)

// Caps bounds the shape of a response. Non-positive values disable a cap.
type Caps struct {
	EvidencePerRow  int
	TopK            int
	NodeCap         int
	RelationshipCap int
}

// ConceptRows shapes primary-pass records. Concepts without evidence are
// kept with an empty evidence list.
func ConceptRows(records []graph.ConceptRecord, caps Caps) []domain.Row {
	rows := make([]domain.Row, 0, len(records))
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = StableID(rec.GraphID, rec.Name, "")
		}
		row := domain.Row{
			ID:         ConceptPrefix + id,
			Name:       rec.Name,
			Summary:    rec.Description,
			NodeType:   domain.NodeConcept,
			Confidence: domain.ConfidenceHigh,
			Vertical:   rec.Vertical,
			Evidence:   []domain.Evidence{},
		}
		seen := make(map[string]bool)
		var brands []string
		for _, er := range rec.Evidence {
			ev, ok := shape(er, rec.Vertical)
			if !ok || seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			row.Evidence = append(row.Evidence, ev)
			brands = append(brands, ev.Brands...)
		}
		row.Brands = dedupe(brands)
		rows = append(rows, row)
	}
	return Enforce(rows, caps)
}

// EvidenceRows shapes fallback or entity hits into flat, low-confidence rows.
// Each row nests the evidence item it was built from.
func EvidenceRows(hits []graph.EvidenceRecord, caps Caps) []domain.Row {
	rows := make([]domain.Row, 0, len(hits))
	for _, h := range hits {
		ev, ok := shape(h, "")
		if !ok {
			continue
		}
		summary := h.Summary
		if summary == "" {
			summary = h.Snippet
		}
		name := ev.Title
		if name == "" {
			name = ev.ID
		}
		rows = append(rows, domain.Row{
			ID:         EvidencePrefix + ev.ID,
			Name:       name,
			Summary:    summary,
			NodeType:   domain.NodeEvidence,
			Confidence: domain.ConfidenceLow,
			Vertical:   ev.Vertical,
			Brands:     ev.Brands,
			Evidence:   []domain.Evidence{ev},
		})
	}
	return Enforce(rows, caps)
}

// Merge concatenates row sets in trust order, keeping the first row of any
// duplicated id, and re-applies caps.
func Merge(caps Caps, sets ...[]domain.Row) []domain.Row {
	var out []domain.Row
	for _, set := range sets {
		out = append(out, set...)
	}
	return Enforce(out, caps)
}

// Enforce deduplicates rows by id and applies caps in order: TopK rows,
// EvidencePerRow per row, RelationshipCap total nested evidence, then NodeCap
// over rows plus nested evidence.
func Enforce(rows []domain.Row, caps Caps) []domain.Row {
	seen := make(map[string]bool, len(rows))
	out := make([]domain.Row, 0, len(rows))
	relBudget := caps.RelationshipCap
	nodeBudget := caps.NodeCap
	for _, r := range rows {
		if seen[r.ID] {
			continue
		}
		if caps.TopK > 0 && len(out) >= caps.TopK {
			break
		}
		if caps.NodeCap > 0 && nodeBudget < 1 {
			break
		}
		seen[r.ID] = true

		ev := r.Evidence
		if caps.EvidencePerRow > 0 && len(ev) > caps.EvidencePerRow {
			ev = ev[:caps.EvidencePerRow]
		}
		if caps.RelationshipCap > 0 {
			ev = ev[:min(len(ev), max(relBudget, 0))]
			relBudget -= len(ev)
		}
		if caps.NodeCap > 0 {
			nodeBudget--
			ev = ev[:min(len(ev), nodeBudget)]
			nodeBudget -= len(ev)
		}
		r.Evidence = append([]domain.Evidence{}, ev...)
		out = append(out, r)
	}
	return out
}

// shape projects one record, dropping items with neither id nor title.
// Missing ids are derived from (graph, title, url); a missing vertical is
// inherited from the linking Concept.
func shape(er graph.EvidenceRecord, inheritVertical string) (domain.Evidence, bool) {
	if er.ID == "" && er.Title == "" {
		return domain.Evidence{}, false
	}
	id := er.ID
	if id == "" {
		id = StableID(er.GraphID, er.Title, er.URL)
	}
	vertical := er.Vertical
	if vertical == "" {
		vertical = inheritVertical
	}
	return domain.Evidence{
		ID:          id,
		Title:       er.Title,
		URL:         er.URL,
		PublishedAt: er.PublishedAt,
		Summary:     er.Summary,
		Snippet:     er.Snippet,
		Vertical:    vertical,
		Brands:      dedupe(er.Brands),
	}, true
}

// StableID derives a deterministic id for records stored without one.
func StableID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "h" + hex.EncodeToString(sum[:8])
}

// dedupe flattens mentions case-insensitively, keeping the first spelling.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
