package graph

import (
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// conceptFromRecord projects a row of ConceptMatchQuery.
func conceptFromRecord(rec *neo4j.Record) (ConceptRecord, error) {
	c := ConceptRecord{
		ID:          strField(rec, "id"),
		Name:        strField(rec, "name"),
		Description: strField(rec, "description"),
		Vertical:    strField(rec, "vertical"),
		GraphID:     strField(rec, "graph_id"),
	}
	raw, _ := rec.Get("evidence")
	items, ok := raw.([]any)
	if raw != nil && !ok {
		return ConceptRecord{}, fmt.Errorf("graph: concept %q: evidence is %T", c.ID, raw)
	}
	for _, item := range items {
		props, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c.Evidence = append(c.Evidence, evidenceFromMap(props))
	}
	return c, nil
}

// evidenceFromRecord projects a flat evidence row (fallback and entity
// queries).
func evidenceFromRecord(rec *neo4j.Record) (EvidenceRecord, error) {
	e := EvidenceRecord{
		ID:          strField(rec, "id"),
		Title:       strField(rec, "title"),
		URL:         strField(rec, "url"),
		PublishedAt: strField(rec, "published_at"),
		Summary:     strField(rec, "summary"),
		Snippet:     strField(rec, "snippet"),
		Excerpt:     strField(rec, "excerpt"),
		Vertical:    strField(rec, "vertical"),
		Source:      strField(rec, "source"),
		GraphID:     strField(rec, "graph_id"),
	}
	raw, _ := rec.Get("brands")
	e.Brands = strList(raw)
	if v, _ := rec.Get("score"); v != nil {
		n, ok := v.(int64)
		if !ok {
			return EvidenceRecord{}, fmt.Errorf("graph: evidence %q: score is %T", e.ID, v)
		}
		e.Score = int(n)
	}
	return e, nil
}

// evidenceFromMap projects one nested evidence map of ConceptMatchQuery.
func evidenceFromMap(props map[string]any) EvidenceRecord {
	return EvidenceRecord{
		ID:          strProp(props, "id"),
		Title:       strProp(props, "title"),
		URL:         strProp(props, "url"),
		PublishedAt: strProp(props, "published_at"),
		Summary:     strProp(props, "summary"),
		Snippet:     strProp(props, "snippet"),
		Excerpt:     strProp(props, "excerpt"),
		Vertical:    strProp(props, "vertical"),
		Source:      strProp(props, "source"),
		GraphID:     strProp(props, "graph_id"),
		Brands:      strList(props["brands"]),
	}
}

func valueFromRecord(rec *neo4j.Record) (string, error) {
	return strField(rec, "value"), nil
}

func strField(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	return asString(v)
}

func strProp(props map[string]any, key string) string {
	return asString(props[key])
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case dbtype.Date:
		return t.Time().Format(time.DateOnly)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case int64:
		return fmt.Sprint(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func strList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
