package graph

import (
	"fmt"
	"sort"
)

// Every template binds untrusted input as parameters. The only formatted
// value is the clamped relationship hop count of ConceptMatchQuery.
//
// Term rule shared by all passes: terms longer than three characters match as
// substrings, shorter ones on word boundaries. Terms reach the store already
// normalized to lowercase letters, digits and spaces.

// ConceptMatchQuery is the primary pass. Parameters: graphId, vertical (nil
// matches all), conceptId (nil for none), terms, limit, evidenceLimit. The %d
// verb takes the maximum RELATED_TO hops (depth-1).
const ConceptMatchQuery = `
MATCH (c:Concept)
WHERE c.graph_id = $graphId
  AND ($vertical IS NULL OR toLower(coalesce(c.vertical, '')) CONTAINS toLower($vertical))
  AND (
    ($conceptId IS NOT NULL AND c.id = $conceptId)
    OR any(term IN $terms WHERE
      CASE WHEN size(term) > 3
        THEN toLower(coalesce(c.name, '')) CONTAINS term
          OR toLower(coalesce(c.description, '')) CONTAINS term
        ELSE toLower(coalesce(c.name, '')) =~ ('(?s).*\\b' + term + '\\b.*')
          OR toLower(coalesce(c.description, '')) =~ ('(?s).*\\b' + term + '\\b.*')
      END)
  )
WITH c
ORDER BY c.name, c.id
LIMIT $limit
OPTIONAL MATCH p = (c)-[:RELATED_TO*0..%d]-(:Concept)<-[:EVIDENCE_FOR]-(e:Evidence)
WHERE all(n IN nodes(p) WHERE n.graph_id = $graphId)
WITH DISTINCT c, e
OPTIONAL MATCH (e)-[:MENTIONS]->(m:Entity)
WHERE m.graph_id = $graphId
WITH c, e, collect(DISTINCT m.name) AS brands
ORDER BY c.name, c.id, coalesce(toString(e.published_at), '') DESC, e.id
WITH c, collect(CASE WHEN e IS NULL THEN NULL ELSE {
    id: e.id, title: e.title, url: e.url,
    published_at: toString(e.published_at),
    summary: e.summary, snippet: e.snippet, excerpt: e.excerpt,
    vertical: e.vertical, source: e.source, graph_id: e.graph_id,
    brands: brands
  } END)[0..$evidenceLimit] AS evidence
RETURN c.id AS id, c.name AS name, c.description AS description,
       c.vertical AS vertical, c.graph_id AS graph_id, evidence
ORDER BY c.name, c.id`

// EvidenceFallbackQuery is the scored evidence search. Parameters: graphId,
// vertical, terms, limit.
const EvidenceFallbackQuery = `
MATCH (e:Evidence)
WHERE e.graph_id = $graphId
  AND ($vertical IS NULL OR toLower(coalesce(e.vertical, '')) CONTAINS toLower($vertical))
WITH e,
     toLower(coalesce(e.title, '')) AS title,
     toLower(coalesce(e.summary, '')) AS summary,
     toLower(coalesce(e.snippet, '')) AS snippet,
     toLower(coalesce(e.excerpt, '')) AS excerpt
WHERE any(term IN $terms WHERE any(f IN [title, summary, snippet, excerpt] WHERE
    (size(term) > 3 AND f CONTAINS term) OR f =~ ('(?s).*\\b' + term + '\\b.*')))
WITH e, reduce(score = 0, term IN $terms |
    score
    + CASE
        WHEN title =~ ('(?s).*\\b' + term + '\\b.*') THEN 100
        WHEN size(term) > 3 AND title CONTAINS term THEN 20
        ELSE 0 END
    + CASE WHEN summary =~ ('(?s).*\\b' + term + '\\b.*') THEN 30 ELSE 0 END
    + CASE WHEN (size(term) > 3 AND snippet CONTAINS term)
             OR snippet =~ ('(?s).*\\b' + term + '\\b.*') THEN 20 ELSE 0 END
    + CASE WHEN (size(term) > 3 AND excerpt CONTAINS term)
             OR excerpt =~ ('(?s).*\\b' + term + '\\b.*') THEN 10 ELSE 0 END
  ) AS score
OPTIONAL MATCH (e)-[:MENTIONS]->(m:Entity)
WHERE m.graph_id = $graphId
WITH e, score, collect(DISTINCT m.name) AS brands
RETURN e.id AS id, e.title AS title, e.url AS url,
       coalesce(toString(e.published_at), '') AS published_at,
       e.summary AS summary, e.snippet AS snippet, e.excerpt AS excerpt,
       e.vertical AS vertical, e.source AS source, e.graph_id AS graph_id,
       brands, score
ORDER BY score DESC, published_at DESC, id
LIMIT $limit`

// EntityEvidenceQuery returns evidence mentioning any entity in names
// (lowercased). Parameters: graphId, vertical, names, limit.
const EntityEvidenceQuery = `
MATCH (m:Entity)<-[:MENTIONS]-(e:Evidence)
WHERE m.graph_id = $graphId AND e.graph_id = $graphId
  AND toLower(m.name) IN $names
  AND ($vertical IS NULL OR toLower(coalesce(e.vertical, '')) CONTAINS toLower($vertical))
WITH DISTINCT e
OPTIONAL MATCH (e)-[:MENTIONS]->(b:Entity)
WHERE b.graph_id = $graphId
WITH e, collect(DISTINCT b.name) AS brands
RETURN e.id AS id, e.title AS title, e.url AS url,
       coalesce(toString(e.published_at), '') AS published_at,
       e.summary AS summary, e.snippet AS snippet, e.excerpt AS excerpt,
       e.vertical AS vertical, e.source AS source, e.graph_id AS graph_id,
       brands, 0 AS score
ORDER BY published_at DESC, id
LIMIT $limit`

// Facet describes one discovery facet.
type Facet struct {
	Name  string
	Query string
	// Split marks comma-delimited values that are split, trimmed and
	// deduplicated after the query.
	Split bool
}

// Facet templates. Parameters: graphId, limit.
const (
	VerticalFacetQuery = `
MATCH (c:Concept)
WHERE c.graph_id = $graphId AND c.vertical IS NOT NULL
RETURN DISTINCT c.vertical AS value
ORDER BY value
LIMIT $limit`

	SourceFacetQuery = `
MATCH (e:Evidence)
WHERE e.graph_id = $graphId AND e.source IS NOT NULL
RETURN DISTINCT e.source AS value
ORDER BY value
LIMIT $limit`

	EntityFacetQuery = `
MATCH (m:Entity)
WHERE m.graph_id = $graphId AND m.name IS NOT NULL
RETURN DISTINCT m.name AS value
ORDER BY value
LIMIT $limit`

	ConceptFacetQuery = `
MATCH (c:Concept)
WHERE c.graph_id = $graphId AND c.name IS NOT NULL
RETURN DISTINCT c.name AS value
ORDER BY value
LIMIT $limit`
)

var facets = map[string]Facet{
	"vertical": {Name: "vertical", Query: VerticalFacetQuery, Split: true},
	"source":   {Name: "source", Query: SourceFacetQuery},
	"entity":   {Name: "entity", Query: EntityFacetQuery},
	"concept":  {Name: "concept", Query: ConceptFacetQuery},
}

// LookupFacet returns the named facet.
func LookupFacet(name string) (Facet, bool) {
	f, ok := facets[name]
	return f, ok
}

// FacetNames lists the supported facets in order.
func FacetNames() []string {
	names := make([]string, 0, len(facets))
	for n := range facets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildConceptMatch formats ConceptMatchQuery for a traversal depth. Depth
// counts the Concept itself, so depth 1 collects directly linked evidence
// only. Out of range values are pulled to 1.
func BuildConceptMatch(depth int) string {
	if depth < 1 {
		depth = 1
	}
	return fmt.Sprintf(ConceptMatchQuery, depth-1)
}
