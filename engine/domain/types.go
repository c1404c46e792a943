// Package domain defines the request, row, verdict and usage types shared by the
// retrieval engine and the request governor, plus the error taxonomy and request
// validation that gate every entry point.
package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// NodeType tags a result row with the kind of graph node it was built from.
type NodeType string

const (
	NodeConcept  NodeType = "CONCEPT"
	NodeEvidence NodeType = "EVIDENCE"
)

// DataStatus is the coarse outcome of the two-tier retrieval.
type DataStatus string

const (
	StatusConceptMatch  DataStatus = "CONCEPT_MATCH"
	StatusEvidenceMatch DataStatus = "EVIDENCE_MATCH"
	StatusNoMatch       DataStatus = "NO_MATCH"
)

// Decision is the answer-gating verdict handed to the composition layer.
type Decision string

const (
	DecisionAnswer            Decision = "ANSWER"
	DecisionAnswerWithCaveats Decision = "ANSWER_WITH_CAVEATS"
	DecisionRefuse            Decision = "REFUSE"
)

// Confidence labels how much a row can be trusted as grounding.
type Confidence string

const (
	ConfidenceHigh Confidence = "high" // curated concept match
	ConfidenceLow  Confidence = "low"  // raw evidence fallback
)

// CallPath identifies how a request reached the governor. It is recorded for
// audit only and never influences metering.
type CallPath string

const (
	PathDirect       CallPath = "direct"
	PathHTTP         CallPath = "http"
	PathIntermediary CallPath = "intermediary"
)

// Operation names a metered governor operation.
type Operation string

const (
	OpQuery          Operation = "query"
	OpEntityEvidence Operation = "entity_evidence"
	OpFacets         Operation = "facets"
)

// FlexInt decodes a JSON number or numeric string. Anything else decodes to 0,
// which the governor treats as "use the default".
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(b)), `"`))
	n, err := strconv.Atoi(s)
	if err != nil {
		if fl, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			n = int(fl)
		} else {
			n = 0
		}
	}
	*f = FlexInt(n)
	return nil
}

// MarshalJSON encodes the value as a plain number.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}

// QueryRequest is the body of the query endpoint. Text is a pointer so an
// absent field (a validation failure) can be told apart from an empty one
// (a legitimate NO_MATCH).
type QueryRequest struct {
	Text             *string  `json:"text" validate:"required"`
	Vertical         string   `json:"vertical,omitempty" validate:"max=64"`
	ExplicitTerms    []string `json:"explicitTerms,omitempty" validate:"max=40"`
	GraphID          string   `json:"graphId,omitempty" validate:"max=128"`
	ConceptContextID string   `json:"conceptContextId,omitempty" validate:"max=256"`
	Limit            FlexInt  `json:"limit,omitempty"`
	Depth            FlexInt  `json:"depth,omitempty"`
	EvidencePerRow   FlexInt  `json:"evidencePerRow,omitempty"`
	NodeCap          FlexInt  `json:"nodeCap,omitempty"`
	RelationshipCap  FlexInt  `json:"relationshipCap,omitempty"`
}

// QueryText returns the request text, or "" when absent.
func (r QueryRequest) QueryText() string {
	if r.Text == nil {
		return ""
	}
	return *r.Text
}

// EntityRequest is the body of the entity-evidence endpoint.
type EntityRequest struct {
	EntityNames []string `json:"entityNames" validate:"required,min=1,max=25,dive,required,max=128"`
	Vertical    string   `json:"vertical,omitempty" validate:"max=64"`
	GraphID     string   `json:"graphId,omitempty" validate:"max=128"`
	Limit       FlexInt  `json:"limit,omitempty"`
}

// FacetRequest asks for the distinct values of a named facet in a graph.
type FacetRequest struct {
	GraphID string  `json:"graphId" validate:"max=128"`
	Facet   string  `json:"facet" validate:"required,max=32"`
	Limit   FlexInt `json:"limit,omitempty"`
}

// Evidence is a supporting document nested under a row.
type Evidence struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	URL         string   `json:"url,omitempty"`
	PublishedAt string   `json:"publishedAt,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
	Vertical    string   `json:"vertical,omitempty"`
	Brands      []string `json:"brands,omitempty"`
}

// Row is the public result contract. Its shape is identical for concept and
// evidence rows.
type Row struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Summary    string     `json:"summary"`
	NodeType   NodeType   `json:"nodeType"`
	Confidence Confidence `json:"confidence"`
	Vertical   string     `json:"vertical,omitempty"`
	Brands     []string   `json:"brands,omitempty"`
	Evidence   []Evidence `json:"evidence"`
}

// Verdict is the coverage decision for one request.
type Verdict struct {
	RequiredTerms []string `json:"requiredTerms"`
	MatchedTerms  []string `json:"matchedTerms"`
	Ratio         float64  `json:"coverageRatio"`
	Decision      Decision `json:"decision"`
}

// Usage is the metered cost attached to every successful response.
type Usage struct {
	QueryUnits    float64 `json:"queryUnits"`
	GraphWeight   float64 `json:"graphWeight"`
	BillableUnits float64 `json:"billableUnits"`
}

// UsageRecord is what the usage sinks persist once a response was delivered.
type UsageRecord struct {
	RequestID      string        `json:"requestId"`
	TenantID       string        `json:"tenantId"`
	KeyFingerprint string        `json:"keyFingerprint"`
	GraphID        string        `json:"graphId"`
	Operation      Operation     `json:"operation"`
	CallPath       CallPath      `json:"callPath"`
	Usage          Usage         `json:"usage"`
	Latency        time.Duration `json:"latencyNs"`
	RecordedAt     time.Time     `json:"recordedAt"`
}

// Meta carries the coverage verdict and usage for a query response.
type Meta struct {
	Terms         []string `json:"terms"`
	RequiredTerms []string `json:"requiredTerms"`
	MatchedTerms  []string `json:"matchedTerms"`
	CoverageRatio float64  `json:"coverageRatio"`
	Decision      Decision `json:"decision"`
	Usage         Usage    `json:"usage"`
}

// QueryData is the data payload of query and entity-evidence responses.
type QueryData struct {
	DataStatus DataStatus `json:"dataStatus"`
	Rows       []Row      `json:"rows"`
	Meta       Meta       `json:"meta"`
}

// FacetMeta carries usage for a discovery response.
type FacetMeta struct {
	Usage Usage `json:"usage"`
}

// FacetData is the data payload of discovery responses.
type FacetData struct {
	Facet  string    `json:"facet"`
	Values []string  `json:"values"`
	Meta   FacetMeta `json:"meta"`
}

// Envelope wraps every successful response.
type Envelope[T any] struct {
	RequestID     string    `json:"requestId"`
	GraphID       string    `json:"graphId"`
	SchemaVersion string    `json:"schemaVersion"`
	GeneratedAt   time.Time `json:"generatedAt"`
	Data          T         `json:"data"`
}
