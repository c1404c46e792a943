// Package usage meters governed requests, enforces plan quotas and fans
// delivered usage records out to the configured sinks.
package usage

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/WessleyAI/groundwork/engine/domain"
)

// MeterConfig tunes billing. Zero values fall back to the defaults.
type MeterConfig struct {
	GraphWeights       map[string]float64 `yaml:"graph_weights"`
	OperationUnits     map[string]float64 `yaml:"operation_units"`
	VerticalFactors    map[string]float64 `yaml:"vertical_factors"`
	DefaultGraphWeight float64            `yaml:"default_graph_weight"`
}

// DefaultOperationUnits are the query units charged per operation.
var DefaultOperationUnits = map[domain.Operation]float64{
	domain.OpQuery:          1,
	domain.OpEntityEvidence: 1,
	domain.OpFacets:         0.25,
}

// Meter computes Usage. It depends only on the operation, the graph and the
// vertical, so every call path is charged the same.
type Meter struct {
	weights       map[string]float64
	units         map[domain.Operation]float64
	verticals     map[string]float64
	defaultWeight float64
}

// NewMeter compiles cfg.
func NewMeter(cfg MeterConfig) *Meter {
	m := &Meter{
		weights:       make(map[string]float64, len(cfg.GraphWeights)),
		units:         make(map[domain.Operation]float64, len(DefaultOperationUnits)),
		verticals:     make(map[string]float64, len(cfg.VerticalFactors)),
		defaultWeight: cfg.DefaultGraphWeight,
	}
	for g, w := range cfg.GraphWeights {
		if w > 0 {
			m.weights[g] = w
		}
	}
	for op, u := range DefaultOperationUnits {
		m.units[op] = u
	}
	for op, u := range cfg.OperationUnits {
		if u > 0 {
			m.units[domain.Operation(op)] = u
		}
	}
	for v, f := range cfg.VerticalFactors {
		if f > 0 {
			m.verticals[strings.ToLower(strings.TrimSpace(v))] = f
		}
	}
	return m
}

// Measure returns the usage of one operation against graphID.
func (m *Meter) Measure(op domain.Operation, graphID, vertical string) domain.Usage {
	units := m.units[op]
	if units == 0 {
		units = 1
	}
	factor := 1.0
	if f, ok := m.verticals[strings.ToLower(strings.TrimSpace(vertical))]; ok {
		factor = f
	}
	weight := m.GraphWeight(graphID)
	return domain.Usage{
		QueryUnits:    round4(units * factor),
		GraphWeight:   weight,
		BillableUnits: round4(units * factor * weight),
	}
}

// GraphWeight is the configured weight of graphID, or a stable weight in
// [1.00, 1.49] derived from the id.
func (m *Meter) GraphWeight(graphID string) float64 {
	if w, ok := m.weights[graphID]; ok {
		return round4(w)
	}
	if m.defaultWeight > 0 {
		return round4(m.defaultWeight)
	}
	h := fnv.New32a()
	h.Write([]byte(graphID))
	return round4(1 + float64(h.Sum32()%50)/100)
}

func round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}
