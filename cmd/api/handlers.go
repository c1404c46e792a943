package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/WessleyAI/groundwork/engine/config"
	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/governor"
	"github.com/WessleyAI/groundwork/pkg/metrics"
	"github.com/WessleyAI/groundwork/pkg/mid"
)

const maxBodyBytes = 1 << 20

// newHandler builds the HTTP surface. Every data route is a thin adapter
// over the governor.
func newHandler(gov *governor.Governor, m *metrics.Engine, cfg config.Config, logger *slog.Logger) http.Handler {
	api := &api{gov: gov, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("POST /v1/query", api.handleQuery)
	mux.HandleFunc("POST /v1/entities/evidence", api.handleEntities)
	mux.HandleFunc("GET /v1/graphs/{graphId}/facets/{facet}", api.handleFacets)

	return mid.Chain(mux,
		mid.OTel(cfg.ServiceName),
		mid.RequestID(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBody(maxBodyBytes),
	)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type api struct {
	gov    *governor.Governor
	logger *slog.Logger
}

func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if !a.decode(w, r, &req) {
		return
	}
	d := &delivery{w: w}
	err := a.gov.Query(r.Context(), callFrom(r), req, deliverJSON[domain.QueryData](d))
	d.finish(r, err)
}

func (a *api) handleEntities(w http.ResponseWriter, r *http.Request) {
	var req domain.EntityRequest
	if !a.decode(w, r, &req) {
		return
	}
	d := &delivery{w: w}
	err := a.gov.EntityEvidence(r.Context(), callFrom(r), req, deliverJSON[domain.QueryData](d))
	d.finish(r, err)
}

func (a *api) handleFacets(w http.ResponseWriter, r *http.Request) {
	req := domain.FacetRequest{
		GraphID: r.PathValue("graphId"),
		Facet:   r.PathValue("facet"),
		Limit:   queryInt(r, "limit"),
	}
	d := &delivery{w: w}
	err := a.gov.Facets(r.Context(), callFrom(r), req, deliverJSON[domain.FacetData](d))
	d.finish(r, err)
}

// decode reads a JSON body. A malformed body is rejected before the
// governor sees the request.
func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		verr := domain.NewValidationError("body", "", fmt.Errorf("%w: malformed JSON", domain.ErrInvalidField))
		a.logger.Warn("request rejected",
			"request_id", mid.RequestIDFrom(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		writeError(w, mid.RequestIDFrom(r.Context()), verr)
		return false
	}
	return true
}

// delivery tracks whether the envelope reached the response writer, so a
// failure after delivery does not write a second body.
type delivery struct {
	w       http.ResponseWriter
	written bool
}

func deliverJSON[T any](d *delivery) func(*domain.Envelope[T]) error {
	return func(env *domain.Envelope[T]) error {
		d.written = true
		return writeJSON(d.w, http.StatusOK, env)
	}
}

func (d *delivery) finish(r *http.Request, err error) {
	if err == nil || d.written {
		return
	}
	if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return
	}
	writeError(d.w, mid.RequestIDFrom(r.Context()), err)
}

// callFrom extracts the credential and call path from request headers.
func callFrom(r *http.Request) governor.Call {
	path := domain.PathHTTP
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Call-Path")), string(domain.PathIntermediary)) {
		path = domain.PathIntermediary
	}
	return governor.Call{
		Credential: credential(r),
		Path:       path,
		RequestID:  mid.RequestIDFrom(r.Context()),
	}
}

func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// queryInt parses a numeric query parameter. Anything unparseable means
// "use the default".
func queryInt(r *http.Request, key string) domain.FlexInt {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return domain.FlexInt(n)
}

type errorBody struct {
	RequestID string      `json:"requestId"`
	Error     errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	code, status, retryable := domain.Classify(err)
	if retryable {
		w.Header().Set("Retry-After", "1")
	}
	_ = writeJSON(w, status, errorBody{
		RequestID: requestID,
		Error: errorDetail{
			Code:      code,
			Message:   domain.PublicMessage(err),
			Retryable: retryable,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
