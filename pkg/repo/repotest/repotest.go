// Package repotest provides in-memory fakes for the repo session seam.
package repotest

import (
	"context"
	"sync"

	"github.com/WessleyAI/groundwork/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Call is one recorded Run.
type Call struct {
	Cypher string
	Params map[string]any
}

// Opener hands out sessions that replay canned results and record every
// query. Responses are consumed in order; the last one repeats.
type Opener struct {
	mu        sync.Mutex
	Responses []Response
	Calls     []Call
	Opened    int
	Closed    int
}

// Response is what one Run returns.
type Response struct {
	Records []*neo4j.Record
	RunErr  error
	IterErr error
}

// NewOpener returns an Opener replaying responses.
func NewOpener(responses ...Response) *Opener {
	return &Opener{Responses: responses}
}

// OpenSession implements repo.Opener.
func (o *Opener) OpenSession(_ context.Context) repo.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Opened++
	return &session{o: o}
}

// Balanced reports whether every opened session was closed.
func (o *Opener) Balanced() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Opened == o.Closed
}

func (o *Opener) next(cypher string, params map[string]any) Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls = append(o.Calls, Call{Cypher: cypher, Params: params})
	if len(o.Responses) == 0 {
		return Response{}
	}
	r := o.Responses[0]
	if len(o.Responses) > 1 {
		o.Responses = o.Responses[1:]
	}
	return r
}

type session struct {
	o      *Opener
	closed bool
}

func (s *session) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	r := s.o.next(cypher, params)
	if r.RunErr != nil {
		return nil, r.RunErr
	}
	return &result{records: r.Records, err: r.IterErr}, nil
}

func (s *session) Close(_ context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.o.mu.Lock()
	s.o.Closed++
	s.o.mu.Unlock()
	return nil
}

type result struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (r *result) Next(_ context.Context) bool {
	if r.idx >= len(r.records) {
		return false
	}
	r.idx++
	return true
}

func (r *result) Record() *neo4j.Record {
	if r.idx == 0 || r.idx > len(r.records) {
		return nil
	}
	return r.records[r.idx-1]
}

func (r *result) Err() error {
	if r.idx >= len(r.records) {
		return r.err
	}
	return nil
}

// Record builds a neo4j.Record from alternating key/value pairs.
func Record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}
