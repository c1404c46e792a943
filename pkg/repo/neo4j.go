// Package repo is the seam between the engine and the Neo4j driver: one
// pooled read session per call, released on every exit path.
package repo

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Session is the minimal interface needed from a neo4j session.
type Session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Opener hands out a fresh session for exactly one call.
type Opener interface {
	OpenSession(ctx context.Context) Session
}

// DriverOpener opens read sessions on a pooled driver.
type DriverOpener struct {
	Driver   neo4j.DriverWithContext
	Database string
	// QueryTimeout bounds each transaction server-side. Zero leaves the
	// server default in place.
	QueryTimeout time.Duration
}

// OpenSession implements Opener.
func (o *DriverOpener) OpenSession(ctx context.Context) Session {
	sess := o.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: o.Database,
	})
	return &sessionAdapter{sess: sess, timeout: o.QueryTimeout}
}

// sessionAdapter adapts neo4j.SessionWithContext to the Session interface.
type sessionAdapter struct {
	sess    neo4j.SessionWithContext
	timeout time.Duration
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	var cfg []func(*neo4j.TransactionConfig)
	if a.timeout > 0 {
		cfg = append(cfg, neo4j.WithTxTimeout(a.timeout))
	}
	res, err := a.sess.Run(ctx, cypher, params, cfg...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Collect runs cypher on a session of its own and projects every record
// through project. The session is closed on success, on an empty result and
// on error, including when ctx was cancelled mid-stream.
func Collect[T any](
	ctx context.Context,
	o Opener,
	cypher string,
	params map[string]any,
	project func(*neo4j.Record) (T, error),
) ([]T, error) {
	sess := o.OpenSession(ctx)
	defer sess.Close(context.WithoutCancel(ctx))

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var items []T
	for res.Next(ctx) {
		item, err := project(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
