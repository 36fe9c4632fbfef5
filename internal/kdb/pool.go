/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package kdb is the database backend abstraction (pgx pool, named
// stored procedures, workspace LISTEN/NOTIFY fan-in). Every backend
// operation the session engine and ticket-mode handler need is named
// exactly as the operation it performs; the SQL behind each is a
// Postgres function, not inlined queries, so the Go side stays a thin
// typed wrapper.
package kdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the shared, poolable connection to Postgres. Each
// principal-subprotocol connection's commander acquires one
// connection from it per command, and ticket-mode handlers make their
// procedure calls through it too; LISTEN/NOTIFY subscriptions use a
// dedicated ListenConn instead of the pool.
type Pool struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx connection pool against dsn.
func Open(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kdb: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kdb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kdb: ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

func (p *Pool) Close() { p.pool.Close() }

// Procedures returns a Procedures implementation bound to this pool,
// suitable for the commander and ticket-mode handler (both issue
// request/response style calls, never hold a LISTEN session open).
func (p *Pool) Procedures() Procedures { return pgProcedures{q: p.pool} }
