/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ListenConn is a dedicated (unpooled) connection used by the
// eventer: LISTEN/UNLISTEN hold session state a pooled connection
// cannot safely keep across reuse.
type ListenConn struct {
	conn *pgx.Conn
}

// DialListenConn opens a fresh connection dedicated to one eventer
// instance.
func DialListenConn(ctx context.Context, dsn string) (*ListenConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("kdb: listen connect: %w", err)
	}
	return &ListenConn{conn: conn}, nil
}

func (lc *ListenConn) Close(ctx context.Context) error { return lc.conn.Close(ctx) }

// EventLogChannel and PermCheckChannel name the two per-workspace
// notification channels the eventer listens on.
func EventLogChannel(workspaceID uint64) string {
	return fmt.Sprintf("kws_%d_event_log", workspaceID)
}

func PermCheckChannel(workspaceID uint64) string {
	return fmt.Sprintf("kws_%d_perm_check", workspaceID)
}

// Listen begins listening on both of a workspace's channels.
func (lc *ListenConn) Listen(ctx context.Context, workspaceID uint64) error {
	if _, err := lc.conn.Exec(ctx, `LISTEN "`+EventLogChannel(workspaceID)+`"`); err != nil {
		return fmt.Errorf("kdb: listen event_log: %w", err)
	}
	if _, err := lc.conn.Exec(ctx, `LISTEN "`+PermCheckChannel(workspaceID)+`"`); err != nil {
		return fmt.Errorf("kdb: listen perm_check: %w", err)
	}
	return nil
}

// Unlisten stops listening on both of a workspace's channels.
func (lc *ListenConn) Unlisten(ctx context.Context, workspaceID uint64) error {
	if _, err := lc.conn.Exec(ctx, `UNLISTEN "`+EventLogChannel(workspaceID)+`"`); err != nil {
		return fmt.Errorf("kdb: unlisten event_log: %w", err)
	}
	if _, err := lc.conn.Exec(ctx, `UNLISTEN "`+PermCheckChannel(workspaceID)+`"`); err != nil {
		return fmt.Errorf("kdb: unlisten perm_check: %w", err)
	}
	return nil
}

// Notification is the channel name plus payload of one fan-in event.
type Notification struct {
	Channel string
	Payload string
}

// WaitForNotification blocks until the next notification arrives or
// ctx is done. The eventer calls this from its own goroutine and
// feeds the result back through a channel so it can be interleaved
// with the session's shared-state notifier pipe.
func (lc *ListenConn) WaitForNotification(ctx context.Context) (Notification, error) {
	n, err := lc.conn.WaitForNotification(ctx)
	if err != nil {
		return Notification{}, err
	}
	return Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

// Procedures adapts this dedicated connection for callers that also
// need request/response-style procedure calls on it (the session
// eventer, for one, polls workspace event logs through it).
func (lc *ListenConn) Procedures() Procedures { return NewProcedures(lc.conn) }
