package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"pulse/internal/app/realtime"
	"pulse/internal/pkg/logx"
)

// Execer is the subset of *pgxpool.Pool the session log needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	insertSessionSQL = `INSERT INTO presence_sessions (conn_id, user_id, opened_at) VALUES ($1, $2, $3)`

	closeSessionSQL = `UPDATE presence_sessions SET closed_at = $2, close_reason = $3
WHERE conn_id = $1 AND closed_at IS NULL`
)

// SessionLog records every joined session in presence_sessions.
// It is a realtime.SessionObserver.
type SessionLog struct {
	db     Execer
	logger zerolog.Logger
}

var _ realtime.SessionObserver = (*SessionLog)(nil)

// NewSessionLog returns a session log writing through db.
func NewSessionLog(db Execer) *SessionLog {
	return &SessionLog{db: db, logger: logx.Component("session_log")}
}

// SessionOpened inserts the session row. A row already present for the connection is kept.
func (l *SessionLog) SessionOpened(ctx context.Context, s realtime.SessionInfo) error {
	_, err := l.db.Exec(ctx, insertSessionSQL, s.ConnID, s.UserID, s.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			l.logger.Debug().Str("conn_id", s.ConnID).Msg("Session already recorded")
			return nil
		}
		return fmt.Errorf("failed to insert session %s: %w", s.ConnID, err)
	}
	return nil
}

// SessionClosed stamps the close time and reason on the session row.
func (l *SessionLog) SessionClosed(ctx context.Context, s realtime.SessionInfo) error {
	tag, err := l.db.Exec(ctx, closeSessionSQL, s.ConnID, s.ClosedAt, s.Reason)
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", s.ConnID, err)
	}

	if tag.RowsAffected() == 0 {
		l.logger.Warn().Str("conn_id", s.ConnID).Str("user_id", s.UserID).Msg("No open session row to close")
	}
	return nil
}

// isUniqueViolation reports a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
