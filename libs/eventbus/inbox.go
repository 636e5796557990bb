package eventbus

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docslot/docslot/libs/db"
)

// Inbox deduplicates consumed events against the inbox_events table.
// Record returns false when the event was already processed.
type Inbox struct {
	pool *db.Pool
}

func NewInbox(pool *db.Pool) *Inbox {
	return &Inbox{pool: pool}
}

func (i *Inbox) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := i.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}

	return false, err
}
