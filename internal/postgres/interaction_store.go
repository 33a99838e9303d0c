package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Interaction statuses recorded per delivery outcome.
const (
	InteractionSent   = "sent"
	InteractionFailed = "failed"
)

// InteractionStore persists one row per channel interaction and answers the
// trailing-window counts used by the error-rate health check. It also
// doubles as the datastore liveness probe.
type InteractionStore struct {
	db *pgxpool.Pool
}

// NewInteractionStore creates a store over the given pool
func NewInteractionStore(db *pgxpool.Pool) *InteractionStore {
	return &InteractionStore{db: db}
}

// Ping issues the trivial liveness query.
func (s *InteractionStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// RecordInteraction appends one interaction outcome to the log.
func (s *InteractionStore) RecordInteraction(ctx context.Context, configID, status string) error {
	query := `
		INSERT INTO channel_interactions (config_id, status, created_at)
		VALUES ($1, $2, $3)
	`
	_, err := s.db.Exec(ctx, query, configID, status, time.Now().UTC())
	return err
}

// CountInteractions returns total and failed interaction counts since the
// cutoff.
func (s *InteractionStore) CountInteractions(ctx context.Context, since time.Time) (total, failed int64, err error) {
	query := `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $2)
		FROM channel_interactions
		WHERE created_at >= $1
	`
	err = s.db.QueryRow(ctx, query, since, InteractionFailed).Scan(&total, &failed)
	if err != nil {
		return 0, 0, err
	}
	return total, failed, nil
}
