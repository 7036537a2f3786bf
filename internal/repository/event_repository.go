package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/karripar/va-hybrid-api/internal/models"
)

// EventRepository reads the status change log written alongside transitions.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListByApplication returns the latest events first.
func (r *EventRepository) ListByApplication(ctx context.Context, applicationID string, limit int) ([]models.StageStatusChangeEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `SELECT id, application_id, user_id, phase, stage_id, old_status, new_status, triggered_by, occurred_at
	FROM status_events WHERE application_id = $1 ORDER BY occurred_at DESC, id LIMIT $2`
	var events []models.StageStatusChangeEvent
	if err := r.db.SelectContext(ctx, &events, query, applicationID, limit); err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	return events, nil
}
