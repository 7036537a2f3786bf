package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/karripar/va-hybrid-api/internal/models"
)

const grantColumns = `id, user_id, source, kind, name, status, estimated_amount, approved_amount, created_at, updated_at`

// GrantRepository persists grant records.
type GrantRepository struct {
	db *sqlx.DB
}

// NewGrantRepository constructs the repository.
func NewGrantRepository(db *sqlx.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// ListByUser returns all grants of a user ordered by source, kind and name.
func (r *GrantRepository) ListByUser(ctx context.Context, userID string) ([]models.GrantRecord, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE user_id = $1 ORDER BY source, kind, name`
	var grants []models.GrantRecord
	if err := r.db.SelectContext(ctx, &grants, query, userID); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// GetByKey fetches the grant identified by its natural key.
func (r *GrantRepository) GetByKey(ctx context.Context, userID string, source models.GrantSource, kind, name string) (*models.GrantRecord, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE user_id = $1 AND source = $2 AND kind = $3 AND name = $4`
	var grant models.GrantRecord
	if err := r.db.GetContext(ctx, &grant, query, userID, source, kind, name); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Create inserts a grant record.
func (r *GrantRepository) Create(ctx context.Context, grant *models.GrantRecord) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	const query = `INSERT INTO grants (id, user_id, source, kind, name, status, estimated_amount, approved_amount, created_at, updated_at)
	VALUES (:id, :user_id, :source, :kind, :name, :status, :estimated_amount, :approved_amount, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grant); err != nil {
		if mapped := mapUniqueViolation(err); mapped == ErrDuplicate {
			return mapped
		}
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

// Update rewrites status and amounts if the record still carries expectedUpdatedAt.
// sql.ErrNoRows signals a stale write.
func (r *GrantRepository) Update(ctx context.Context, grant *models.GrantRecord, expectedUpdatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE grants SET status = $1, estimated_amount = $2, approved_amount = $3, updated_at = $4
	WHERE id = $5 AND updated_at = $6`,
		grant.Status, grant.EstimatedAmount, grant.ApprovedAmount, grant.UpdatedAt, grant.ID, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return requireRow(result, "grant")
}
