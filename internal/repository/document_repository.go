package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/karripar/va-hybrid-api/internal/models"
)

const documentColumns = `id, application_id, phase, stage_id, name, url, source_type, access_permission,
	is_required, is_accessible, last_verified, version, created_at`

const insertDocumentQuery = `INSERT INTO documents
	(id, application_id, phase, stage_id, name, url, source_type, access_permission, is_required, is_accessible, last_verified, version, created_at)
	VALUES (:id, :application_id, :phase, :stage_id, :name, :url, :source_type, :access_permission, :is_required, :is_accessible, :last_verified, :version, :created_at)`

// DocumentRepository persists document links.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a document reference.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.DocumentRef) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, insertDocumentQuery, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID fetches a document by identifier.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.DocumentRef, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var doc models.DocumentRef
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByApplication returns every document of the application in creation order.
func (r *DocumentRepository) ListByApplication(ctx context.Context, applicationID string) ([]models.DocumentRef, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE application_id = $1 ORDER BY created_at, id`
	var docs []models.DocumentRef
	if err := r.db.SelectContext(ctx, &docs, query, applicationID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ListBlockingForStage returns ids of required documents of the stage that are not accessible.
func (r *DocumentRepository) ListBlockingForStage(ctx context.Context, stageID string) ([]string, error) {
	const query = `SELECT id FROM documents WHERE stage_id = $1 AND is_required AND NOT is_accessible ORDER BY created_at, id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, stageID); err != nil {
		return nil, fmt.Errorf("list blocking documents: %w", err)
	}
	return ids, nil
}

// Verification is the outcome of a link probe to persist on a document.
type Verification struct {
	DocumentID       string
	Version          int
	IsAccessible     bool
	AccessPermission models.AccessPermission
	VerifiedAt       time.Time
}

// ApplyVerification stores a probe result only when the document still carries the
// probed version. It reports whether the row was updated.
func (r *DocumentRepository) ApplyVerification(ctx context.Context, v Verification) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE documents SET is_accessible = $1, access_permission = $2, last_verified = $3
	WHERE id = $4 AND version = $5`, v.IsAccessible, v.AccessPermission, v.VerifiedAt, v.DocumentID, v.Version)
	if err != nil {
		return false, fmt.Errorf("apply document verification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check document verification rows: %w", err)
	}
	return rows > 0, nil
}

// ReplaceURL points the document at a new URL, bumping its version and clearing the
// previous verification. It returns the updated document.
func (r *DocumentRepository) ReplaceURL(ctx context.Context, applicationID, id, url string, sourceType models.SourceType) (*models.DocumentRef, error) {
	query := `UPDATE documents SET url = $1, source_type = $2, version = version + 1, is_accessible = FALSE,
	access_permission = $3, last_verified = NULL WHERE id = $4 AND application_id = $5 RETURNING ` + documentColumns
	var doc models.DocumentRef
	if err := r.db.GetContext(ctx, &doc, query, url, sourceType, models.AccessUnknown, id, applicationID); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delete removes a document. sql.ErrNoRows reports an unknown id.
func (r *DocumentRepository) Delete(ctx context.Context, applicationID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE application_id = $1 AND id = $2`, applicationID, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(result, "document delete")
}
