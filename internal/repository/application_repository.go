package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/karripar/va-hybrid-api/internal/models"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

const insertEventQuery = `INSERT INTO status_events
	(id, application_id, user_id, phase, stage_id, old_status, new_status, triggered_by, occurred_at)
	VALUES (:id, :application_id, :user_id, :phase, :stage_id, :old_status, :new_status, :triggered_by, :occurred_at)`

// ApplicationRepository persists applications, their phase records and stages.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts the application together with its phase records.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create application tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const appQuery = `INSERT INTO applications (id, user_id, created_at, updated_at)
	VALUES (:id, :user_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, appQuery, app); err != nil {
		err = mapUniqueViolation(err)
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("create application: %w", err)
	}

	const phaseQuery = `INSERT INTO phase_records
	(application_id, phase, status, deadline, completed_at, reviewed_at, review_notes, updated_at)
	VALUES (:application_id, :phase, :status, :deadline, :completed_at, :reviewed_at, :review_notes, :updated_at)`
	for i := range app.Phases {
		app.Phases[i].ApplicationID = app.ID
		if _, err = tx.NamedExecContext(ctx, phaseQuery, app.Phases[i]); err != nil {
			return fmt.Errorf("create phase record %s: %w", app.Phases[i].Phase, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create application tx: %w", err)
	}
	return nil
}

// GetByID loads the application row with its phase records and stages.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	const query = `SELECT id, user_id, created_at, updated_at FROM applications WHERE id = $1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetByUserID loads the application owned by userID.
func (r *ApplicationRepository) GetByUserID(ctx context.Context, userID string) (*models.Application, error) {
	const query = `SELECT id, user_id, created_at, updated_at FROM applications WHERE user_id = $1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, userID); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *ApplicationRepository) loadChildren(ctx context.Context, app *models.Application) error {
	const phaseQuery = `SELECT application_id, phase, status, deadline, completed_at, reviewed_at, review_notes, updated_at
	FROM phase_records WHERE application_id = $1`
	var phases []models.PhaseRecord
	if err := r.db.SelectContext(ctx, &phases, phaseQuery, app.ID); err != nil {
		return fmt.Errorf("list phase records: %w", err)
	}

	const stageQuery = `SELECT id, application_id, phase, title, sort_order, status, is_required, deadline, completed_at, updated_at
	FROM stages WHERE application_id = $1 ORDER BY phase, sort_order`
	var stages []models.Stage
	if err := r.db.SelectContext(ctx, &stages, stageQuery, app.ID); err != nil {
		return fmt.Errorf("list stages: %w", err)
	}

	for i := range phases {
		for _, stage := range stages {
			if stage.Phase == phases[i].Phase {
				phases[i].Stages = append(phases[i].Stages, stage)
			}
		}
	}
	app.Phases = phases
	return nil
}

// PhaseTransition describes the persisted effect of an accepted phase status change.
type PhaseTransition struct {
	ApplicationID     string
	Phase             models.Phase
	Status            models.PhaseStatus
	CompletedAt       *time.Time
	ReviewedAt        *time.Time
	ReviewNotes       *string
	UpdatedAt         time.Time
	ExpectedUpdatedAt time.Time
}

// ApplyPhaseTransition updates the phase record only if it still carries the expected
// updated_at, bumps the application and records the event. sql.ErrNoRows signals a stale write.
func (r *ApplicationRepository) ApplyPhaseTransition(ctx context.Context, change PhaseTransition, event *models.StageStatusChangeEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin phase transition tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE phase_records SET status = :status, completed_at = :completed_at, reviewed_at = :reviewed_at,
	review_notes = :review_notes, updated_at = :updated_at
	WHERE application_id = :application_id AND phase = :phase AND updated_at = :expected_updated_at`
	var result sql.Result
	result, err = tx.NamedExecContext(ctx, query, map[string]interface{}{
		"application_id":      change.ApplicationID,
		"phase":               change.Phase,
		"status":              change.Status,
		"completed_at":        change.CompletedAt,
		"reviewed_at":         change.ReviewedAt,
		"review_notes":        change.ReviewNotes,
		"updated_at":          change.UpdatedAt,
		"expected_updated_at": change.ExpectedUpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update phase status: %w", err)
	}
	if err = requireRow(result, "phase status"); err != nil {
		return err
	}
	if err = touchApplication(ctx, tx, change.ApplicationID, change.UpdatedAt); err != nil {
		return err
	}
	if err = insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit phase transition tx: %w", err)
	}
	return nil
}

// PhaseDetailsChange describes a deadline/document update of one phase.
type PhaseDetailsChange struct {
	ApplicationID     string
	Phase             models.Phase
	Deadline          *time.Time
	UpdatedAt         time.Time
	ExpectedUpdatedAt time.Time
	InsertDocuments   []models.DocumentRef
	UpdateDocuments   []models.DocumentRef
	DeleteDocumentIDs []string
}

// UpdatePhaseDetails applies a details change under the same optimistic check as transitions.
func (r *ApplicationRepository) UpdatePhaseDetails(ctx context.Context, change PhaseDetailsChange) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin phase details tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.Result
	result, err = tx.ExecContext(ctx, `UPDATE phase_records SET deadline = $1, updated_at = $2
	WHERE application_id = $3 AND phase = $4 AND updated_at = $5`,
		change.Deadline, change.UpdatedAt, change.ApplicationID, change.Phase, change.ExpectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("update phase details: %w", err)
	}
	if err = requireRow(result, "phase details"); err != nil {
		return err
	}

	if len(change.DeleteDocumentIDs) > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE application_id = $1 AND id = ANY($2)`,
			change.ApplicationID, pq.Array(change.DeleteDocumentIDs)); err != nil {
			return fmt.Errorf("delete superseded documents: %w", err)
		}
	}
	for i := range change.UpdateDocuments {
		if _, err = tx.NamedExecContext(ctx, `UPDATE documents SET name = :name, is_required = :is_required, stage_id = :stage_id
		WHERE id = :id`, change.UpdateDocuments[i]); err != nil {
			return fmt.Errorf("update document %s: %w", change.UpdateDocuments[i].ID, err)
		}
	}
	for i := range change.InsertDocuments {
		if _, err = tx.NamedExecContext(ctx, insertDocumentQuery, change.InsertDocuments[i]); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
	}

	if err = touchApplication(ctx, tx, change.ApplicationID, change.UpdatedAt); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit phase details tx: %w", err)
	}
	return nil
}

// CreateStage inserts a stage. ErrDuplicate reports an order already taken in the phase.
func (r *ApplicationRepository) CreateStage(ctx context.Context, stage *models.Stage) error {
	if stage.ID == "" {
		stage.ID = uuid.NewString()
	}
	const query = `INSERT INTO stages (id, application_id, phase, title, sort_order, status, is_required, deadline, completed_at, updated_at)
	VALUES (:id, :application_id, :phase, :title, :sort_order, :status, :is_required, :deadline, :completed_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, stage); err != nil {
		if mapped := mapUniqueViolation(err); errors.Is(mapped, ErrDuplicate) {
			return mapped
		}
		return fmt.Errorf("create stage: %w", err)
	}
	return nil
}

// StageTransition describes the persisted effect of an accepted stage status change.
type StageTransition struct {
	ApplicationID     string
	StageID           string
	Status            models.StageStatus
	CompletedAt       *time.Time
	UpdatedAt         time.Time
	ExpectedUpdatedAt time.Time
}

// ApplyStageTransition updates the stage under an optimistic check and records the event.
func (r *ApplicationRepository) ApplyStageTransition(ctx context.Context, change StageTransition, event *models.StageStatusChangeEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage transition tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.Result
	result, err = tx.ExecContext(ctx, `UPDATE stages SET status = $1, completed_at = $2, updated_at = $3
	WHERE id = $4 AND application_id = $5 AND updated_at = $6`,
		change.Status, change.CompletedAt, change.UpdatedAt, change.StageID, change.ApplicationID, change.ExpectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("update stage status: %w", err)
	}
	if err = requireRow(result, "stage status"); err != nil {
		return err
	}
	if err = touchApplication(ctx, tx, change.ApplicationID, change.UpdatedAt); err != nil {
		return err
	}
	if err = insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit stage transition tx: %w", err)
	}
	return nil
}

// Delete removes the application and everything the user planned alongside it.
func (r *ApplicationRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete application tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var userID string
	if err = tx.GetContext(ctx, &userID, `DELETE FROM applications WHERE id = $1 RETURNING user_id`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM budgets WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete budgets: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM grants WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete grants: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete application tx: %w", err)
	}
	return nil
}

func requireRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", what, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func touchApplication(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE applications SET updated_at = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("touch application: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, event *models.StageStatusChangeEvent) error {
	if event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if _, err := tx.NamedExecContext(ctx, insertEventQuery, event); err != nil {
		return fmt.Errorf("record status event: %w", err)
	}
	return nil
}
