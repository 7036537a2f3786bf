package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/karripar/va-hybrid-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var (
	phaseColumns = []string{"application_id", "phase", "status", "deadline", "completed_at", "reviewed_at", "review_notes", "updated_at"}
	stageColumns = []string{"id", "application_id", "phase", "title", "sort_order", "status", "is_required", "deadline", "completed_at", "updated_at"}
)

func TestApplicationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	app := &models.Application{
		UserID:    "user-1",
		CreatedAt: now,
		UpdatedAt: now,
		Phases: []models.PhaseRecord{
			{Phase: models.PhaseEsihaku, Status: models.PhaseStatusNotStarted, UpdatedAt: now},
			{Phase: models.PhaseNomination, Status: models.PhaseStatusNotStarted, UpdatedAt: now},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO applications")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO phase_records")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO phase_records")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), app))
	require.NotEmpty(t, app.ID)
	require.Equal(t, app.ID, app.Phases[1].ApplicationID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCreateDuplicateUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO applications")).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Application{UserID: "user-1"})
	require.True(t, errors.Is(err, ErrDuplicate))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryGetByIDAssemblesStages(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, created_at, updated_at FROM applications WHERE id = $1")).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "updated_at"}).AddRow("app-1", "user-1", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM phase_records WHERE application_id = $1")).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(phaseColumns).
			AddRow("app-1", "esihaku", "in_progress", nil, nil, nil, nil, now).
			AddRow("app-1", "nomination", "not_started", nil, nil, nil, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM stages WHERE application_id = $1")).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(stageColumns).
			AddRow("stage-1", "app-1", "esihaku", "Motivation letter", 1, "completed", true, nil, now, now).
			AddRow("stage-2", "app-1", "esihaku", "Transcript", 2, "in_progress", true, nil, nil, now))

	app, err := repo.GetByID(context.Background(), "app-1")
	require.NoError(t, err)
	require.Len(t, app.Phases, 2)
	require.Len(t, app.Phases[0].Stages, 2)
	require.Empty(t, app.Phases[1].Stages)
	require.Equal(t, 2, app.Phases[0].Stages[1].Order)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryApplyPhaseTransition(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	change := PhaseTransition{
		ApplicationID:     "app-1",
		Phase:             models.PhaseEsihaku,
		Status:            models.PhaseStatusCompleted,
		CompletedAt:       &now,
		UpdatedAt:         now,
		ExpectedUpdatedAt: now.Add(-time.Minute),
	}
	event := &models.StageStatusChangeEvent{ApplicationID: "app-1", UserID: "user-1", Phase: models.PhaseEsihaku,
		OldStatus: "in_progress", NewStatus: "completed", TriggeredBy: "user-1", Timestamp: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE phase_records SET status")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE applications SET updated_at")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO status_events")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	require.NoError(t, repo.ApplyPhaseTransition(context.Background(), change, event))
	require.NotEmpty(t, event.ID)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE phase_records SET status")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	err := repo.ApplyPhaseTransition(context.Background(), change, event)
	require.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryUpdatePhaseDetails(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE phase_records SET deadline")).
		WithArgs(nil, now, "app-1", models.PhaseNomination, now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE application_id = $1 AND id = ANY($2)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET name")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE applications SET updated_at")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdatePhaseDetails(context.Background(), PhaseDetailsChange{
		ApplicationID:     "app-1",
		Phase:             models.PhaseNomination,
		UpdatedAt:         now,
		ExpectedUpdatedAt: now.Add(-time.Hour),
		DeleteDocumentIDs: []string{"doc-old"},
		UpdateDocuments:   []models.DocumentRef{{ID: "doc-kept", Name: "Renamed"}},
		InsertDocuments:   []models.DocumentRef{{ID: "doc-new", ApplicationID: "app-1", Phase: models.PhaseNomination, URL: "https://x", Version: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCreateStageDuplicateOrder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stages")).WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateStage(context.Background(), &models.Stage{ApplicationID: "app-1", Phase: models.PhaseEsihaku, Order: 1})
	require.True(t, errors.Is(err, ErrDuplicate))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryApplyStageTransitionConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stages SET status")).
		WithArgs(models.StageStatusInProgress, nil, now, "stage-1", "app-1", now.Add(-time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyStageTransition(context.Background(), StageTransition{
		ApplicationID:     "app-1",
		StageID:           "stage-1",
		Status:            models.StageStatusInProgress,
		UpdatedAt:         now,
		ExpectedUpdatedAt: now.Add(-time.Second),
	}, nil)
	require.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryDeleteCascadesUserPlans(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM applications WHERE id = $1 RETURNING user_id")).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM budgets WHERE user_id = $1")).WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM grants WHERE user_id = $1")).WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()
	require.NoError(t, repo.Delete(context.Background(), "app-1"))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM applications")).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	err := repo.Delete(context.Background(), "missing")
	require.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}
