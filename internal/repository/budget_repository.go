package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/karripar/va-hybrid-api/internal/models"
)

const budgetColumns = `id, user_id, destination, exchange_program_id, categories, total_amount, currency, created_at, updated_at`

// BudgetRepository persists budgets and their history.
type BudgetRepository struct {
	db *sqlx.DB
}

// NewBudgetRepository constructs the repository.
func NewBudgetRepository(db *sqlx.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// Get fetches the budget of a user for one destination.
func (r *BudgetRepository) Get(ctx context.Context, userID, destination string) (*models.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1 AND destination = $2`
	var budget models.Budget
	if err := r.db.GetContext(ctx, &budget, query, userID, destination); err != nil {
		return nil, err
	}
	return &budget, nil
}

// ListByUser returns every budget of a user, most recently updated first.
func (r *BudgetRepository) ListByUser(ctx context.Context, userID string) ([]models.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1 ORDER BY updated_at DESC`
	var budgets []models.Budget
	if err := r.db.SelectContext(ctx, &budgets, query, userID); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return budgets, nil
}

// Create inserts a new budget and its first history item.
func (r *BudgetRepository) Create(ctx context.Context, budget *models.Budget) error {
	if budget.ID == "" {
		budget.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create budget tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO budgets (id, user_id, destination, exchange_program_id, categories, total_amount, currency, created_at, updated_at)
	VALUES (:id, :user_id, :destination, :exchange_program_id, :categories, :total_amount, :currency, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, budget); err != nil {
		err = mapUniqueViolation(err)
		if err == ErrDuplicate {
			return err
		}
		return fmt.Errorf("create budget: %w", err)
	}
	if err = insertHistory(ctx, tx, budget); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create budget tx: %w", err)
	}
	return nil
}

// Update replaces the categories of a budget if it still carries expectedUpdatedAt,
// and appends a history item. sql.ErrNoRows signals a stale write.
func (r *BudgetRepository) Update(ctx context.Context, budget *models.Budget, expectedUpdatedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update budget tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE budgets SET exchange_program_id = $1, categories = $2, total_amount = $3, currency = $4, updated_at = $5
	WHERE id = $6 AND updated_at = $7`
	var result sql.Result
	result, err = tx.ExecContext(ctx, query, budget.ExchangeProgramID, budget.Categories, budget.TotalAmount,
		budget.Currency, budget.UpdatedAt, budget.ID, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	if err = requireRow(result, "budget"); err != nil {
		return err
	}
	if err = insertHistory(ctx, tx, budget); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update budget tx: %w", err)
	}
	return nil
}

// ListHistory returns history items of the user, most recent first.
func (r *BudgetRepository) ListHistory(ctx context.Context, userID string, limit int) ([]models.BudgetHistoryItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const query = `SELECT id, budget_id, user_id, destination, categories, total_amount, changed_at
	FROM budget_history WHERE user_id = $1 ORDER BY changed_at DESC, id LIMIT $2`
	var items []models.BudgetHistoryItem
	if err := r.db.SelectContext(ctx, &items, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list budget history: %w", err)
	}
	return items, nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, budget *models.Budget) error {
	item := models.BudgetHistoryItem{
		ID:          uuid.NewString(),
		BudgetID:    budget.ID,
		UserID:      budget.UserID,
		Destination: budget.Destination,
		Categories:  budget.Categories,
		TotalAmount: budget.TotalAmount,
		ChangedAt:   budget.UpdatedAt,
	}
	const query = `INSERT INTO budget_history (id, budget_id, user_id, destination, categories, total_amount, changed_at)
	VALUES (:id, :budget_id, :user_id, :destination, :categories, :total_amount, :changed_at)`
	if _, err := tx.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("record budget history: %w", err)
	}
	return nil
}
