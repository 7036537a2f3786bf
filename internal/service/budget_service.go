package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/repository"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

type budgetStore interface {
	Get(ctx context.Context, userID, destination string) (*models.Budget, error)
	ListByUser(ctx context.Context, userID string) ([]models.Budget, error)
	Create(ctx context.Context, budget *models.Budget) error
	Update(ctx context.Context, budget *models.Budget, expectedUpdatedAt time.Time) error
	ListHistory(ctx context.Context, userID string, limit int) ([]models.BudgetHistoryItem, error)
}

// BudgetServiceConfig carries budget defaults.
type BudgetServiceConfig struct {
	Currency     string
	HistoryLimit int
}

// BudgetService is the budget engine: it validates category estimates and derives totals.
type BudgetService struct {
	repo    budgetStore
	cache   *CacheService
	catalog *catalog.Catalog
	cfg     BudgetServiceConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewBudgetService constructs the service.
func NewBudgetService(repo budgetStore, cache *CacheService, cat *catalog.Catalog, cfg BudgetServiceConfig, logger *zap.Logger) *BudgetService {
	if cat == nil {
		cat = catalog.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetService{repo: repo, cache: cache, catalog: cat, cfg: cfg, logger: logger, now: time.Now}
}

// ValidateCategories checks that categories holds exactly the catalog's category set
// with non-negative amounts.
func ValidateCategories(cat *catalog.Catalog, categories models.BudgetCategories) error {
	if cat == nil {
		cat = catalog.Default()
	}
	var missing, extra []string
	for _, name := range cat.Categories() {
		if _, ok := categories[models.BudgetCategory(name)]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range categories {
		if !cat.IsCategory(string(name)) {
			extra = append(extra, string(name))
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(extra)
		parts := make([]string, 0, 2)
		if len(missing) > 0 {
			parts = append(parts, "missing "+strings.Join(missing, ", "))
		}
		if len(extra) > 0 {
			parts = append(parts, "unknown "+strings.Join(extra, ", "))
		}
		err := appErrors.Validation("categories", "categories must contain exactly the fixed set: "+strings.Join(parts, "; "))
		if len(missing) > 0 {
			err = appErrors.WithDetail(err, "missing", missing)
		}
		if len(extra) > 0 {
			err = appErrors.WithDetail(err, "unknown", extra)
		}
		return err
	}
	for _, name := range cat.Categories() {
		if categories[models.BudgetCategory(name)].Amount.IsNegative() {
			return appErrors.Validation(fmt.Sprintf("categories.%s.amount", name), "amount must not be negative")
		}
	}
	return nil
}

// Upsert validates the categories and creates or conditionally updates the budget of
// userID for a destination. The total is always derived.
func (s *BudgetService) Upsert(ctx context.Context, actor models.Actor, in models.BudgetUpsert) (*models.Budget, error) {
	if actor.Role == models.RoleGuest || !actor.CanAccessUser(in.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "budget belongs to another user")
	}
	if err := ValidateCategories(s.catalog, in.Categories); err != nil {
		return nil, err
	}

	categories := make(models.BudgetCategories, len(in.Categories))
	for name, expense := range in.Categories {
		expense.Notes = strings.TrimSpace(expense.Notes)
		categories[name] = expense
	}
	destination := strings.TrimSpace(in.Destination)
	now := s.now().UTC().Truncate(time.Microsecond)

	existing, err := s.repo.Get(ctx, in.UserID, destination)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = nil
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load budget")
	}

	var budget *models.Budget
	if existing == nil {
		if in.ExpectedUpdatedAt != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "budget no longer exists")
		}
		budget = &models.Budget{
			ID:                uuid.NewString(),
			UserID:            in.UserID,
			Destination:       destination,
			ExchangeProgramID: in.ExchangeProgramID,
			Categories:        categories,
			TotalAmount:       categories.Total(),
			Currency:          s.cfg.Currency,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.Create(ctx, budget); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "budget was created concurrently")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create budget")
		}
	} else {
		if in.ExpectedUpdatedAt == nil || !existing.UpdatedAt.Equal(*in.ExpectedUpdatedAt) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "budget was modified since it was read")
		}
		budget = existing
		budget.ExchangeProgramID = in.ExchangeProgramID
		budget.Categories = categories
		budget.TotalAmount = categories.Total()
		budget.Currency = s.cfg.Currency
		budget.UpdatedAt = now
		if err := s.repo.Update(ctx, budget, *in.ExpectedUpdatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "budget was modified since it was read")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update budget")
		}
	}

	_ = s.cache.Invalidate(ctx, grantCachePattern(in.UserID))
	s.logger.Info("budget saved",
		zap.String("budget_id", budget.ID),
		zap.String("user_id", budget.UserID),
		zap.String("destination", budget.Destination),
		zap.String("total", budget.TotalAmount.StringFixed(2)))
	return budget, nil
}

// Get returns the budget of userID for destination.
func (s *BudgetService) Get(ctx context.Context, actor models.Actor, userID, destination string) (*models.Budget, error) {
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "budget belongs to another user")
	}
	budget, err := s.repo.Get(ctx, userID, strings.TrimSpace(destination))
	if err != nil {
		return nil, mapLoadError(err, "budget")
	}
	return budget, nil
}

// ListByUser returns every budget of userID.
func (s *BudgetService) ListByUser(ctx context.Context, actor models.Actor, userID string) ([]models.Budget, error) {
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "budget belongs to another user")
	}
	budgets, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list budgets")
	}
	if budgets == nil {
		budgets = []models.Budget{}
	}
	return budgets, nil
}

// History returns the budget history of userID, most recent first.
func (s *BudgetService) History(ctx context.Context, actor models.Actor, userID string, limit int) ([]models.BudgetHistoryItem, error) {
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "budget belongs to another user")
	}
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	items, err := s.repo.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list budget history")
	}
	if items == nil {
		items = []models.BudgetHistoryItem{}
	}
	return items, nil
}
