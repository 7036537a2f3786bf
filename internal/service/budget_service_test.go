package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/repository"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

type memoryBudgetStore struct {
	budgets map[string]models.Budget
	history []models.BudgetHistoryItem
	limit   int
}

func newMemoryBudgetStore() *memoryBudgetStore {
	return &memoryBudgetStore{budgets: map[string]models.Budget{}}
}

func (m *memoryBudgetStore) Get(_ context.Context, userID, destination string) (*models.Budget, error) {
	b, ok := m.budgets[userID+"|"+destination]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &b, nil
}

func (m *memoryBudgetStore) ListByUser(_ context.Context, userID string) ([]models.Budget, error) {
	var out []models.Budget
	for _, b := range m.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryBudgetStore) Create(_ context.Context, budget *models.Budget) error {
	key := budget.UserID + "|" + budget.Destination
	if _, ok := m.budgets[key]; ok {
		return repository.ErrDuplicate
	}
	m.budgets[key] = *budget
	m.record(budget)
	return nil
}

func (m *memoryBudgetStore) Update(_ context.Context, budget *models.Budget, expected time.Time) error {
	key := budget.UserID + "|" + budget.Destination
	current, ok := m.budgets[key]
	if !ok || !current.UpdatedAt.Equal(expected) {
		return sql.ErrNoRows
	}
	m.budgets[key] = *budget
	m.record(budget)
	return nil
}

func (m *memoryBudgetStore) ListHistory(_ context.Context, userID string, limit int) ([]models.BudgetHistoryItem, error) {
	m.limit = limit
	var out []models.BudgetHistoryItem
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].UserID == userID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *memoryBudgetStore) record(budget *models.Budget) {
	m.history = append(m.history, models.BudgetHistoryItem{
		ID:          budget.ID + "-" + budget.UpdatedAt.Format(time.RFC3339Nano),
		BudgetID:    budget.ID,
		UserID:      budget.UserID,
		Destination: budget.Destination,
		Categories:  budget.Categories,
		TotalAmount: budget.TotalAmount,
		ChangedAt:   budget.UpdatedAt,
	})
}

func fullCategories(amounts ...int64) models.BudgetCategories {
	names := []models.BudgetCategory{models.CategoryTravel, models.CategoryInsurance, models.CategoryHousing, models.CategoryDailyLife, models.CategoryStudySupplies}
	out := models.BudgetCategories{}
	for i, name := range names {
		var amount int64
		if i < len(amounts) {
			amount = amounts[i]
		}
		out[name] = models.CategoryExpense{Amount: decimal.NewFromInt(amount)}
	}
	return out
}

func newBudgetFixture() (*BudgetService, *memoryBudgetStore, *memoryCacheRepo) {
	store := newMemoryBudgetStore()
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewBudgetService(store, cache, nil, BudgetServiceConfig{Currency: "EUR", HistoryLimit: 20}, nil)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return svc, store, cacheRepo
}

func TestValidateCategories(t *testing.T) {
	require.NoError(t, ValidateCategories(nil, fullCategories(1, 2, 3, 4, 5)))

	missing := fullCategories()
	delete(missing, models.CategoryHousing)
	err := ValidateCategories(nil, missing)
	require.True(t, errors.Is(err, appErrors.ErrValidation))
	appErr := appErrors.FromError(err)
	assert.Equal(t, "categories", appErr.Field)
	assert.Equal(t, []string{"housing"}, appErr.Details["missing"])

	extra := fullCategories()
	extra["souvenirs"] = models.CategoryExpense{Amount: decimal.NewFromInt(1)}
	err = ValidateCategories(nil, extra)
	require.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, "categories", appErrors.FromError(err).Field)

	negative := fullCategories(100)
	negative[models.CategoryInsurance] = models.CategoryExpense{Amount: decimal.NewFromInt(-5)}
	err = ValidateCategories(nil, negative)
	require.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, "categories.insurance.amount", appErrors.FromError(err).Field)

	err = ValidateCategories(nil, nil)
	require.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestBudgetServiceUpsertDerivesTotal(t *testing.T) {
	svc, store, _ := newBudgetFixture()
	ctx := context.Background()

	categories := fullCategories(450, 120, 2400, 900, 80)
	categories[models.CategoryTravel] = models.CategoryExpense{Amount: decimal.RequireFromString("450.55"), Notes: "  flights  "}
	budget, err := svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: " Lisbon ", Categories: categories})
	require.NoError(t, err)

	assert.Equal(t, "Lisbon", budget.Destination)
	assert.Equal(t, "EUR", budget.Currency)
	assert.True(t, budget.TotalAmount.Equal(decimal.RequireFromString("3950.55")), budget.TotalAmount.String())
	assert.True(t, budget.TotalAmount.Equal(budget.Categories.Total()))
	assert.Equal(t, "flights", budget.Categories[models.CategoryTravel].Notes)
	require.Len(t, store.history, 1)
}

func TestBudgetServiceUpsertConcurrency(t *testing.T) {
	svc, store, _ := newBudgetFixture()
	ctx := context.Background()

	created, err := svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: "Lisbon", Categories: fullCategories(1, 1, 1, 1, 1)})
	require.NoError(t, err)

	_, err = svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: "Lisbon", Categories: fullCategories(2, 2, 2, 2, 2)})
	require.True(t, errors.Is(err, appErrors.ErrConflict), "missing expectedUpdatedAt on an existing budget")

	stale := created.UpdatedAt.Add(-time.Second)
	_, err = svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: "Lisbon", Categories: fullCategories(2, 2, 2, 2, 2), ExpectedUpdatedAt: &stale})
	require.True(t, errors.Is(err, appErrors.ErrConflict))

	expected := created.UpdatedAt
	updated, err := svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: "Lisbon", Categories: fullCategories(2, 2, 2, 2, 2), ExpectedUpdatedAt: &expected})
	require.NoError(t, err)
	assert.True(t, updated.TotalAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, created.ID, updated.ID)

	// a second writer holding the same observation loses
	_, err = svc.Upsert(ctx, adminActor, models.BudgetUpsert{UserID: "user-1", Destination: "Lisbon", Categories: fullCategories(3, 3, 3, 3, 3), ExpectedUpdatedAt: &expected})
	require.True(t, errors.Is(err, appErrors.ErrConflict))

	_, err = svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: "Porto", Categories: fullCategories(), ExpectedUpdatedAt: &expected})
	require.True(t, errors.Is(err, appErrors.ErrConflict), "expectedUpdatedAt for a budget that does not exist")

	assert.Len(t, store.history, 2)
}

func TestBudgetServiceUpsertRejectsInvalidInput(t *testing.T) {
	svc, store, _ := newBudgetFixture()
	ctx := context.Background()

	partial := fullCategories()
	delete(partial, models.CategoryStudySupplies)
	_, err := svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Categories: partial})
	require.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-2", Categories: fullCategories()})
	require.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Upsert(ctx, models.Actor{UserID: "user-1", Role: models.RoleGuest}, models.BudgetUpsert{UserID: "user-1", Categories: fullCategories()})
	require.True(t, errors.Is(err, appErrors.ErrForbidden))

	assert.Empty(t, store.budgets)
	assert.Empty(t, store.history)
}

func TestBudgetServiceUpsertInvalidatesGrantCache(t *testing.T) {
	svc, _, cacheRepo := newBudgetFixture()
	ctx := context.Background()
	require.NoError(t, cacheRepo.Set(ctx, grantSummaryCacheKey("user-1"), models.GrantsSummary{UserID: "user-1"}, time.Minute))
	require.NoError(t, cacheRepo.Set(ctx, grantComparisonCacheKey("user-1", "Lisbon"), models.BudgetGrantComparison{}, time.Minute))
	require.NoError(t, cacheRepo.Set(ctx, grantSummaryCacheKey("user-2"), models.GrantsSummary{UserID: "user-2"}, time.Minute))

	_, err := svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: "Lisbon", Categories: fullCategories(1)})
	require.NoError(t, err)

	assert.False(t, cacheRepo.has(grantSummaryCacheKey("user-1")))
	assert.False(t, cacheRepo.has(grantComparisonCacheKey("user-1", "Lisbon")))
	assert.True(t, cacheRepo.has(grantSummaryCacheKey("user-2")))
}

func TestBudgetServiceHistoryMostRecentFirst(t *testing.T) {
	svc, store, _ := newBudgetFixture()
	ctx := context.Background()

	budget, err := svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Categories: fullCategories(1)})
	require.NoError(t, err)
	for i := int64(2); i <= 4; i++ {
		expected := budget.UpdatedAt
		budget, err = svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Categories: fullCategories(i), ExpectedUpdatedAt: &expected})
		require.NoError(t, err)
	}

	items, err := svc.History(ctx, userActor, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, 20, store.limit)
	assert.True(t, items[0].TotalAmount.Equal(decimal.NewFromInt(4)))
	for i := 1; i < len(items); i++ {
		assert.True(t, items[i-1].ChangedAt.After(items[i].ChangedAt))
	}

	_, err = svc.History(ctx, userActor, "user-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, 20, store.limit)

	_, err = svc.History(ctx, models.Actor{UserID: "user-2", Role: models.RoleUser}, "user-1", 10)
	require.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestBudgetServiceGet(t *testing.T) {
	svc, _, _ := newBudgetFixture()
	ctx := context.Background()

	_, err := svc.Get(ctx, userActor, "user-1", "Lisbon")
	require.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Upsert(ctx, userActor, models.BudgetUpsert{UserID: "user-1", Destination: "Lisbon", Categories: fullCategories(5)})
	require.NoError(t, err)

	budget, err := svc.Get(ctx, adminActor, "user-1", "Lisbon")
	require.NoError(t, err)
	assert.True(t, budget.TotalAmount.Equal(decimal.NewFromInt(5)))

	budgets, err := svc.ListByUser(ctx, userActor, "user-1")
	require.NoError(t, err)
	assert.Len(t, budgets, 1)
}
