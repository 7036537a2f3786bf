package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/repository"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

type grantStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.GrantRecord, error)
	GetByKey(ctx context.Context, userID string, source models.GrantSource, kind, name string) (*models.GrantRecord, error)
	Create(ctx context.Context, grant *models.GrantRecord) error
	Update(ctx context.Context, grant *models.GrantRecord, expectedUpdatedAt time.Time) error
}

type budgetLookup interface {
	Get(ctx context.Context, userID, destination string) (*models.Budget, error)
}

// AggregateGrants totals support across the three grant sources. kela may be nil.
func AggregateGrants(userID string, generic, erasmus, kela []models.GrantRecord) models.GrantsSummary {
	summary := models.GrantsSummary{
		UserID:                userID,
		GenericTotal:          decimal.Zero,
		ErasmusTotal:          decimal.Zero,
		KelaTotal:             decimal.Zero,
		ApprovedTotal:         decimal.Zero,
		TotalEstimatedSupport: decimal.Zero,
	}
	add := func(total *decimal.Decimal, grants []models.GrantRecord) {
		for _, g := range grants {
			contribution := g.Contribution()
			*total = total.Add(contribution)
			summary.TotalEstimatedSupport = summary.TotalEstimatedSupport.Add(contribution)
			if g.Status == models.GrantStatusApproved {
				summary.ApprovedTotal = summary.ApprovedTotal.Add(contribution)
			}
			summary.GrantCount++
		}
	}
	add(&summary.GenericTotal, generic)
	add(&summary.ErasmusTotal, erasmus)
	add(&summary.KelaTotal, kela)
	return summary
}

// CompareBudget compares support against a budget total. A zero budget is always
// sufficient with zero coverage.
func CompareBudget(budgetTotal, support decimal.Decimal) models.BudgetGrantComparison {
	cmp := models.BudgetGrantComparison{
		BudgetTotal:           budgetTotal,
		TotalEstimatedSupport: support,
		Difference:            support.Sub(budgetTotal),
	}
	if budgetTotal.IsZero() {
		cmp.Status = models.ComparisonSufficient
		return cmp
	}
	cmp.CoveragePercentage = support.Div(budgetTotal).Mul(hundred).Round(0).IntPart()
	switch cmp.Difference.Sign() {
	case 0:
		cmp.Status = models.ComparisonExact
	case 1:
		cmp.Status = models.ComparisonSufficient
	default:
		cmp.Status = models.ComparisonInsufficient
	}
	return cmp
}

// GrantService is the grant aggregation engine.
type GrantService struct {
	repo    grantStore
	budgets budgetLookup
	cache   *CacheService
	catalog *catalog.Catalog
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewGrantService constructs the service.
func NewGrantService(repo grantStore, budgets budgetLookup, cache *CacheService, cat *catalog.Catalog, ttl time.Duration, logger *zap.Logger) *GrantService {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantService{repo: repo, budgets: budgets, cache: cache, catalog: cat, ttl: ttl, logger: logger, now: time.Now}
}

// ValidateGrant checks source, kind, status and amounts of a grant write.
func (s *GrantService) ValidateGrant(in models.GrantUpsert) error {
	if !s.catalog.IsGrantSource(string(in.Source)) {
		return appErrors.Validation("source", fmt.Sprintf("unknown grant source %q", in.Source))
	}
	if !s.catalog.IsGrantKind(string(in.Source), in.Kind) {
		return appErrors.Validation("kind", fmt.Sprintf("grant kind %q is not accepted for %s", in.Kind, in.Source))
	}
	if strings.TrimSpace(in.Name) == "" {
		return appErrors.Validation("name", "name is required")
	}
	if !in.Status.Valid() {
		return appErrors.Validation("status", fmt.Sprintf("unknown grant status %q", in.Status))
	}
	if in.EstimatedAmount.Valid && in.EstimatedAmount.Decimal.IsNegative() {
		return appErrors.Validation("estimatedAmount", "amount must not be negative")
	}
	if in.ApprovedAmount.Valid {
		if in.Status != models.GrantStatusApproved {
			return appErrors.Validation("approvedAmount", "approvedAmount may only be set when status is approved")
		}
		if in.ApprovedAmount.Decimal.IsNegative() {
			return appErrors.Validation("approvedAmount", "amount must not be negative")
		}
	}
	return nil
}

// Upsert creates the grant identified by (user, source, kind, name) or updates it under
// optimistic concurrency.
func (s *GrantService) Upsert(ctx context.Context, actor models.Actor, in models.GrantUpsert) (*models.GrantRecord, error) {
	if actor.Role == models.RoleGuest || !actor.CanAccessUser(in.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "grant belongs to another user")
	}
	in.Kind = strings.TrimSpace(in.Kind)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.ValidateGrant(in); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	existing, err := s.repo.GetByKey(ctx, in.UserID, in.Source, in.Kind, in.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = nil
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grant")
	}

	var grant *models.GrantRecord
	if existing == nil {
		if in.ExpectedUpdatedAt != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "grant no longer exists")
		}
		grant = &models.GrantRecord{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			Source:          in.Source,
			Kind:            in.Kind,
			Name:            in.Name,
			Status:          in.Status,
			EstimatedAmount: in.EstimatedAmount,
			ApprovedAmount:  in.ApprovedAmount,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.Create(ctx, grant); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "grant was created concurrently")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grant")
		}
	} else {
		if in.ExpectedUpdatedAt == nil || !existing.UpdatedAt.Equal(*in.ExpectedUpdatedAt) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "grant was modified since it was read")
		}
		grant = existing
		grant.Status = in.Status
		grant.EstimatedAmount = in.EstimatedAmount
		grant.ApprovedAmount = in.ApprovedAmount
		grant.UpdatedAt = now
		if err := s.repo.Update(ctx, grant, *in.ExpectedUpdatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "grant was modified since it was read")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grant")
		}
	}

	_ = s.cache.Invalidate(ctx, grantCachePattern(in.UserID))
	s.logger.Info("grant saved",
		zap.String("grant_id", grant.ID),
		zap.String("user_id", grant.UserID),
		zap.String("source", string(grant.Source)),
		zap.String("status", string(grant.Status)))
	return grant, nil
}

// List returns every grant of userID.
func (s *GrantService) List(ctx context.Context, actor models.Actor, userID string) ([]models.GrantRecord, error) {
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "grant belongs to another user")
	}
	grants, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grants")
	}
	if grants == nil {
		grants = []models.GrantRecord{}
	}
	return grants, nil
}

// Summary aggregates the grants of userID. Results are cached until the next grant or
// budget write of the user.
func (s *GrantService) Summary(ctx context.Context, actor models.Actor, userID string) (*models.GrantsSummary, error) {
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "grant belongs to another user")
	}
	key := grantSummaryCacheKey(userID)
	var cached models.GrantsSummary
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	grants, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grants")
	}
	bySource := make(map[models.GrantSource][]models.GrantRecord, 3)
	for _, g := range grants {
		bySource[g.Source] = append(bySource[g.Source], g)
	}
	summary := AggregateGrants(userID, bySource[models.GrantSourceGeneric], bySource[models.GrantSourceErasmus], bySource[models.GrantSourceKela])
	if err := s.cache.Set(ctx, key, summary, s.ttl); err != nil {
		s.logger.Warn("grant summary not cached", zap.String("user_id", userID), zap.Error(err))
	}
	return &summary, nil
}

// Comparison compares the grant summary of userID against the budget for destination.
func (s *GrantService) Comparison(ctx context.Context, actor models.Actor, userID, destination string) (*models.BudgetGrantComparison, error) {
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "grant belongs to another user")
	}
	destination = strings.TrimSpace(destination)
	key := grantComparisonCacheKey(userID, destination)
	var cached models.BudgetGrantComparison
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	budget, err := s.budgets.Get(ctx, userID, destination)
	if err != nil {
		return nil, mapLoadError(err, "budget")
	}
	summary, err := s.Summary(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	cmp := CompareBudget(budget.TotalAmount, summary.TotalEstimatedSupport)
	if err := s.cache.Set(ctx, key, cmp, s.ttl); err != nil {
		s.logger.Warn("grant comparison not cached", zap.String("user_id", userID), zap.Error(err))
	}
	return &cmp, nil
}
