package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

// AggregateProgress rolls an application snapshot up into its progress view.
// It has no side effects: the same snapshot and now always give the same result.
func AggregateProgress(app *models.Application, cat *catalog.Catalog, now time.Time) models.ApplicationProgress {
	if cat == nil {
		cat = catalog.Default()
	}
	result := models.ApplicationProgress{ComputedAt: now.UTC()}
	if app == nil {
		return result
	}
	result.ApplicationID = app.ID
	result.UserID = app.UserID

	type candidate struct {
		ref        models.DeadlineRef
		phaseIndex int
		stageOrder int
	}
	var deadlines []candidate

	for idx, id := range cat.Phases() {
		phase := models.Phase(id)
		status := models.PhaseStatusNotStarted
		var record *models.PhaseRecord
		if r, ok := app.Phase(phase); ok {
			record = r
			status = r.Status
		}

		pp := models.PhaseProgress{Phase: phase, Status: status}
		if record != nil {
			for _, stage := range record.Stages {
				if stage.IsRequired {
					pp.RequiredStages++
					if stage.Status == models.StageStatusCompleted {
						pp.CompletedUnits++
					}
				}
				if stage.Deadline != nil && stage.Status != models.StageStatusCompleted && stage.Deadline.After(now) {
					stageID := stage.ID
					deadlines = append(deadlines, candidate{
						ref:        models.DeadlineRef{Phase: phase, StageID: &stageID, Title: stage.Title, Due: *stage.Deadline},
						phaseIndex: idx,
						stageOrder: stage.Order,
					})
				}
			}
			if record.Deadline != nil && !status.IsTerminal() && record.Deadline.After(now) {
				deadlines = append(deadlines, candidate{
					ref:        models.DeadlineRef{Phase: phase, Title: cat.PhaseLabel(id), Due: *record.Deadline},
					phaseIndex: idx,
					stageOrder: -1,
				})
			}
		}

		pp.TotalUnits = pp.RequiredStages
		if pp.RequiredStages == 0 {
			pp.TotalUnits = 1
			if status.IsTerminal() {
				pp.CompletedUnits = 1
			}
		}

		result.TotalUnits += pp.TotalUnits
		result.CompletedUnits += pp.CompletedUnits
		if result.CurrentPhase == nil && !status.IsTerminal() {
			current := phase
			result.CurrentPhase = &current
		}
		result.Phases = append(result.Phases, pp)
	}

	if result.TotalUnits > 0 {
		result.OverallProgress = result.CompletedUnits * 100 / result.TotalUnits
	}
	if result.OverallProgress > 100 {
		result.OverallProgress = 100
	}

	if len(deadlines) > 0 {
		sort.SliceStable(deadlines, func(i, j int) bool {
			a, b := deadlines[i], deadlines[j]
			if !a.ref.Due.Equal(b.ref.Due) {
				return a.ref.Due.Before(b.ref.Due)
			}
			if a.phaseIndex != b.phaseIndex {
				return a.phaseIndex < b.phaseIndex
			}
			return a.stageOrder < b.stageOrder
		})
		next := deadlines[0].ref
		result.NextDeadline = &next
	}
	return result
}

// ApplicationLoader loads the full application snapshot.
type ApplicationLoader interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
}

// ProgressService recomputes and caches progress snapshots. It consumes status change events.
type ProgressService struct {
	apps    ApplicationLoader
	cache   *CacheService
	catalog *catalog.Catalog
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewProgressService constructs a progress service.
func NewProgressService(apps ApplicationLoader, cache *CacheService, cat *catalog.Catalog, ttl time.Duration, logger *zap.Logger) *ProgressService {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{apps: apps, cache: cache, catalog: cat, ttl: ttl, logger: logger, now: time.Now}
}

// Get returns the cached progress snapshot, recomputing it on a miss or once
// the cached next deadline has passed.
func (s *ProgressService) Get(ctx context.Context, applicationID string) (*models.ApplicationProgress, error) {
	var cached models.ApplicationProgress
	if hit, _ := s.cache.Get(ctx, progressCacheKey(applicationID), &cached); hit {
		if cached.NextDeadline == nil || cached.NextDeadline.Due.After(s.now()) {
			return &cached, nil
		}
	}
	return s.Recompute(ctx, applicationID)
}

// Recompute rebuilds the snapshot from storage and refreshes the cache.
func (s *ProgressService) Recompute(ctx context.Context, applicationID string) (*models.ApplicationProgress, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	now := s.now()
	progress := AggregateProgress(app, s.catalog, now)
	_ = s.cache.Set(ctx, progressCacheKey(applicationID), progress, s.snapshotTTL(progress, now))
	return &progress, nil
}

// snapshotTTL keeps a snapshot no longer than its next deadline stays in the future.
func (s *ProgressService) snapshotTTL(progress models.ApplicationProgress, now time.Time) time.Duration {
	ttl := s.ttl
	if progress.NextDeadline != nil {
		if until := progress.NextDeadline.Due.Sub(now); ttl <= 0 || until < ttl {
			ttl = until
		}
	}
	return ttl
}

// Publish reacts to an accepted transition by refreshing the snapshot.
func (s *ProgressService) Publish(ctx context.Context, event models.StageStatusChangeEvent) {
	progress, err := s.Recompute(ctx, event.ApplicationID)
	if err != nil {
		s.logger.Warn("progress recompute failed",
			zap.String("application_id", event.ApplicationID),
			zap.String("event_id", event.ID),
			zap.Error(err))
		_ = s.cache.Delete(ctx, progressCacheKey(event.ApplicationID))
		return
	}
	s.logger.Debug("progress recomputed",
		zap.String("application_id", event.ApplicationID),
		zap.String("new_status", event.NewStatus),
		zap.Int("overall_progress", progress.OverallProgress))
}

// Forget drops the cached snapshot of a deleted application.
func (s *ProgressService) Forget(ctx context.Context, applicationID string) {
	_ = s.cache.Delete(ctx, progressCacheKey(applicationID))
}
