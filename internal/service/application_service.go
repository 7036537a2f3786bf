package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/repository"
	"github.com/karripar/va-hybrid-api/internal/schema"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

type applicationStore interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	GetByUserID(ctx context.Context, userID string) (*models.Application, error)
	ApplyPhaseTransition(ctx context.Context, change repository.PhaseTransition, event *models.StageStatusChangeEvent) error
	UpdatePhaseDetails(ctx context.Context, change repository.PhaseDetailsChange) error
	CreateStage(ctx context.Context, stage *models.Stage) error
	ApplyStageTransition(ctx context.Context, change repository.StageTransition, event *models.StageStatusChangeEvent) error
	Delete(ctx context.Context, id string) error
}

type documentStore interface {
	Create(ctx context.Context, doc *models.DocumentRef) error
	ListByApplication(ctx context.Context, applicationID string) ([]models.DocumentRef, error)
	ListBlockingForStage(ctx context.Context, stageID string) ([]string, error)
	ReplaceURL(ctx context.Context, applicationID, id, url string, sourceType models.SourceType) (*models.DocumentRef, error)
	Delete(ctx context.Context, applicationID, id string) error
}

type eventLog interface {
	ListByApplication(ctx context.Context, applicationID string, limit int) ([]models.StageStatusChangeEvent, error)
}

// ProgressTracker consumes accepted transitions and serves progress snapshots.
type ProgressTracker interface {
	Get(ctx context.Context, applicationID string) (*models.ApplicationProgress, error)
	Publish(ctx context.Context, event models.StageStatusChangeEvent)
	Forget(ctx context.Context, applicationID string)
}

// DocumentRegistry classifies document links and schedules their verification.
type DocumentRegistry interface {
	Classify(raw string) models.SourceType
	ScheduleVerification(ctx context.Context, doc models.DocumentRef)
}

// TransitionPhaseInput is a requested phase status change.
type TransitionPhaseInput struct {
	ApplicationID     string
	Phase             models.Phase
	Status            models.PhaseStatus
	ExpectedUpdatedAt *time.Time
	ReviewNotes       *string
}

// CreateStageInput describes a new stage inside a phase.
type CreateStageInput struct {
	Title      string
	Order      int
	IsRequired bool
	Deadline   *time.Time
}

// TransitionStageInput is a requested stage status change.
type TransitionStageInput struct {
	ApplicationID     string
	StageID           string
	Status            models.StageStatus
	ExpectedUpdatedAt *time.Time
}

// AttachDocumentInput links an external document to a phase and optionally a stage.
type AttachDocumentInput struct {
	Phase      models.Phase
	StageID    *string
	Name       string
	URL        string
	IsRequired bool
}

// ApplicationService drives the application progress engine.
type ApplicationService struct {
	repo      applicationStore
	documents documentStore
	events    eventLog
	machine   *StateMachine
	progress  ProgressTracker
	registry  DocumentRegistry
	cache     *CacheService
	catalog   *catalog.Catalog
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewApplicationService constructs the service.
func NewApplicationService(repo applicationStore, documents documentStore, events eventLog, machine *StateMachine, progress ProgressTracker, registry DocumentRegistry, cache *CacheService, cat *catalog.Catalog, metrics *MetricsService, logger *zap.Logger) *ApplicationService {
	if cat == nil {
		cat = catalog.Default()
	}
	if machine == nil {
		machine = NewStateMachine(cat)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		repo:      repo,
		documents: documents,
		events:    events,
		machine:   machine,
		progress:  progress,
		registry:  registry,
		cache:     cache,
		catalog:   cat,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *ApplicationService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Enroll creates the application of userID with one not-started record per phase.
func (s *ApplicationService) Enroll(ctx context.Context, actor models.Actor, userID string) (*models.Application, error) {
	if strings.TrimSpace(userID) == "" {
		userID = actor.UserID
	}
	if userID == "" {
		return nil, appErrors.Validation("userId", "userId is required")
	}
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot enroll another user")
	}

	now := s.timestamp()
	app := &models.Application{UserID: userID, CreatedAt: now, UpdatedAt: now}
	for _, id := range s.catalog.Phases() {
		app.Phases = append(app.Phases, models.PhaseRecord{
			Phase:     models.Phase(id),
			Status:    models.PhaseStatusNotStarted,
			UpdatedAt: now,
			Documents: []models.DocumentRef{},
			Stages:    []models.Stage{},
		})
	}
	if err := s.repo.Create(ctx, app); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user already has an application")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}
	s.logger.Info("application enrolled", zap.String("application_id", app.ID), zap.String("user_id", userID))
	return app, nil
}

// Get returns the application with its phases, stages and documents.
func (s *ApplicationService) Get(ctx context.Context, actor models.Actor, id string) (*models.Application, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachDocuments(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// GetByUser returns the application owned by userID.
func (s *ApplicationService) GetByUser(ctx context.Context, actor models.Actor, userID string) (*models.Application, error) {
	if !actor.CanAccessUser(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another user")
	}
	app, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, mapLoadError(err, "application")
	}
	if err := s.attachDocuments(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Delete removes the application and every plan of its owner.
func (s *ApplicationService) Delete(ctx context.Context, actor models.Actor, id string) error {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapLoadError(err, "application")
	}
	if s.progress != nil {
		s.progress.Forget(ctx, id)
	}
	_ = s.cache.Invalidate(ctx, grantCachePattern(app.UserID))
	s.logger.Info("application deleted", zap.String("application_id", id), zap.String("user_id", app.UserID), zap.String("actor", actor.UserID))
	return nil
}

// TransitionPhase applies a phase status change under optimistic concurrency.
func (s *ApplicationService) TransitionPhase(ctx context.Context, actor models.Actor, in TransitionPhaseInput) (*models.PhaseRecord, error) {
	if !s.catalog.IsPhase(string(in.Phase)) {
		return nil, appErrors.Validation("phase", fmt.Sprintf("unknown phase %q", in.Phase))
	}
	if in.ExpectedUpdatedAt == nil {
		return nil, appErrors.Validation("expectedUpdatedAt", "expectedUpdatedAt is required")
	}
	if in.ReviewNotes != nil && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers can write review notes")
	}

	app, err := s.load(ctx, actor, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	record, ok := app.Phase(in.Phase)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "phase record not found")
	}
	if !record.UpdatedAt.Equal(*in.ExpectedUpdatedAt) {
		s.metrics.RecordTransition("phase", string(in.Status), OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrConflict, "phase was modified since it was read")
	}

	var predecessor *models.PhaseStatus
	if prev, ok := s.catalog.Predecessor(string(in.Phase)); ok {
		status := models.PhaseStatusNotStarted
		if prevRecord, found := app.Phase(models.Phase(prev)); found {
			status = prevRecord.Status
		}
		predecessor = &status
	}

	next, err := s.machine.TransitionPhase(PhaseTransitionInput{
		Phase:       in.Phase,
		Current:     record.Status,
		Requested:   in.Status,
		Predecessor: predecessor,
		Actor:       actor,
	})
	if err != nil {
		s.metrics.RecordTransition("phase", string(in.Status), OutcomeRejected)
		return nil, err
	}

	now := s.timestamp()
	stamps := StampPhase(*record, next, now)
	notes := record.ReviewNotes
	if in.ReviewNotes != nil {
		notes = in.ReviewNotes
	}
	event := &models.StageStatusChangeEvent{
		ApplicationID: app.ID,
		UserID:        app.UserID,
		Phase:         in.Phase,
		OldStatus:     string(record.Status),
		NewStatus:     string(next),
		TriggeredBy:   actor.UserID,
		Timestamp:     now,
	}
	err = s.repo.ApplyPhaseTransition(ctx, repository.PhaseTransition{
		ApplicationID:     app.ID,
		Phase:             in.Phase,
		Status:            next,
		CompletedAt:       stamps.CompletedAt,
		ReviewedAt:        stamps.ReviewedAt,
		ReviewNotes:       notes,
		UpdatedAt:         now,
		ExpectedUpdatedAt: *in.ExpectedUpdatedAt,
	}, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTransition("phase", string(next), OutcomeConflict)
			return nil, appErrors.Clone(appErrors.ErrConflict, "phase was modified since it was read")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update phase")
	}

	record.Status = next
	record.CompletedAt = stamps.CompletedAt
	record.ReviewedAt = stamps.ReviewedAt
	record.ReviewNotes = notes
	record.UpdatedAt = now
	s.metrics.RecordTransition("phase", string(next), OutcomeAccepted)
	s.logger.Info("phase transitioned",
		zap.String("application_id", app.ID),
		zap.String("phase", string(in.Phase)),
		zap.String("from", event.OldStatus),
		zap.String("to", event.NewStatus),
		zap.String("actor", actor.UserID))
	if s.progress != nil {
		s.progress.Publish(ctx, *event)
	}

	if err := s.attachDocuments(ctx, app); err != nil {
		s.logger.Warn("documents not attached to response", zap.String("application_id", app.ID), zap.Error(err))
	}
	return record, nil
}

// UpdatePhaseDetails applies a decoded phase payload: the deadline is replaced and, when
// the payload carries a document list, documents are matched by URL. A status differing
// from the current one is rejected; it never changes here.
func (s *ApplicationService) UpdatePhaseDetails(ctx context.Context, actor models.Actor, applicationID string, phase models.Phase, update schema.PhaseUpdate) (*models.PhaseRecord, error) {
	if actor.Role == models.RoleGuest || !actor.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "guests cannot edit applications")
	}
	if !s.catalog.IsPhase(string(phase)) {
		return nil, appErrors.Validation("phase", fmt.Sprintf("unknown phase %q", phase))
	}
	if update.ExpectedUpdatedAt == nil {
		return nil, appErrors.Validation("expectedUpdatedAt", "expectedUpdatedAt is required")
	}

	app, err := s.load(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	record, ok := app.Phase(phase)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "phase record not found")
	}
	if !record.UpdatedAt.Equal(*update.ExpectedUpdatedAt) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "phase was modified since it was read")
	}
	// legacy payloads may echo the current status; changing it needs the transition route
	if update.Status != nil && *update.Status != record.Status {
		return nil, appErrors.WithDetail(
			appErrors.Validation("status", fmt.Sprintf("status changes from %s to %s must use PATCH /applications/{id}/phases/{phase}/status", record.Status, *update.Status)),
			"currentStatus", string(record.Status))
	}

	now := s.timestamp()
	change := repository.PhaseDetailsChange{
		ApplicationID:     app.ID,
		Phase:             phase,
		Deadline:          update.Deadline,
		UpdatedAt:         now,
		ExpectedUpdatedAt: *update.ExpectedUpdatedAt,
	}

	if update.Documents != nil {
		existing, err := s.documents.ListByApplication(ctx, app.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
		}
		byURL := make(map[string]models.DocumentRef)
		for _, doc := range existing {
			if doc.Phase == phase {
				byURL[normalizeLinkURL(doc.URL)] = doc
			}
		}
		seen := make(map[string]bool, len(update.Documents))
		for i, draft := range update.Documents {
			field := fmt.Sprintf("documents[%d]", i)
			if err := s.validateDraft(record, field, draft); err != nil {
				return nil, err
			}
			key := normalizeLinkURL(draft.URL)
			if seen[key] {
				return nil, appErrors.Validation(field+".url", "duplicate document url")
			}
			seen[key] = true

			if doc, ok := byURL[key]; ok {
				doc.Name = strings.TrimSpace(draft.Name)
				doc.IsRequired = draft.IsRequired
				doc.StageID = draft.StageID
				change.UpdateDocuments = append(change.UpdateDocuments, doc)
				delete(byURL, key)
				continue
			}
			change.InsertDocuments = append(change.InsertDocuments, s.newDocument(app.ID, phase, draft, now))
		}
		for _, doc := range byURL {
			change.DeleteDocumentIDs = append(change.DeleteDocumentIDs, doc.ID)
		}
	}

	if err := s.repo.UpdatePhaseDetails(ctx, change); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "phase was modified since it was read")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update phase")
	}

	record.Deadline = update.Deadline
	record.UpdatedAt = now
	if s.progress != nil {
		s.progress.Forget(ctx, app.ID)
	}
	for _, doc := range change.InsertDocuments {
		s.scheduleVerification(ctx, doc)
	}
	if err := s.attachDocuments(ctx, app); err != nil {
		s.logger.Warn("documents not attached to response", zap.String("application_id", app.ID), zap.Error(err))
	}
	s.logger.Info("phase details updated",
		zap.String("application_id", app.ID),
		zap.String("phase", string(phase)),
		zap.String("schema_version", string(update.Version)),
		zap.Int("inserted", len(change.InsertDocuments)),
		zap.Int("updated", len(change.UpdateDocuments)),
		zap.Int("deleted", len(change.DeleteDocumentIDs)))
	return record, nil
}

// CreateStage adds a not-started stage to a phase. The order must be unique in the phase.
func (s *ApplicationService) CreateStage(ctx context.Context, actor models.Actor, applicationID string, phase models.Phase, in CreateStageInput) (*models.Stage, error) {
	if actor.Role == models.RoleGuest || !actor.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "guests cannot edit applications")
	}
	if !s.catalog.IsPhase(string(phase)) {
		return nil, appErrors.Validation("phase", fmt.Sprintf("unknown phase %q", phase))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, appErrors.Validation("title", "title is required")
	}
	if in.Order < 1 {
		return nil, appErrors.Validation("order", "order must be at least 1")
	}
	app, err := s.load(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	stage := &models.Stage{
		ApplicationID: app.ID,
		Phase:         phase,
		Title:         title,
		Order:         in.Order,
		Status:        models.StageStatusNotStarted,
		IsRequired:    in.IsRequired,
		Deadline:      in.Deadline,
		UpdatedAt:     now,
		Documents:     []models.DocumentRef{},
	}
	if err := s.repo.CreateStage(ctx, stage); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.WithDetail(appErrors.Clone(appErrors.ErrConflict, "stage order already used in this phase"), "order", in.Order)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create stage")
	}
	if s.progress != nil {
		s.progress.Forget(ctx, app.ID)
	}
	return stage, nil
}

// TransitionStage applies a stage status change under optimistic concurrency.
func (s *ApplicationService) TransitionStage(ctx context.Context, actor models.Actor, in TransitionStageInput) (*models.Stage, error) {
	if in.ExpectedUpdatedAt == nil {
		return nil, appErrors.Validation("expectedUpdatedAt", "expectedUpdatedAt is required")
	}
	app, err := s.load(ctx, actor, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	stage := findStage(app, in.StageID)
	if stage == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "stage not found")
	}
	if !stage.UpdatedAt.Equal(*in.ExpectedUpdatedAt) {
		s.metrics.RecordTransition("stage", string(in.Status), OutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrConflict, "stage was modified since it was read")
	}

	var blocking []string
	if in.Status == models.StageStatusCompleted {
		blocking, err = s.documents.ListBlockingForStage(ctx, stage.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check stage documents")
		}
	}
	next, err := s.machine.TransitionStage(StageTransitionInput{
		Current:           stage.Status,
		Requested:         in.Status,
		BlockingDocuments: blocking,
		Actor:             actor,
	})
	if err != nil {
		s.metrics.RecordTransition("stage", string(in.Status), OutcomeRejected)
		return nil, err
	}

	now := s.timestamp()
	var completedAt *time.Time
	if next == models.StageStatusCompleted {
		completedAt = &now
	}
	stageID := stage.ID
	event := &models.StageStatusChangeEvent{
		ApplicationID: app.ID,
		UserID:        app.UserID,
		Phase:         stage.Phase,
		StageID:       &stageID,
		OldStatus:     string(stage.Status),
		NewStatus:     string(next),
		TriggeredBy:   actor.UserID,
		Timestamp:     now,
	}
	err = s.repo.ApplyStageTransition(ctx, repository.StageTransition{
		ApplicationID:     app.ID,
		StageID:           stage.ID,
		Status:            next,
		CompletedAt:       completedAt,
		UpdatedAt:         now,
		ExpectedUpdatedAt: *in.ExpectedUpdatedAt,
	}, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTransition("stage", string(next), OutcomeConflict)
			return nil, appErrors.Clone(appErrors.ErrConflict, "stage was modified since it was read")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update stage")
	}

	stage.Status = next
	stage.CompletedAt = completedAt
	stage.UpdatedAt = now
	s.metrics.RecordTransition("stage", string(next), OutcomeAccepted)
	s.logger.Info("stage transitioned",
		zap.String("application_id", app.ID),
		zap.String("stage_id", stage.ID),
		zap.String("from", event.OldStatus),
		zap.String("to", event.NewStatus),
		zap.String("actor", actor.UserID))
	if s.progress != nil {
		s.progress.Publish(ctx, *event)
	}
	return stage, nil
}

// AttachDocument stores a document link and queues its verification.
func (s *ApplicationService) AttachDocument(ctx context.Context, actor models.Actor, applicationID string, in AttachDocumentInput) (*models.DocumentRef, error) {
	if actor.Role == models.RoleGuest || !actor.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "guests cannot edit applications")
	}
	if !s.catalog.IsPhase(string(in.Phase)) {
		return nil, appErrors.Validation("phase", fmt.Sprintf("unknown phase %q", in.Phase))
	}
	app, err := s.load(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	record, ok := app.Phase(in.Phase)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "phase record not found")
	}
	draft := models.DocumentDraft{Name: in.Name, URL: in.URL, IsRequired: in.IsRequired, StageID: in.StageID}
	if err := s.validateDraft(record, "", draft); err != nil {
		return nil, err
	}

	doc := s.newDocument(app.ID, in.Phase, draft, s.timestamp())
	if err := s.documents.Create(ctx, &doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	s.scheduleVerification(ctx, doc)
	return &doc, nil
}

// ReplaceDocumentURL points a document at a new URL. The version bump makes any pending
// probe of the old URL stale.
func (s *ApplicationService) ReplaceDocumentURL(ctx context.Context, actor models.Actor, applicationID, documentID, rawURL string) (*models.DocumentRef, error) {
	if actor.Role == models.RoleGuest || !actor.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "guests cannot edit applications")
	}
	if err := ValidateLinkURL(rawURL); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(rawURL)
	doc, err := s.documents.ReplaceURL(ctx, applicationID, documentID, trimmed, s.classify(trimmed))
	if err != nil {
		return nil, mapLoadError(err, "document")
	}
	s.scheduleVerification(ctx, *doc)
	return doc, nil
}

// DeleteDocument removes a document; pending probes for it are discarded on arrival.
func (s *ApplicationService) DeleteDocument(ctx context.Context, actor models.Actor, applicationID, documentID string) error {
	if actor.Role == models.RoleGuest || !actor.Role.Valid() {
		return appErrors.Clone(appErrors.ErrForbidden, "guests cannot edit applications")
	}
	if _, err := s.load(ctx, actor, applicationID); err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, applicationID, documentID); err != nil {
		return mapLoadError(err, "document")
	}
	return nil
}

// ListEvents returns the most recent status change events of an application.
func (s *ApplicationService) ListEvents(ctx context.Context, actor models.Actor, applicationID string, limit int) ([]models.StageStatusChangeEvent, error) {
	if _, err := s.load(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	events, err := s.events.ListByApplication(ctx, applicationID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	return events, nil
}

// Progress returns the progress snapshot of an application.
func (s *ApplicationService) Progress(ctx context.Context, actor models.Actor, applicationID string) (*models.ApplicationProgress, error) {
	if s.progress == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "progress tracking is not configured")
	}
	progress, err := s.progress.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessUser(progress.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another user")
	}
	return progress, nil
}

func (s *ApplicationService) load(ctx context.Context, actor models.Actor, id string) (*models.Application, error) {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err, "application")
	}
	if !actor.CanAccessUser(app.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another user")
	}
	return app, nil
}

func (s *ApplicationService) attachDocuments(ctx context.Context, app *models.Application) error {
	docs, err := s.documents.ListByApplication(ctx, app.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
	}
	for i := range app.Phases {
		record := &app.Phases[i]
		record.Documents = []models.DocumentRef{}
		if record.Stages == nil {
			record.Stages = []models.Stage{}
		}
		for j := range record.Stages {
			record.Stages[j].Documents = []models.DocumentRef{}
		}
		for _, doc := range docs {
			if doc.Phase != record.Phase {
				continue
			}
			if doc.StageID != nil {
				if stage := stageIn(record, *doc.StageID); stage != nil {
					stage.Documents = append(stage.Documents, doc)
					continue
				}
			}
			record.Documents = append(record.Documents, doc)
		}
	}
	return nil
}

func (s *ApplicationService) validateDraft(record *models.PhaseRecord, field string, draft models.DocumentDraft) error {
	prefix := field
	if prefix != "" {
		prefix += "."
	}
	if strings.TrimSpace(draft.Name) == "" {
		return appErrors.Validation(prefix+"name", "document name is required")
	}
	if err := ValidateLinkURL(draft.URL); err != nil {
		return appErrors.Validation(prefix+"url", appErrors.FromError(err).Message)
	}
	if draft.StageID != nil && stageIn(record, *draft.StageID) == nil {
		return appErrors.Validation(prefix+"stageId", "stage does not belong to this phase")
	}
	return nil
}

func (s *ApplicationService) newDocument(applicationID string, phase models.Phase, draft models.DocumentDraft, now time.Time) models.DocumentRef {
	url := strings.TrimSpace(draft.URL)
	return models.DocumentRef{
		ID:               uuid.NewString(),
		ApplicationID:    applicationID,
		Phase:            phase,
		StageID:          draft.StageID,
		Name:             strings.TrimSpace(draft.Name),
		SourceType:       s.classify(url),
		URL:              url,
		AccessPermission: models.AccessUnknown,
		IsRequired:       draft.IsRequired,
		Version:          1,
		CreatedAt:        now,
	}
}

func (s *ApplicationService) classify(raw string) models.SourceType {
	if s.registry != nil {
		return s.registry.Classify(raw)
	}
	return ClassifyURL(s.catalog, raw)
}

func (s *ApplicationService) scheduleVerification(ctx context.Context, doc models.DocumentRef) {
	if s.registry != nil {
		s.registry.ScheduleVerification(ctx, doc)
	}
}

func findStage(app *models.Application, stageID string) *models.Stage {
	for i := range app.Phases {
		if stage := stageIn(&app.Phases[i], stageID); stage != nil {
			return stage
		}
	}
	return nil
}

func stageIn(record *models.PhaseRecord, stageID string) *models.Stage {
	for i := range record.Stages {
		if record.Stages[i].ID == stageID {
			return &record.Stages[i]
		}
	}
	return nil
}

func mapLoadError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+what)
}
