package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/repository"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
	"github.com/karripar/va-hybrid-api/pkg/jobs"
)

// JobTypeLinkValidation names queued link probes.
const JobTypeLinkValidation = "document.validate"

type linkProbe interface {
	Probe(ctx context.Context, rawURL string) ProbeResult
}

type validationStore interface {
	Reserve(ctx context.Context, dedupKey, validationID string, hold time.Duration) (string, bool, error)
	Release(ctx context.Context, dedupKey string) error
	Save(ctx context.Context, v *models.DocumentLinkValidation) error
	Get(ctx context.Context, id string) (*models.DocumentLinkValidation, error)
}

type verifiedDocumentStore interface {
	GetByID(ctx context.Context, id string) (*models.DocumentRef, error)
	ApplyVerification(ctx context.Context, v repository.Verification) (bool, error)
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
	Pending() int
}

// ClassifyURL maps a URL onto the platform signature table; unparseable or unknown
// hosts fall back to the catalog's generic source type.
func ClassifyURL(cat *catalog.Catalog, raw string) models.SourceType {
	if cat == nil {
		cat = catalog.Default()
	}
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Hostname() == "" {
		return models.SourceType(cat.FallbackSourceType())
	}
	return models.SourceType(cat.MatchHost(parsed.Hostname()))
}

// ValidateLinkURL accepts absolute http(s) URLs with a host.
func ValidateLinkURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return appErrors.Validation("url", "url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return appErrors.Validation("url", "url is not parseable")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return appErrors.Validation("url", "url must use http or https")
	}
	if parsed.Hostname() == "" {
		return appErrors.Validation("url", "url must include a host")
	}
	return nil
}

func normalizeLinkURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String()
}

func validationDedupKey(normalizedURL string, documentID *string, version *int) string {
	material := normalizedURL
	if documentID != nil {
		material += "|" + *documentID
	}
	if version != nil {
		material += "|" + strconv.Itoa(*version)
	}
	sum := blake2b.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// RequestValidationInput asks for an asynchronous probe of a URL or a stored document.
type RequestValidationInput struct {
	URL        string
	DocumentID *string
}

// DocumentServiceConfig tunes the asynchronous validation path.
type DocumentServiceConfig struct {
	// DedupHold bounds how long an identical pending request is coalesced.
	DedupHold time.Duration
}

// DocumentService is the document link registry: classification, probing and
// asynchronous validation bookkeeping.
type DocumentService struct {
	catalog     *catalog.Catalog
	prober      linkProbe
	validations validationStore
	documents   verifiedDocumentStore
	apps        ApplicationLoader
	queue       jobQueue
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         DocumentServiceConfig
	now         func() time.Time
}

// NewDocumentService constructs the registry. The queue may be attached later with
// AttachQueue because the queue handler is the service itself.
func NewDocumentService(cat *catalog.Catalog, prober linkProbe, validations validationStore, documents verifiedDocumentStore, apps ApplicationLoader, metrics *MetricsService, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DedupHold <= 0 {
		cfg.DedupHold = 2 * time.Minute
	}
	return &DocumentService{
		catalog:     cat,
		prober:      prober,
		validations: validations,
		documents:   documents,
		apps:        apps,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// AttachQueue wires the worker queue used by RequestValidation.
func (s *DocumentService) AttachQueue(queue jobQueue) {
	s.queue = queue
}

// Classify returns the source type of raw.
func (s *DocumentService) Classify(raw string) models.SourceType {
	return ClassifyURL(s.catalog, raw)
}

// Validate probes raw synchronously. Probe failures are recorded in the result.
func (s *DocumentService) Validate(ctx context.Context, raw string) models.DocumentLinkValidation {
	now := s.now().UTC()
	v := models.DocumentLinkValidation{
		ID:               uuid.NewString(),
		URL:              strings.TrimSpace(raw),
		SourceType:       s.Classify(raw),
		State:            models.ValidationPending,
		AccessPermission: models.AccessUnknown,
		RequestedAt:      now,
	}
	s.probeInto(ctx, &v)
	return v
}

func (s *DocumentService) probeInto(ctx context.Context, v *models.DocumentLinkValidation) {
	v.State = models.ValidationCompleted
	if err := ValidateLinkURL(v.URL); err != nil {
		msg := appErrors.FromError(err).Message
		v.IsValid = false
		v.IsAccessible = false
		v.AccessPermission = models.AccessUnknown
		v.ErrorMessage = &msg
		checked := s.now().UTC()
		v.CheckedAt = &checked
		return
	}
	v.IsValid = true

	result := s.prober.Probe(ctx, v.URL)
	v.Attempts = result.Attempts
	v.StatusCode = result.StatusCode
	v.IsAccessible = result.Accessible
	v.AccessPermission = result.Permission
	v.ErrorMessage = nil
	if result.Err != nil {
		msg := result.Err.Error()
		v.ErrorMessage = &msg
	}
	checked := s.now().UTC()
	v.CheckedAt = &checked
	s.metrics.ObserveProbe(v.SourceType, v.AccessPermission, result.Duration)
}

// RequestValidation records a pending validation and queues the probe. Identical pending
// requests share one validation.
func (s *DocumentService) RequestValidation(ctx context.Context, actor models.Actor, in RequestValidationInput) (*models.DocumentLinkValidation, error) {
	if actor.Role == models.RoleGuest || !actor.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "guests cannot request validations")
	}

	target := strings.TrimSpace(in.URL)
	var version *int
	if in.DocumentID != nil {
		doc, err := s.authorizedDocument(ctx, actor, *in.DocumentID)
		if err != nil {
			return nil, err
		}
		if target != "" && normalizeLinkURL(target) != normalizeLinkURL(doc.URL) {
			return nil, appErrors.Validation("url", "url does not match the stored document")
		}
		target = doc.URL
		v := doc.Version
		version = &v
	}
	if err := ValidateLinkURL(target); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, target, in.DocumentID, version)
}

// ScheduleVerification queues a probe for a stored document. Failures are logged only.
func (s *DocumentService) ScheduleVerification(ctx context.Context, doc models.DocumentRef) {
	if ValidateLinkURL(doc.URL) != nil {
		return
	}
	id := doc.ID
	version := doc.Version
	if _, err := s.enqueue(ctx, doc.URL, &id, &version); err != nil {
		s.logger.Warn("document verification not scheduled",
			zap.String("document_id", doc.ID),
			zap.Int("version", doc.Version),
			zap.Error(err))
	}
}

func (s *DocumentService) enqueue(ctx context.Context, target string, documentID *string, version *int) (*models.DocumentLinkValidation, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "link validation is not running")
	}

	v := &models.DocumentLinkValidation{
		ID:               uuid.NewString(),
		URL:              target,
		DocumentID:       documentID,
		DocumentVersion:  version,
		SourceType:       s.Classify(target),
		State:            models.ValidationPending,
		IsValid:          true,
		AccessPermission: models.AccessUnknown,
		RequestedAt:      s.now().UTC(),
	}

	dedup := validationDedupKey(normalizeLinkURL(target), documentID, version)
	existingID, claimed, err := s.validations.Reserve(ctx, dedup, v.ID, s.cfg.DedupHold)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve validation")
	}
	if !claimed {
		existing, err := s.validations.Get(ctx, existingID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrValidationNotFound) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation")
		}
		// reservation outlived its result; take it over
		_ = s.validations.Release(ctx, dedup)
		if _, claimed, err = s.validations.Reserve(ctx, dedup, v.ID, s.cfg.DedupHold); err != nil || !claimed {
			return nil, appErrors.Clone(appErrors.ErrConflict, "validation already in progress")
		}
	}

	if err := s.validations.Save(ctx, v); err != nil {
		_ = s.validations.Release(ctx, dedup)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store validation")
	}
	job := jobs.Job{ID: v.ID, Type: JobTypeLinkValidation, Payload: validationJob{ValidationID: v.ID, DedupKey: dedup}, Enqueued: v.RequestedAt}
	if err := s.queue.Enqueue(job); err != nil {
		_ = s.validations.Release(ctx, dedup)
		msg := "validation queue is full"
		v.State = models.ValidationDiscarded
		v.ErrorMessage = &msg
		_ = s.validations.Save(ctx, v)
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, msg)
	}
	s.metrics.SetQueueDepth(JobTypeLinkValidation, s.queue.Pending())
	return v, nil
}

type validationJob struct {
	ValidationID string
	DedupKey     string
}

// HandleJob is the worker side of RequestValidation.
func (s *DocumentService) HandleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(validationJob)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	defer func() {
		if err := s.validations.Release(context.WithoutCancel(ctx), payload.DedupKey); err != nil {
			s.logger.Warn("release validation reservation failed", zap.String("validation_id", payload.ValidationID), zap.Error(err))
		}
		if s.queue != nil {
			s.metrics.SetQueueDepth(JobTypeLinkValidation, s.queue.Pending())
		}
	}()

	v, err := s.validations.Get(ctx, payload.ValidationID)
	if err != nil {
		return fmt.Errorf("load validation %s: %w", payload.ValidationID, err)
	}
	s.probeInto(ctx, v)

	if v.DocumentID != nil && v.DocumentVersion != nil {
		// the link check may have used up the job deadline; the result must still be written
		applied, err := s.documents.ApplyVerification(context.WithoutCancel(ctx), repository.Verification{
			DocumentID:       *v.DocumentID,
			Version:          *v.DocumentVersion,
			IsAccessible:     v.IsAccessible,
			AccessPermission: v.AccessPermission,
			VerifiedAt:       *v.CheckedAt,
		})
		switch {
		case err != nil:
			msg := fmt.Sprintf("verification not recorded on document: %v", err)
			if v.ErrorMessage != nil {
				msg = *v.ErrorMessage + "; " + msg
			}
			v.ErrorMessage = &msg
			s.logger.Error("apply document verification failed", zap.String("document_id", *v.DocumentID), zap.Error(err))
			if saveErr := s.validations.Save(context.WithoutCancel(ctx), v); saveErr != nil {
				s.logger.Error("save validation failed", zap.String("validation_id", v.ID), zap.Error(saveErr))
			}
			return fmt.Errorf("apply verification of document %s: %w", *v.DocumentID, err)
		case !applied:
			v.State = models.ValidationDiscarded
			s.logger.Info("stale validation discarded",
				zap.String("validation_id", v.ID),
				zap.String("document_id", *v.DocumentID),
				zap.Int("version", *v.DocumentVersion))
		}
	}

	if err := s.validations.Save(context.WithoutCancel(ctx), v); err != nil {
		return fmt.Errorf("save validation %s: %w", v.ID, err)
	}
	return nil
}

// DiscardJob settles a validation whose job never ran, e.g. when the queue stops with
// work still buffered, and frees its dedup reservation.
func (s *DocumentService) DiscardJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(validationJob)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	defer func() {
		if err := s.validations.Release(ctx, payload.DedupKey); err != nil {
			s.logger.Warn("release validation reservation failed", zap.String("validation_id", payload.ValidationID), zap.Error(err))
		}
	}()

	v, err := s.validations.Get(ctx, payload.ValidationID)
	if err != nil {
		return fmt.Errorf("load validation %s: %w", payload.ValidationID, err)
	}
	if v.State != models.ValidationPending {
		return nil
	}
	msg := "validation was not run before shutdown; request it again"
	v.State = models.ValidationDiscarded
	v.ErrorMessage = &msg
	if err := s.validations.Save(ctx, v); err != nil {
		return fmt.Errorf("save validation %s: %w", v.ID, err)
	}
	return nil
}

// GetValidation returns a stored validation. Validations of a stored document are
// visible to the document owner and admins only.
func (s *DocumentService) GetValidation(ctx context.Context, actor models.Actor, id string) (*models.DocumentLinkValidation, error) {
	if actor.Role == models.RoleGuest || !actor.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "guests cannot read validations")
	}
	v, err := s.validations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrValidationNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "validation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation")
	}
	if v.DocumentID != nil && !actor.IsAdmin() {
		if _, err := s.authorizedDocument(ctx, actor, *v.DocumentID); err != nil {
			if errors.Is(err, appErrors.ErrNotFound) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "validation not found")
			}
			return nil, err
		}
	}
	return v, nil
}

func (s *DocumentService) authorizedDocument(ctx context.Context, actor models.Actor, documentID string) (*models.DocumentRef, error) {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if actor.IsAdmin() {
		return doc, nil
	}
	app, err := s.apps.GetByID(ctx, doc.ApplicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !actor.CanAccessUser(app.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "document belongs to another user")
	}
	return doc, nil
}
