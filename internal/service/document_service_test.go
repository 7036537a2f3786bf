package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/repository"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
	"github.com/karripar/va-hybrid-api/pkg/jobs"
)

type stubProbe struct {
	mu     sync.Mutex
	result ProbeResult
	urls   []string
}

func (s *stubProbe) Probe(_ context.Context, rawURL string) ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, rawURL)
	return s.result
}

type stubVerifiedDocuments struct {
	docs     map[string]models.DocumentRef
	applied  []repository.Verification
	applyErr error
}

func (s *stubVerifiedDocuments) GetByID(_ context.Context, id string) (*models.DocumentRef, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &doc, nil
}

func (s *stubVerifiedDocuments) ApplyVerification(_ context.Context, v repository.Verification) (bool, error) {
	if s.applyErr != nil {
		return false, s.applyErr
	}
	doc, ok := s.docs[v.DocumentID]
	if !ok || doc.Version != v.Version {
		return false, nil
	}
	doc.IsAccessible = v.IsAccessible
	doc.AccessPermission = v.AccessPermission
	verified := v.VerifiedAt
	doc.LastVerified = &verified
	s.docs[v.DocumentID] = doc
	s.applied = append(s.applied, v)
	return true, nil
}

type stubQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *stubQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Pending() int { return len(q.jobs) }

type documentFixture struct {
	svc   *DocumentService
	probe *stubProbe
	docs  *stubVerifiedDocuments
	queue *stubQueue
	redis *miniredis.Miniredis
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ok := http.StatusOK
	f := &documentFixture{
		probe: &stubProbe{result: ProbeResult{StatusCode: &ok, Accessible: true, Permission: models.AccessPublic, Attempts: 1}},
		docs: &stubVerifiedDocuments{docs: map[string]models.DocumentRef{
			"doc-1": {ID: "doc-1", ApplicationID: "app-1", URL: "https://drive.google.com/file/d/1", Version: 3},
		}},
		queue: &stubQueue{},
		redis: mr,
	}
	loader := &stubApplicationLoader{app: newSnapshot()}
	f.svc = NewDocumentService(nil, f.probe, repository.NewValidationRepository(client, time.Hour), f.docs, loader, NewMetricsService(), nil, DocumentServiceConfig{})
	f.svc.AttachQueue(f.queue)
	return f
}

// run drains the stub queue through the worker handler.
func (f *documentFixture) run(t *testing.T) {
	t.Helper()
	pending := f.queue.jobs
	f.queue.jobs = nil
	for _, job := range pending {
		require.NoError(t, f.svc.HandleJob(context.Background(), job))
	}
}

func TestClassifyURL(t *testing.T) {
	cases := map[string]models.SourceType{
		"https://drive.google.com/file/d/abc":     models.SourceGoogleDrive,
		"https://docs.google.com/document/d/abc":  models.SourceGoogleDrive,
		"https://1drv.ms/w/s!abc":                 models.SourceOneDrive,
		"https://company.sharepoint.com/x":        models.SourceOneDrive,
		"https://www.dropbox.com/s/abc/file.pdf":  models.SourceDropbox,
		"https://www.icloud.com/iclouddrive/abc":  models.SourceICloud,
		"https://example.org/file.pdf":            models.SourceOtherURL,
		"https://drive.google.com.evil.example/x": models.SourceOtherURL,
		"not a url":                               models.SourceOtherURL,
		"":                                        models.SourceOtherURL,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ClassifyURL(nil, raw), raw)
	}
}

func TestValidateLinkURL(t *testing.T) {
	require.NoError(t, ValidateLinkURL(" https://example.org/a "))
	for _, raw := range []string{"", "   ", "ftp://example.org", "mailto:a@b.c", "https://", "http://%zz"} {
		err := ValidateLinkURL(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, appErrors.ErrValidation), raw)
		assert.Equal(t, "url", appErrors.FromError(err).Field, raw)
	}
}

func TestValidationDedupKeyDependsOnVersion(t *testing.T) {
	doc := "doc-1"
	v1, v2 := 1, 2
	url := normalizeLinkURL("HTTPS://Drive.Google.com/file#frag")
	assert.Equal(t, "https://drive.google.com/file", url)
	assert.Equal(t, validationDedupKey(url, &doc, &v1), validationDedupKey(url, &doc, &v1))
	assert.NotEqual(t, validationDedupKey(url, &doc, &v1), validationDedupKey(url, &doc, &v2))
	assert.NotEqual(t, validationDedupKey(url, nil, nil), validationDedupKey(url, &doc, &v1))
	assert.Len(t, validationDedupKey(url, nil, nil), 64)
}

func TestDocumentServiceValidateSynchronously(t *testing.T) {
	f := newDocumentFixture(t)

	result := f.svc.Validate(context.Background(), "https://www.dropbox.com/s/file.pdf")
	assert.Equal(t, models.ValidationCompleted, result.State)
	assert.True(t, result.IsValid)
	assert.True(t, result.IsAccessible)
	assert.Equal(t, models.SourceDropbox, result.SourceType)
	assert.Equal(t, models.AccessPublic, result.AccessPermission)
	require.NotNil(t, result.CheckedAt)

	invalid := f.svc.Validate(context.Background(), "ftp://example.org/file")
	assert.False(t, invalid.IsValid)
	assert.False(t, invalid.IsAccessible)
	require.NotNil(t, invalid.ErrorMessage)
	assert.Len(t, f.probe.urls, 1)
}

func TestDocumentServiceProbeFailureIsRecorded(t *testing.T) {
	f := newDocumentFixture(t)
	f.probe.result = ProbeResult{Permission: models.AccessUnknown, Attempts: 2, Err: errors.New("dial tcp: timeout")}

	result := f.svc.Validate(context.Background(), "https://example.org/file")
	assert.True(t, result.IsValid)
	assert.False(t, result.IsAccessible)
	assert.Equal(t, 2, result.Attempts)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "timeout")
}

func TestDocumentServiceRequestValidationCoalescesPending(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()

	first, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/file"})
	require.NoError(t, err)
	assert.Equal(t, models.ValidationPending, first.State)

	second, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://EXAMPLE.org/file#top"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, f.queue.jobs, 1)

	f.run(t)
	done, err := f.svc.GetValidation(ctx, userActor, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationCompleted, done.State)
	assert.True(t, done.IsAccessible)

	third, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/file"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestDocumentServiceAppliesVerificationToDocument(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()
	docID := "doc-1"

	v, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{DocumentID: &docID})
	require.NoError(t, err)
	require.NotNil(t, v.DocumentVersion)
	assert.Equal(t, 3, *v.DocumentVersion)

	f.run(t)
	require.Len(t, f.docs.applied, 1)
	stored := f.docs.docs["doc-1"]
	assert.True(t, stored.IsAccessible)
	assert.Equal(t, models.AccessPublic, stored.AccessPermission)
	require.NotNil(t, stored.LastVerified)
}

func TestDocumentServiceDiscardsStaleVersion(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()
	docID := "doc-1"

	v, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{DocumentID: &docID})
	require.NoError(t, err)

	// URL replaced while the probe was queued
	doc := f.docs.docs["doc-1"]
	doc.Version++
	doc.URL = "https://example.org/new"
	f.docs.docs["doc-1"] = doc

	f.run(t)
	assert.Empty(t, f.docs.applied)
	assert.False(t, f.docs.docs["doc-1"].IsAccessible)

	stored, err := f.svc.GetValidation(ctx, userActor, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationDiscarded, stored.State)
}

func TestDocumentServiceStoreFailureIsNotDiscarded(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()
	docID := "doc-1"

	v, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{DocumentID: &docID})
	require.NoError(t, err)
	f.docs.applyErr = errors.New("connection reset")

	queued := f.queue.jobs
	f.queue.jobs = nil
	require.Len(t, queued, 1)
	err = f.svc.HandleJob(ctx, queued[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 3, f.docs.docs["doc-1"].Version)
	assert.Nil(t, f.docs.docs["doc-1"].LastVerified)

	stored, err := f.svc.GetValidation(ctx, userActor, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationCompleted, stored.State)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "connection reset")

	// the reservation is released, so a retry is accepted as a new validation
	f.docs.applyErr = nil
	again, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{DocumentID: &docID})
	require.NoError(t, err)
	assert.NotEqual(t, v.ID, again.ID)
	f.run(t)
	require.Len(t, f.docs.applied, 1)
}

func TestDocumentServiceGetValidationChecksDocumentOwner(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()
	docID := "doc-1"

	v, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{DocumentID: &docID})
	require.NoError(t, err)

	_, err = f.svc.GetValidation(ctx, models.Actor{UserID: "user-2", Role: models.RoleUser}, v.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	got, err := f.svc.GetValidation(ctx, adminActor, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	// document deleted afterwards
	delete(f.docs.docs, "doc-1")
	_, err = f.svc.GetValidation(ctx, userActor, v.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	// plain URL validations carry no owner
	plain, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/open.pdf"})
	require.NoError(t, err)
	_, err = f.svc.GetValidation(ctx, models.Actor{UserID: "user-2", Role: models.RoleUser}, plain.ID)
	require.NoError(t, err)
}

func TestDocumentServiceDiscardJobSettlesPendingValidation(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()

	v, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/queued.pdf"})
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	f.queue.jobs = nil

	require.NoError(t, f.svc.DiscardJob(ctx, job))
	stored, err := f.svc.GetValidation(ctx, userActor, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationDiscarded, stored.State)
	require.NotNil(t, stored.ErrorMessage)
	assert.Empty(t, f.probe.urls)

	// reservation freed: the same URL gets a fresh validation
	again, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/queued.pdf"})
	require.NoError(t, err)
	assert.NotEqual(t, v.ID, again.ID)

	require.Error(t, f.svc.DiscardJob(ctx, jobs.Job{ID: "x", Payload: "nope"}))
}

func TestDocumentServiceRequestValidationRules(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()
	docID := "doc-1"
	missing := "doc-missing"

	_, err := f.svc.RequestValidation(ctx, models.Actor{Role: models.RoleGuest}, RequestValidationInput{URL: "https://example.org"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "javascript:alert(1)"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/other", DocumentID: &docID})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.RequestValidation(ctx, models.Actor{UserID: "user-2", Role: models.RoleUser}, RequestValidationInput{DocumentID: &docID})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.RequestValidation(ctx, userActor, RequestValidationInput{DocumentID: &missing})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.GetValidation(ctx, userActor, "unknown")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, f.queue.jobs)
}

func TestDocumentServiceQueueUnavailable(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()
	f.queue.err = jobs.ErrQueueFull

	_, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/file"})
	require.True(t, errors.Is(err, appErrors.ErrUnavailable))

	// the reservation was released so a retry is not coalesced onto the discarded entry
	f.queue.err = nil
	v, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/file"})
	require.NoError(t, err)
	assert.Equal(t, models.ValidationPending, v.State)

	detached := NewDocumentService(nil, f.probe, nil, f.docs, nil, nil, nil, DocumentServiceConfig{})
	_, err = detached.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/file"})
	require.True(t, errors.Is(err, appErrors.ErrUnavailable))
}

func TestDocumentServiceExpiredReservationIsTakenOver(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()

	first, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/file"})
	require.NoError(t, err)
	// result expired while the reservation is still held
	f.redis.Del("docval:" + first.ID)

	second, err := f.svc.RequestValidation(ctx, userActor, RequestValidationInput{URL: "https://example.org/file"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, f.queue.jobs, 2)
}

func TestDocumentServiceHandleJobRejectsForeignPayload(t *testing.T) {
	f := newDocumentFixture(t)
	err := f.svc.HandleJob(context.Background(), jobs.Job{ID: "x", Type: JobTypeLinkValidation, Payload: "nope"})
	require.Error(t, err)
}
