package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/schema"
	"github.com/karripar/va-hybrid-api/internal/service"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

type applicationServiceMock struct {
	err error

	enrolledUser string
	phaseInput   service.TransitionPhaseInput
	phaseUpdate  schema.PhaseUpdate
	stageInput   service.TransitionStageInput
	createInput  service.CreateStageInput
	attachInput  service.AttachDocumentInput
	replacedURL  string
	eventLimit   int
	actor        models.Actor
	deleted      []string
}

func (m *applicationServiceMock) Enroll(_ context.Context, actor models.Actor, userID string) (*models.Application, error) {
	m.actor, m.enrolledUser = actor, userID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Application{ID: "app-1", UserID: userID}, nil
}

func (m *applicationServiceMock) Get(_ context.Context, actor models.Actor, id string) (*models.Application, error) {
	m.actor = actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.Application{ID: id, UserID: "user-1"}, nil
}

func (m *applicationServiceMock) GetByUser(_ context.Context, _ models.Actor, userID string) (*models.Application, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Application{ID: "app-1", UserID: userID}, nil
}

func (m *applicationServiceMock) Delete(_ context.Context, _ models.Actor, id string) error {
	m.deleted = append(m.deleted, id)
	return m.err
}

func (m *applicationServiceMock) TransitionPhase(_ context.Context, _ models.Actor, in service.TransitionPhaseInput) (*models.PhaseRecord, error) {
	m.phaseInput = in
	if m.err != nil {
		return nil, m.err
	}
	return &models.PhaseRecord{ApplicationID: in.ApplicationID, Phase: in.Phase, Status: in.Status}, nil
}

func (m *applicationServiceMock) UpdatePhaseDetails(_ context.Context, _ models.Actor, applicationID string, phase models.Phase, update schema.PhaseUpdate) (*models.PhaseRecord, error) {
	m.phaseUpdate = update
	if m.err != nil {
		return nil, m.err
	}
	return &models.PhaseRecord{ApplicationID: applicationID, Phase: phase}, nil
}

func (m *applicationServiceMock) CreateStage(_ context.Context, _ models.Actor, applicationID string, phase models.Phase, in service.CreateStageInput) (*models.Stage, error) {
	m.createInput = in
	if m.err != nil {
		return nil, m.err
	}
	return &models.Stage{ID: "stage-1", ApplicationID: applicationID, Phase: phase, Title: in.Title, Order: in.Order}, nil
}

func (m *applicationServiceMock) TransitionStage(_ context.Context, _ models.Actor, in service.TransitionStageInput) (*models.Stage, error) {
	m.stageInput = in
	if m.err != nil {
		return nil, m.err
	}
	return &models.Stage{ID: in.StageID, ApplicationID: in.ApplicationID, Status: in.Status}, nil
}

func (m *applicationServiceMock) AttachDocument(_ context.Context, _ models.Actor, applicationID string, in service.AttachDocumentInput) (*models.DocumentRef, error) {
	m.attachInput = in
	if m.err != nil {
		return nil, m.err
	}
	return &models.DocumentRef{ID: "doc-1", ApplicationID: applicationID, Name: in.Name, URL: in.URL}, nil
}

func (m *applicationServiceMock) ReplaceDocumentURL(_ context.Context, _ models.Actor, applicationID, documentID, rawURL string) (*models.DocumentRef, error) {
	m.replacedURL = rawURL
	if m.err != nil {
		return nil, m.err
	}
	return &models.DocumentRef{ID: documentID, ApplicationID: applicationID, URL: rawURL, Version: 2}, nil
}

func (m *applicationServiceMock) DeleteDocument(_ context.Context, _ models.Actor, _, documentID string) error {
	m.deleted = append(m.deleted, documentID)
	return m.err
}

func (m *applicationServiceMock) ListEvents(_ context.Context, _ models.Actor, _ string, limit int) ([]models.StageStatusChangeEvent, error) {
	m.eventLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return []models.StageStatusChangeEvent{{ApplicationID: "app-1"}, {ApplicationID: "app-1"}}, nil
}

func (m *applicationServiceMock) Progress(_ context.Context, _ models.Actor, applicationID string) (*models.ApplicationProgress, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.ApplicationProgress{ApplicationID: applicationID, UserID: "user-1"}, nil
}

func TestApplicationHandlerEnrollDefaultsToCaller(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	c, w := newTestContext(http.MethodPost, "/applications", nil, userClaims)
	h.Enroll(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-1", mock.enrolledUser)
	assert.Equal(t, models.Actor{UserID: "user-1", Role: models.RoleUser}, mock.actor)
}

func TestApplicationHandlerEnrollForAnotherUser(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	c, w := newTestContext(http.MethodPost, "/applications", []byte(`{"userId":"user-7"}`), adminClaims)
	h.Enroll(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-7", mock.enrolledUser)
}

func TestApplicationHandlerEnrollConflict(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "already enrolled")})

	c, w := newTestContext(http.MethodPost, "/applications", nil, userClaims)
	h.Enroll(c)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrConflict.Code, decodeEnvelope(t, w).Error.Code)
}

func TestApplicationHandlerTransitionPhase(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)
	expected := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	body := mustJSON(t, map[string]interface{}{"status": "submitted", "expectedUpdatedAt": expected})
	c, w := newTestContext(http.MethodPatch, "/applications/app-1/phases/esihaku/status", body, userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "phase", Value: "esihaku"})
	h.TransitionPhase(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "app-1", mock.phaseInput.ApplicationID)
	assert.Equal(t, models.PhaseEsihaku, mock.phaseInput.Phase)
	assert.Equal(t, models.PhaseStatusPendingReview, mock.phaseInput.Status)
	require.NotNil(t, mock.phaseInput.ExpectedUpdatedAt)
	assert.True(t, expected.Equal(*mock.phaseInput.ExpectedUpdatedAt))
}

func TestApplicationHandlerTransitionPhaseRejectsUnknownStatus(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{})

	c, w := newTestContext(http.MethodPatch, "/applications/app-1/phases/esihaku/status", []byte(`{"status":"finished"}`), userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "phase", Value: "esihaku"})
	h.TransitionPhase(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
	assert.Equal(t, "status", env.Error.Field)
}

func TestApplicationHandlerTransitionPhaseInvalidTransition(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{err: appErrors.InvalidTransition("not_started", "approved", "transition not allowed")})

	c, w := newTestContext(http.MethodPatch, "/applications/app-1/phases/esihaku/status", []byte(`{"status":"approved"}`), adminClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "phase", Value: "esihaku"})
	h.TransitionPhase(c)

	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, env.Error.Code)
	assert.Equal(t, "not_started", env.Error.Details["from"])
	assert.Equal(t, "approved", env.Error.Details["to"])
}

func TestApplicationHandlerUpdatePhaseDecodesSchema(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	body := []byte(`{"schemaVersion":"v1","status":"in_progress","documents":["https://drive.google.com/file/d/1"]}`)
	c, w := newTestContext(http.MethodPut, "/applications/app-1/phases/esihaku", body, userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "phase", Value: "esihaku"})
	h.UpdatePhase(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, schema.VersionLegacy, mock.phaseUpdate.Version)
	require.Len(t, mock.phaseUpdate.Documents, 1)
	assert.Equal(t, "https://drive.google.com/file/d/1", mock.phaseUpdate.Documents[0].URL)
}

func TestApplicationHandlerUpdatePhaseRejectsMalformedBody(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{})

	c, w := newTestContext(http.MethodPut, "/applications/app-1/phases/esihaku", []byte(`{"schemaVersion":`), userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "phase", Value: "esihaku"})
	h.UpdatePhase(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplicationHandlerCreateStage(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	body := []byte(`{"title":"Language certificate","order":2,"isRequired":true,"deadline":"2026-05-01T00:00:00Z"}`)
	c, w := newTestContext(http.MethodPost, "/applications/app-1/phases/nomination/stages", body, userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "phase", Value: "nomination"})
	h.CreateStage(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Language certificate", mock.createInput.Title)
	assert.Equal(t, 2, mock.createInput.Order)
	assert.True(t, mock.createInput.IsRequired)
	require.NotNil(t, mock.createInput.Deadline)
}

func TestApplicationHandlerCreateStageRequiresTitle(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{})

	c, w := newTestContext(http.MethodPost, "/applications/app-1/phases/nomination/stages", []byte(`{"order":1}`), userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "phase", Value: "nomination"})
	h.CreateStage(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "title", decodeEnvelope(t, w).Error.Field)
}

func TestApplicationHandlerTransitionStage(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	c, w := newTestContext(http.MethodPatch, "/applications/app-1/stages/stage-3/status", []byte(`{"status":"completed","expectedUpdatedAt":"2026-03-01T09:00:00Z"}`), userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "stageId", Value: "stage-3"})
	h.TransitionStage(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stage-3", mock.stageInput.StageID)
	assert.Equal(t, models.StageStatusCompleted, mock.stageInput.Status)

	c, w = newTestContext(http.MethodPatch, "/applications/app-1/stages/stage-3/status", []byte(`{"status":"approved"}`), userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "stageId", Value: "stage-3"})
	h.TransitionStage(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplicationHandlerTransitionStageStale(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "stage was modified")})

	c, w := newTestContext(http.MethodPatch, "/applications/app-1/stages/stage-3/status", []byte(`{"status":"in_progress","expectedUpdatedAt":"2026-03-01T09:00:00Z"}`), userClaims,
		gin.Param{Key: "id", Value: "app-1"}, gin.Param{Key: "stageId", Value: "stage-3"})
	h.TransitionStage(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApplicationHandlerAttachDocument(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	body := []byte(`{"name":"Transcript","url":"https://1drv.ms/b/s!abc","phase":"esihaku","stageId":"stage-1","isRequired":true}`)
	c, w := newTestContext(http.MethodPost, "/applications/app-1/documents", body, userClaims, gin.Param{Key: "id", Value: "app-1"})
	h.AttachDocument(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.PhaseEsihaku, mock.attachInput.Phase)
	require.NotNil(t, mock.attachInput.StageID)
	assert.Equal(t, "stage-1", *mock.attachInput.StageID)

	var doc models.DocumentRef
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &doc))
	assert.Equal(t, "doc-1", doc.ID)
}

func TestApplicationHandlerAttachDocumentUnknownPhase(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{})

	body := []byte(`{"name":"Transcript","url":"https://1drv.ms/b/s!abc","phase":"orientation"}`)
	c, w := newTestContext(http.MethodPost, "/applications/app-1/documents", body, userClaims, gin.Param{Key: "id", Value: "app-1"})
	h.AttachDocument(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "phase", decodeEnvelope(t, w).Error.Field)
}

func TestApplicationHandlerReplaceAndDeleteDocument(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)
	params := []gin.Param{{Key: "id", Value: "app-1"}, {Key: "documentId", Value: "doc-1"}}

	c, w := newTestContext(http.MethodPut, "/applications/app-1/documents/doc-1", []byte(`{"url":"https://www.dropbox.com/s/x"}`), userClaims, params...)
	h.ReplaceDocumentURL(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://www.dropbox.com/s/x", mock.replacedURL)

	c, w = newTestContext(http.MethodDelete, "/applications/app-1/documents/doc-1", nil, userClaims, params...)
	h.DeleteDocument(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"doc-1"}, mock.deleted)
}

func TestApplicationHandlerEvents(t *testing.T) {
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	c, w := newTestContext(http.MethodGet, "/applications/app-1/events?limit=5", nil, userClaims, gin.Param{Key: "id", Value: "app-1"})
	h.Events(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, mock.eventLimit)

	c, w = newTestContext(http.MethodGet, "/applications/app-1/events", nil, userClaims, gin.Param{Key: "id", Value: "app-1"})
	h.Events(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultEventLimit, mock.eventLimit)

	c, w = newTestContext(http.MethodGet, "/applications/app-1/events?limit=abc", nil, userClaims, gin.Param{Key: "id", Value: "app-1"})
	h.Events(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "limit", decodeEnvelope(t, w).Error.Field)
}

func TestApplicationHandlerProgressAndErrors(t *testing.T) {
	h := NewApplicationHandler(&applicationServiceMock{})
	c, w := newTestContext(http.MethodGet, "/applications/app-1/progress", nil, userClaims, gin.Param{Key: "id", Value: "app-1"})
	h.Progress(c)
	require.Equal(t, http.StatusOK, w.Code)

	h = NewApplicationHandler(&applicationServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "application belongs to another user")})
	c, w = newTestContext(http.MethodGet, "/applications/app-1", nil, userClaims, gin.Param{Key: "id", Value: "app-1"})
	h.Get(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	h = NewApplicationHandler(&applicationServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "application not found")})
	c, w = newTestContext(http.MethodDelete, "/applications/app-9", nil, adminClaims, gin.Param{Key: "id", Value: "app-9"})
	h.Delete(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
