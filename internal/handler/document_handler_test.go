package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karripar/va-hybrid-api/internal/dto"
	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/service"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

type documentServiceMock struct {
	requested service.RequestValidationInput
	err       error
}

func (m *documentServiceMock) Classify(raw string) models.SourceType {
	return service.ClassifyURL(nil, raw)
}

func (m *documentServiceMock) RequestValidation(_ context.Context, _ models.Actor, in service.RequestValidationInput) (*models.DocumentLinkValidation, error) {
	m.requested = in
	if m.err != nil {
		return nil, m.err
	}
	return &models.DocumentLinkValidation{ID: "val-1", URL: in.URL, State: models.ValidationPending}, nil
}

func (m *documentServiceMock) GetValidation(_ context.Context, _ models.Actor, id string) (*models.DocumentLinkValidation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.DocumentLinkValidation{ID: id, State: models.ValidationCompleted, IsAccessible: true}, nil
}

func TestDocumentHandlerClassify(t *testing.T) {
	h := NewDocumentHandler(&documentServiceMock{})

	c, w := newTestContext(http.MethodPost, "/documents/classify", []byte(`{"url":"https://docs.google.com/document/d/abc"}`), userClaims)
	h.Classify(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.ClassifyResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, models.SourceGoogleDrive, resp.SourceType)
}

func TestDocumentHandlerClassifyRequiresURL(t *testing.T) {
	h := NewDocumentHandler(&documentServiceMock{})

	c, w := newTestContext(http.MethodPost, "/documents/classify", []byte(`{}`), userClaims)
	h.Classify(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "url", decodeEnvelope(t, w).Error.Field)
}

func TestDocumentHandlerValidateAccepted(t *testing.T) {
	mock := &documentServiceMock{}
	h := NewDocumentHandler(mock)

	c, w := newTestContext(http.MethodPost, "/documents/validate", []byte(`{"url":"https://www.dropbox.com/s/abc","documentId":"doc-1"}`), userClaims)
	h.Validate(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, mock.requested.DocumentID)
	assert.Equal(t, "doc-1", *mock.requested.DocumentID)

	var validation models.DocumentLinkValidation
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &validation))
	assert.Equal(t, models.ValidationPending, validation.State)
}

func TestDocumentHandlerValidateQueueUnavailable(t *testing.T) {
	h := NewDocumentHandler(&documentServiceMock{err: appErrors.Clone(appErrors.ErrUnavailable, "validation queue is full")})

	c, w := newTestContext(http.MethodPost, "/documents/validate", []byte(`{"url":"https://www.dropbox.com/s/abc"}`), userClaims)
	h.Validate(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDocumentHandlerGetValidation(t *testing.T) {
	h := NewDocumentHandler(&documentServiceMock{})
	c, w := newTestContext(http.MethodGet, "/documents/validations/val-1", nil, userClaims, gin.Param{Key: "id", Value: "val-1"})
	h.GetValidation(c)
	require.Equal(t, http.StatusOK, w.Code)

	h = NewDocumentHandler(&documentServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "validation not found")})
	c, w = newTestContext(http.MethodGet, "/documents/validations/val-9", nil, userClaims, gin.Param{Key: "id", Value: "val-9"})
	h.GetValidation(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
