package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/karripar/va-hybrid-api/internal/dto"
	"github.com/karripar/va-hybrid-api/internal/middleware"
	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/schema"
	"github.com/karripar/va-hybrid-api/internal/service"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
	"github.com/karripar/va-hybrid-api/pkg/response"
)

const defaultEventLimit = 50

type applicationService interface {
	Enroll(ctx context.Context, actor models.Actor, userID string) (*models.Application, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Application, error)
	GetByUser(ctx context.Context, actor models.Actor, userID string) (*models.Application, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	TransitionPhase(ctx context.Context, actor models.Actor, in service.TransitionPhaseInput) (*models.PhaseRecord, error)
	UpdatePhaseDetails(ctx context.Context, actor models.Actor, applicationID string, phase models.Phase, update schema.PhaseUpdate) (*models.PhaseRecord, error)
	CreateStage(ctx context.Context, actor models.Actor, applicationID string, phase models.Phase, in service.CreateStageInput) (*models.Stage, error)
	TransitionStage(ctx context.Context, actor models.Actor, in service.TransitionStageInput) (*models.Stage, error)
	AttachDocument(ctx context.Context, actor models.Actor, applicationID string, in service.AttachDocumentInput) (*models.DocumentRef, error)
	ReplaceDocumentURL(ctx context.Context, actor models.Actor, applicationID, documentID, rawURL string) (*models.DocumentRef, error)
	DeleteDocument(ctx context.Context, actor models.Actor, applicationID, documentID string) error
	ListEvents(ctx context.Context, actor models.Actor, applicationID string, limit int) ([]models.StageStatusChangeEvent, error)
	Progress(ctx context.Context, actor models.Actor, applicationID string) (*models.ApplicationProgress, error)
}

// ApplicationHandler exposes the exchange application endpoints.
type ApplicationHandler struct {
	service applicationService
}

// NewApplicationHandler builds a new handler.
func NewApplicationHandler(service applicationService) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// Enroll godoc
// @Summary Enroll in the exchange programme
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest false "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req, "invalid enrollment payload"); err != nil {
			response.Error(c, err)
			return
		}
	}
	actor := actorFromContext(c)
	userID := req.UserID
	if userID == "" {
		userID = actor.UserID
	}
	app, err := h.service.Enroll(c.Request.Context(), actor, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}

// Get godoc
// @Summary Get an application with its phases and stages
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, middleware.ExtractMeta(c))
}

// GetByUser godoc
// @Summary Get the application of a user
// @Tags Applications
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{userId}/application [get]
func (h *ApplicationHandler) GetByUser(c *gin.Context) {
	app, err := h.service.GetByUser(c.Request.Context(), actorFromContext(c), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, middleware.ExtractMeta(c))
}

// Delete godoc
// @Summary Delete an application
// @Tags Applications
// @Param id path string true "Application ID"
// @Success 204
// @Router /applications/{id} [delete]
func (h *ApplicationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// TransitionPhase godoc
// @Summary Change the status of a phase
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param phase path string true "Phase"
// @Param payload body dto.PhaseStatusRequest true "Status change"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/phases/{phase}/status [patch]
func (h *ApplicationHandler) TransitionPhase(c *gin.Context) {
	var req dto.PhaseStatusRequest
	if err := bindJSON(c, &req, "invalid phase status payload"); err != nil {
		response.Error(c, err)
		return
	}
	status, err := schema.NormalizePhaseStatus(req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.service.TransitionPhase(c.Request.Context(), actorFromContext(c), service.TransitionPhaseInput{
		ApplicationID:     c.Param("id"),
		Phase:             models.Phase(c.Param("phase")),
		Status:            status,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
		ReviewNotes:       req.ReviewNotes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// UpdatePhase godoc
// @Summary Replace the details of a phase
// @Description Accepts every supported schemaVersion (v1, v2, v3). A legacy status that differs from the current one is rejected.
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param phase path string true "Phase"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /applications/{id}/phases/{phase} [put]
func (h *ApplicationHandler) UpdatePhase(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read phase payload"))
		return
	}
	update, err := schema.DecodePhaseUpdate(raw)
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.service.UpdatePhaseDetails(c.Request.Context(), actorFromContext(c), c.Param("id"), models.Phase(c.Param("phase")), update)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// CreateStage godoc
// @Summary Add a stage to a phase
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param phase path string true "Phase"
// @Param payload body dto.CreateStageRequest true "Stage payload"
// @Success 201 {object} response.Envelope
// @Router /applications/{id}/phases/{phase}/stages [post]
func (h *ApplicationHandler) CreateStage(c *gin.Context) {
	var req dto.CreateStageRequest
	if err := bindJSON(c, &req, "invalid stage payload"); err != nil {
		response.Error(c, err)
		return
	}
	stage, err := h.service.CreateStage(c.Request.Context(), actorFromContext(c), c.Param("id"), models.Phase(c.Param("phase")), service.CreateStageInput{
		Title:      req.Title,
		Order:      req.Order,
		IsRequired: req.IsRequired,
		Deadline:   req.Deadline,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, stage)
}

// TransitionStage godoc
// @Summary Change the status of a stage
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param stageId path string true "Stage ID"
// @Param payload body dto.StageStatusRequest true "Status change"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/stages/{stageId}/status [patch]
func (h *ApplicationHandler) TransitionStage(c *gin.Context) {
	var req dto.StageStatusRequest
	if err := bindJSON(c, &req, "invalid stage status payload"); err != nil {
		response.Error(c, err)
		return
	}
	stage, err := h.service.TransitionStage(c.Request.Context(), actorFromContext(c), service.TransitionStageInput{
		ApplicationID:     c.Param("id"),
		StageID:           c.Param("stageId"),
		Status:            models.StageStatus(req.Status),
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stage, nil)
}

// AttachDocument godoc
// @Summary Attach a document link to an application
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.AttachDocumentRequest true "Document payload"
// @Success 201 {object} response.Envelope
// @Router /applications/{id}/documents [post]
func (h *ApplicationHandler) AttachDocument(c *gin.Context) {
	var req dto.AttachDocumentRequest
	if err := bindJSON(c, &req, "invalid document payload"); err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.service.AttachDocument(c.Request.Context(), actorFromContext(c), c.Param("id"), service.AttachDocumentInput{
		Phase:      models.Phase(req.Phase),
		StageID:    req.StageID,
		Name:       req.Name,
		URL:        req.URL,
		IsRequired: req.IsRequired,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// ReplaceDocumentURL godoc
// @Summary Point an attached document at a new link
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param documentId path string true "Document ID"
// @Param payload body dto.ReplaceDocumentURLRequest true "New link"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/documents/{documentId} [put]
func (h *ApplicationHandler) ReplaceDocumentURL(c *gin.Context) {
	var req dto.ReplaceDocumentURLRequest
	if err := bindJSON(c, &req, "invalid document payload"); err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.service.ReplaceDocumentURL(c.Request.Context(), actorFromContext(c), c.Param("id"), c.Param("documentId"), req.URL)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// DeleteDocument godoc
// @Summary Remove an attached document
// @Tags Documents
// @Param id path string true "Application ID"
// @Param documentId path string true "Document ID"
// @Success 204
// @Router /applications/{id}/documents/{documentId} [delete]
func (h *ApplicationHandler) DeleteDocument(c *gin.Context) {
	if err := h.service.DeleteDocument(c.Request.Context(), actorFromContext(c), c.Param("id"), c.Param("documentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Events godoc
// @Summary List stage status change events, newest first
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Param limit query int false "Maximum number of events"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/events [get]
func (h *ApplicationHandler) Events(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultEventLimit)
	if err != nil {
		response.Error(c, err)
		return
	}
	events, err := h.service.ListEvents(c.Request.Context(), actorFromContext(c), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(events))
	response.JSON(c, http.StatusOK, events, middleware.ExtractMeta(c))
}

// Progress godoc
// @Summary Aggregated completion of an application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/progress [get]
func (h *ApplicationHandler) Progress(c *gin.Context) {
	progress, err := h.service.Progress(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, middleware.ExtractMeta(c))
}
