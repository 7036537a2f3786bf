package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/karripar/va-hybrid-api/internal/dto"
	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/service"
	"github.com/karripar/va-hybrid-api/pkg/response"
)

type documentService interface {
	Classify(raw string) models.SourceType
	RequestValidation(ctx context.Context, actor models.Actor, in service.RequestValidationInput) (*models.DocumentLinkValidation, error)
	GetValidation(ctx context.Context, actor models.Actor, id string) (*models.DocumentLinkValidation, error)
}

// DocumentHandler exposes the document link registry.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler builds a new handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Classify godoc
// @Summary Detect the hosting platform of a link
// @Tags Documents
// @Accept json
// @Produce json
// @Param payload body dto.ClassifyRequest true "Link"
// @Success 200 {object} response.Envelope
// @Router /documents/classify [post]
func (h *DocumentHandler) Classify(c *gin.Context) {
	var req dto.ClassifyRequest
	if err := bindJSON(c, &req, "invalid classify payload"); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ClassifyResponse{URL: req.URL, SourceType: h.service.Classify(req.URL)}, nil)
}

// Validate godoc
// @Summary Request an asynchronous accessibility check of a link
// @Description Returns the pending validation; poll GET /documents/validations/{id} for the outcome.
// @Tags Documents
// @Accept json
// @Produce json
// @Param payload body dto.ValidateLinkRequest true "Link or document"
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /documents/validate [post]
func (h *DocumentHandler) Validate(c *gin.Context) {
	var req dto.ValidateLinkRequest
	if err := bindJSON(c, &req, "invalid validation payload"); err != nil {
		response.Error(c, err)
		return
	}
	validation, err := h.service.RequestValidation(c.Request.Context(), actorFromContext(c), service.RequestValidationInput{
		URL:        req.URL,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, validation)
}

// GetValidation godoc
// @Summary Read a link validation
// @Tags Documents
// @Produce json
// @Param id path string true "Validation ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/validations/{id} [get]
func (h *DocumentHandler) GetValidation(c *gin.Context) {
	validation, err := h.service.GetValidation(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, validation, nil)
}
