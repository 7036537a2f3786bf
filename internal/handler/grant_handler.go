package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/karripar/va-hybrid-api/internal/dto"
	"github.com/karripar/va-hybrid-api/internal/middleware"
	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/pkg/response"
)

type grantService interface {
	Upsert(ctx context.Context, actor models.Actor, in models.GrantUpsert) (*models.GrantRecord, error)
	List(ctx context.Context, actor models.Actor, userID string) ([]models.GrantRecord, error)
	Summary(ctx context.Context, actor models.Actor, userID string) (*models.GrantsSummary, error)
	Comparison(ctx context.Context, actor models.Actor, userID, destination string) (*models.BudgetGrantComparison, error)
}

// GrantHandler exposes grant aggregation endpoints.
type GrantHandler struct {
	service grantService
}

// NewGrantHandler builds a new handler.
func NewGrantHandler(service grantService) *GrantHandler {
	return &GrantHandler{service: service}
}

// Upsert godoc
// @Summary Create or update a grant
// @Tags Grants
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param payload body dto.GrantUpsertRequest true "Grant payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grants/{userId} [put]
func (h *GrantHandler) Upsert(c *gin.Context) {
	var req dto.GrantUpsertRequest
	if err := bindJSON(c, &req, "invalid grant payload"); err != nil {
		response.Error(c, err)
		return
	}
	grant, err := h.service.Upsert(c.Request.Context(), actorFromContext(c), models.GrantUpsert{
		UserID:            c.Param("userId"),
		Source:            models.GrantSource(req.Source),
		Kind:              req.Kind,
		Name:              req.Name,
		Status:            models.GrantStatus(req.Status),
		EstimatedAmount:   req.EstimatedAmount,
		ApprovedAmount:    req.ApprovedAmount,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grant, nil)
}

// List godoc
// @Summary List the grants of a user
// @Tags Grants
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /grants/{userId} [get]
func (h *GrantHandler) List(c *gin.Context) {
	grants, err := h.service.List(c.Request.Context(), actorFromContext(c), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(grants))
	response.JSON(c, http.StatusOK, grants, middleware.ExtractMeta(c))
}

// Summary godoc
// @Summary Total support per grant source
// @Tags Grants
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /grants/{userId}/summary [get]
func (h *GrantHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), actorFromContext(c), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Comparison godoc
// @Summary Compare estimated support against a budget
// @Tags Grants
// @Produce json
// @Param userId path string true "User ID"
// @Param destination query string true "Destination"
// @Success 200 {object} response.Envelope
// @Router /grants/{userId}/comparison [get]
func (h *GrantHandler) Comparison(c *gin.Context) {
	cmp, err := h.service.Comparison(c.Request.Context(), actorFromContext(c), c.Param("userId"), c.Query("destination"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cmp, nil)
}
