package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/karripar/va-hybrid-api/internal/middleware"
	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/schema"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
	"github.com/karripar/va-hybrid-api/pkg/response"
)

type budgetService interface {
	Upsert(ctx context.Context, actor models.Actor, in models.BudgetUpsert) (*models.Budget, error)
	Get(ctx context.Context, actor models.Actor, userID, destination string) (*models.Budget, error)
	ListByUser(ctx context.Context, actor models.Actor, userID string) ([]models.Budget, error)
	History(ctx context.Context, actor models.Actor, userID string, limit int) ([]models.BudgetHistoryItem, error)
}

// BudgetHandler exposes the budget engine.
type BudgetHandler struct {
	service budgetService
}

// NewBudgetHandler builds a new handler.
func NewBudgetHandler(service budgetService) *BudgetHandler {
	return &BudgetHandler{service: service}
}

// Upsert godoc
// @Summary Create or replace the budget for a destination
// @Description Accepts the flat v1 estimate and the category keyed v2 shape. Totals are derived.
// @Tags Budgets
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /budgets/{userId} [put]
func (h *BudgetHandler) Upsert(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read budget payload"))
		return
	}
	input, err := schema.DecodeBudget(raw)
	if err != nil {
		response.Error(c, err)
		return
	}
	budget, err := h.service.Upsert(c.Request.Context(), actorFromContext(c), models.BudgetUpsert{
		UserID:            c.Param("userId"),
		Destination:       input.Destination,
		ExchangeProgramID: input.ExchangeProgramID,
		Categories:        input.Categories,
		ExpectedUpdatedAt: input.ExpectedUpdatedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, budget, nil)
}

// Get godoc
// @Summary Get the budget for a destination, or every budget when destination is omitted
// @Tags Budgets
// @Produce json
// @Param userId path string true "User ID"
// @Param destination query string false "Destination"
// @Success 200 {object} response.Envelope
// @Router /budgets/{userId} [get]
func (h *BudgetHandler) Get(c *gin.Context) {
	actor := actorFromContext(c)
	destination, scoped := c.GetQuery("destination")
	if !scoped {
		budgets, err := h.service.ListByUser(c.Request.Context(), actor, c.Param("userId"))
		if err != nil {
			response.Error(c, err)
			return
		}
		middleware.SetMeta(c, "count", len(budgets))
		response.JSON(c, http.StatusOK, budgets, middleware.ExtractMeta(c))
		return
	}
	budget, err := h.service.Get(c.Request.Context(), actor, c.Param("userId"), destination)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, budget, nil)
}

// History godoc
// @Summary Budget change history, most recent first
// @Tags Budgets
// @Produce json
// @Param userId path string true "User ID"
// @Param limit query int false "Maximum number of entries"
// @Success 200 {object} response.Envelope
// @Router /budgets/{userId}/history [get]
func (h *BudgetHandler) History(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.service.History(c.Request.Context(), actorFromContext(c), c.Param("userId"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(items))
	response.JSON(c, http.StatusOK, items, middleware.ExtractMeta(c))
}
