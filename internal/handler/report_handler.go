package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/service"
	"github.com/karripar/va-hybrid-api/pkg/response"
)

type reportService interface {
	BudgetReport(ctx context.Context, actor models.Actor, userID, destination string, format service.ReportFormat) (*service.ReportFile, error)
}

// ReportHandler exposes downloadable budget reports.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// BudgetReport godoc
// @Summary Download a budget report
// @Tags Budgets
// @Produce text/csv
// @Produce application/pdf
// @Param userId path string true "User ID"
// @Param destination query string true "Destination"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /budgets/{userId}/report [get]
func (h *ReportHandler) BudgetReport(c *gin.Context) {
	file, err := h.reports.BudgetReport(c.Request.Context(), actorFromContext(c), c.Param("userId"), c.Query("destination"), service.ReportFormat(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}
