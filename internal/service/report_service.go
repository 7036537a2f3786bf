package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
	"github.com/karripar/va-hybrid-api/pkg/export"
)

// ReportFormat is the rendering of a budget report.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

const (
	reportColumnItem   = "Item"
	reportColumnType   = "Type"
	reportColumnStatus = "Status"
	reportColumnAmount = "Amount"
	reportColumnNotes  = "Notes"
)

type budgetReader interface {
	Get(ctx context.Context, actor models.Actor, userID, destination string) (*models.Budget, error)
}

type grantReader interface {
	List(ctx context.Context, actor models.Actor, userID string) ([]models.GrantRecord, error)
	Summary(ctx context.Context, actor models.Actor, userID string) (*models.GrantsSummary, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ReportFile is a rendered report ready for download.
type ReportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ReportService renders budget reports combining the budget, its grants and the comparison.
type ReportService struct {
	budgets budgetReader
	grants  grantReader
	catalog *catalog.Catalog
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportService constructs a ReportService. Nil renderers use the default exporters.
func NewReportService(budgets budgetReader, grants grantReader, cat *catalog.Catalog, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ReportService {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ReportService{budgets: budgets, grants: grants, catalog: cat, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// BudgetReport renders the budget of userID for destination in the requested format.
func (s *ReportService) BudgetReport(ctx context.Context, actor models.Actor, userID, destination string, format ReportFormat) (*ReportFile, error) {
	format = ReportFormat(strings.ToLower(strings.TrimSpace(string(format))))
	if format == "" {
		format = ReportFormatCSV
	}
	if format != ReportFormatCSV && format != ReportFormatPDF {
		return nil, appErrors.Validation("format", fmt.Sprintf("unsupported format %q", format))
	}

	budget, err := s.budgets.Get(ctx, actor, userID, destination)
	if err != nil {
		return nil, err
	}
	grants, err := s.grants.List(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	summary, err := s.grants.Summary(ctx, actor, userID)
	if err != nil {
		return nil, err
	}

	dataset := s.buildBudgetDataset(budget, grants, *summary)
	title := "Exchange budget"
	if budget.Destination != "" {
		title = fmt.Sprintf("Exchange budget: %s", budget.Destination)
	}

	var payload []byte
	file := &ReportFile{Filename: s.buildFilename(budget, format)}
	switch format {
	case ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
		file.ContentType = "text/csv"
	case ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		file.ContentType = "application/pdf"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	file.Payload = payload

	s.logger.Info("budget report rendered",
		zap.String("user_id", userID),
		zap.String("destination", budget.Destination),
		zap.String("format", string(format)),
		zap.Int("bytes", len(payload)))
	return file, nil
}

func (s *ReportService) buildBudgetDataset(budget *models.Budget, grants []models.GrantRecord, summary models.GrantsSummary) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{reportColumnItem, reportColumnType, reportColumnStatus, reportColumnAmount, reportColumnNotes},
		Numeric: []string{reportColumnAmount},
	}
	for _, name := range s.catalog.Categories() {
		expense := budget.Categories[models.BudgetCategory(name)]
		dataset.Rows = append(dataset.Rows, map[string]string{
			reportColumnItem:   name,
			reportColumnType:   "expense",
			reportColumnAmount: expense.Amount.StringFixed(2),
			reportColumnNotes:  expense.Notes,
		})
	}
	for _, g := range grants {
		dataset.Rows = append(dataset.Rows, map[string]string{
			reportColumnItem:   g.Name,
			reportColumnType:   fmt.Sprintf("grant:%s/%s", g.Source, g.Kind),
			reportColumnStatus: string(g.Status),
			reportColumnAmount: g.Contribution().StringFixed(2),
		})
	}

	cmp := CompareBudget(budget.TotalAmount, summary.TotalEstimatedSupport)
	dataset.Summary = []export.SummaryLine{
		{Label: "Budget total (" + budget.Currency + ")", Value: budget.TotalAmount.StringFixed(2)},
		{Label: "Generic grants", Value: summary.GenericTotal.StringFixed(2)},
		{Label: "Erasmus+ grants", Value: summary.ErasmusTotal.StringFixed(2)},
		{Label: "Kela support", Value: summary.KelaTotal.StringFixed(2)},
		{Label: "Total estimated support", Value: cmp.TotalEstimatedSupport.StringFixed(2)},
		{Label: "Difference", Value: cmp.Difference.StringFixed(2)},
		{Label: "Coverage", Value: fmt.Sprintf("%d%%", cmp.CoveragePercentage)},
		{Label: "Status", Value: string(cmp.Status)},
	}
	return dataset
}

func (s *ReportService) buildFilename(budget *models.Budget, format ReportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("budget_%s_%s.%s", sanitizeFilename(budget.Destination), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_", "\"", "")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
