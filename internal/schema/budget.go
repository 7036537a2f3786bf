package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karripar/va-hybrid-api/internal/models"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

// BudgetInput is the canonical form of every budget payload.
type BudgetInput struct {
	Version           Version
	Destination       string
	ExchangeProgramID *string
	Categories        models.BudgetCategories
	ExpectedUpdatedAt *time.Time
}

type budgetVariant interface {
	canonical() (BudgetInput, error)
}

// LegacyBudgetEstimate is the v1 flat shape with one field per category.
type LegacyBudgetEstimate struct {
	SchemaVersion     Version          `json:"schemaVersion"`
	Destination       string           `json:"destination"`
	Travel            *decimal.Decimal `json:"travel"`
	Insurance         *decimal.Decimal `json:"insurance"`
	Housing           *decimal.Decimal `json:"housing"`
	DailyLife         *decimal.Decimal `json:"dailyLife"`
	StudySupplies     *decimal.Decimal `json:"studySupplies"`
	Currency          string           `json:"currency"`
	ExpectedUpdatedAt *Timestamp       `json:"expectedUpdatedAt"`
}

// CategoryBudget is the v2 shape keyed by category.
type CategoryBudget struct {
	SchemaVersion     Version                                          `json:"schemaVersion"`
	Destination       string                                           `json:"destination"`
	ExchangeProgramID *string                                          `json:"exchangeProgramId"`
	Categories        map[models.BudgetCategory]models.CategoryExpense `json:"categories"`
	TotalAmount       *decimal.Decimal                                 `json:"totalAmount"`
	ExpectedUpdatedAt *Timestamp                                       `json:"expectedUpdatedAt"`
}

// DecodeBudget selects the wire shape from schemaVersion (v2 when absent).
// Client supplied totals are accepted on the wire and dropped.
func DecodeBudget(raw []byte) (BudgetInput, error) {
	version, err := readVersion(raw, VersionExtended)
	if err != nil {
		return BudgetInput{}, err
	}

	var variant budgetVariant
	switch version {
	case VersionLegacy:
		variant = &LegacyBudgetEstimate{}
	case VersionExtended:
		variant = &CategoryBudget{}
	default:
		return BudgetInput{}, appErrors.Validation("schemaVersion", fmt.Sprintf("unsupported budget schema version %q", version))
	}
	if err := decodeStrict(raw, variant); err != nil {
		return BudgetInput{}, err
	}
	input, err := variant.canonical()
	if err != nil {
		return BudgetInput{}, err
	}
	input.Version = version
	input.Destination = strings.TrimSpace(input.Destination)
	return input, nil
}

func (b *LegacyBudgetEstimate) canonical() (BudgetInput, error) {
	categories := models.BudgetCategories{}
	put := func(category models.BudgetCategory, amount *decimal.Decimal) {
		if amount != nil {
			categories[category] = models.CategoryExpense{Amount: *amount}
		}
	}
	put(models.CategoryTravel, b.Travel)
	put(models.CategoryInsurance, b.Insurance)
	put(models.CategoryHousing, b.Housing)
	put(models.CategoryDailyLife, b.DailyLife)
	put(models.CategoryStudySupplies, b.StudySupplies)

	return BudgetInput{
		Destination:       b.Destination,
		Categories:        categories,
		ExpectedUpdatedAt: b.ExpectedUpdatedAt.ptr(),
	}, nil
}

func (b *CategoryBudget) canonical() (BudgetInput, error) {
	if b.Categories == nil {
		return BudgetInput{}, appErrors.Validation("categories", "categories are required")
	}
	categories := make(models.BudgetCategories, len(b.Categories))
	for name, expense := range b.Categories {
		categories[models.BudgetCategory(strings.TrimSpace(string(name)))] = expense
	}
	return BudgetInput{
		Destination:       b.Destination,
		ExchangeProgramID: b.ExchangeProgramID,
		Categories:        categories,
		ExpectedUpdatedAt: b.ExpectedUpdatedAt.ptr(),
	}, nil
}
