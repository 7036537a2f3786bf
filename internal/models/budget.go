package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BudgetCategory is one entry of the closed budget category set.
type BudgetCategory string

const (
	CategoryTravel        BudgetCategory = "travel"
	CategoryInsurance     BudgetCategory = "insurance"
	CategoryHousing       BudgetCategory = "housing"
	CategoryDailyLife     BudgetCategory = "daily_life"
	CategoryStudySupplies BudgetCategory = "study_supplies"
)

// CategoryExpense is the estimate for one category.
type CategoryExpense struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes,omitempty"`
}

// BudgetCategories maps every category to its expense. Stored as JSONB.
type BudgetCategories map[BudgetCategory]CategoryExpense

// Total sums all category amounts.
func (c BudgetCategories) Total() decimal.Decimal {
	total := decimal.Zero
	for _, expense := range c {
		total = total.Add(expense.Amount)
	}
	return total
}

// Value implements driver.Valuer.
func (c BudgetCategories) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *BudgetCategories) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = BudgetCategories{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("budget categories: unsupported scan type %T", src)
	}
	out := BudgetCategories{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("budget categories: %w", err)
	}
	*c = out
	return nil
}

// Budget is a user's expense estimate for one destination.
type Budget struct {
	ID                string           `db:"id" json:"id"`
	UserID            string           `db:"user_id" json:"userId"`
	Destination       string           `db:"destination" json:"destination"`
	ExchangeProgramID *string          `db:"exchange_program_id" json:"exchangeProgramId,omitempty"`
	Categories        BudgetCategories `db:"categories" json:"categories"`
	TotalAmount       decimal.Decimal  `db:"total_amount" json:"totalAmount"`
	Currency          string           `db:"currency" json:"currency"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}

// BudgetHistoryItem is an append-only snapshot recorded on every accepted upsert.
type BudgetHistoryItem struct {
	ID          string           `db:"id" json:"id"`
	BudgetID    string           `db:"budget_id" json:"budgetId"`
	UserID      string           `db:"user_id" json:"userId"`
	Destination string           `db:"destination" json:"destination"`
	Categories  BudgetCategories `db:"categories" json:"categories"`
	TotalAmount decimal.Decimal  `db:"total_amount" json:"totalAmount"`
	ChangedAt   time.Time        `db:"changed_at" json:"changedAt"`
}

// BudgetUpsert is the validated input of an upsert.
type BudgetUpsert struct {
	UserID            string
	Destination       string
	ExchangeProgramID *string
	Categories        BudgetCategories
	ExpectedUpdatedAt *time.Time
}
