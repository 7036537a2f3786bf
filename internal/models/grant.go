package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GrantSource distinguishes generic grants, Erasmus+ grants and Kela support.
type GrantSource string

const (
	GrantSourceGeneric GrantSource = "generic"
	GrantSourceErasmus GrantSource = "erasmus"
	GrantSourceKela    GrantSource = "kela"
)

// GrantStatus captures the approval lifecycle of a grant.
type GrantStatus string

const (
	GrantStatusNotStarted GrantStatus = "not_started"
	GrantStatusInProgress GrantStatus = "in_progress"
	GrantStatusCompleted  GrantStatus = "completed"
	GrantStatusApproved   GrantStatus = "approved"
	GrantStatusRejected   GrantStatus = "rejected"
)

// Valid reports whether s is a known grant status.
func (s GrantStatus) Valid() bool {
	switch s {
	case GrantStatusNotStarted, GrantStatusInProgress, GrantStatusCompleted, GrantStatusApproved, GrantStatusRejected:
		return true
	}
	return false
}

// GrantRecord is one financial support entry.
type GrantRecord struct {
	ID              string              `db:"id" json:"id"`
	UserID          string              `db:"user_id" json:"userId"`
	Source          GrantSource         `db:"source" json:"source"`
	Kind            string              `db:"kind" json:"kind"`
	Name            string              `db:"name" json:"name"`
	Status          GrantStatus         `db:"status" json:"status"`
	EstimatedAmount decimal.NullDecimal `db:"estimated_amount" json:"estimatedAmount"`
	ApprovedAmount  decimal.NullDecimal `db:"approved_amount" json:"approvedAmount"`
	CreatedAt       time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updatedAt"`
}

// Contribution returns what the grant adds to total estimated support.
func (g GrantRecord) Contribution() decimal.Decimal {
	if g.Status == GrantStatusApproved && g.ApprovedAmount.Valid {
		return g.ApprovedAmount.Decimal
	}
	if g.EstimatedAmount.Valid {
		return g.EstimatedAmount.Decimal
	}
	return decimal.Zero
}

// GrantUpsert is the validated input of a grant write.
type GrantUpsert struct {
	UserID            string
	Source            GrantSource
	Kind              string
	Name              string
	Status            GrantStatus
	EstimatedAmount   decimal.NullDecimal
	ApprovedAmount    decimal.NullDecimal
	ExpectedUpdatedAt *time.Time
}

// GrantsSummary totals support per source.
type GrantsSummary struct {
	UserID                string          `json:"userId"`
	GenericTotal          decimal.Decimal `json:"genericTotal"`
	ErasmusTotal          decimal.Decimal `json:"erasmusTotal"`
	KelaTotal             decimal.Decimal `json:"kelaTotal"`
	ApprovedTotal         decimal.Decimal `json:"approvedTotal"`
	TotalEstimatedSupport decimal.Decimal `json:"totalEstimatedSupport"`
	GrantCount            int             `json:"grantCount"`
}

// ComparisonStatus classifies support against the budget.
type ComparisonStatus string

const (
	ComparisonExact        ComparisonStatus = "exact"
	ComparisonSufficient   ComparisonStatus = "sufficient"
	ComparisonInsufficient ComparisonStatus = "insufficient"
)

// BudgetGrantComparison is derived on demand and never persisted.
type BudgetGrantComparison struct {
	BudgetTotal           decimal.Decimal  `json:"budgetTotal"`
	TotalEstimatedSupport decimal.Decimal  `json:"totalEstimatedSupport"`
	Difference            decimal.Decimal  `json:"difference"`
	CoveragePercentage    int64            `json:"coveragePercentage"`
	Status                ComparisonStatus `json:"status"`
}
