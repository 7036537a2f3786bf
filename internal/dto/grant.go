package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// GrantUpsertRequest creates or updates one grant of a user.
type GrantUpsertRequest struct {
	Source            string              `json:"source" binding:"required,grant_source"`
	Kind              string              `json:"kind" binding:"required,max=64"`
	Name              string              `json:"name" binding:"required,max=200"`
	Status            string              `json:"status" binding:"required,grant_status"`
	EstimatedAmount   decimal.NullDecimal `json:"estimatedAmount"`
	ApprovedAmount    decimal.NullDecimal `json:"approvedAmount"`
	ExpectedUpdatedAt *time.Time          `json:"expectedUpdatedAt"`
}
