package models

import "time"

// ApplicationProgress is the rollup of an application's phases and stages.
type ApplicationProgress struct {
	ApplicationID   string          `json:"applicationId"`
	UserID          string          `json:"userId"`
	OverallProgress int             `json:"overallProgress"`
	CompletedUnits  int             `json:"completedUnits"`
	TotalUnits      int             `json:"totalUnits"`
	CurrentPhase    *Phase          `json:"currentPhase"`
	NextDeadline    *DeadlineRef    `json:"nextDeadline"`
	Phases          []PhaseProgress `json:"phases"`
	ComputedAt      time.Time       `json:"computedAt"`
}

// PhaseProgress summarises one phase inside the rollup.
type PhaseProgress struct {
	Phase          Phase       `json:"phase"`
	Status         PhaseStatus `json:"status"`
	RequiredStages int         `json:"requiredStages"`
	CompletedUnits int         `json:"completedUnits"`
	TotalUnits     int         `json:"totalUnits"`
}

// DeadlineRef names the phase or stage owning the next deadline.
type DeadlineRef struct {
	Phase   Phase     `json:"phase"`
	StageID *string   `json:"stageId,omitempty"`
	Title   string    `json:"title,omitempty"`
	Due     time.Time `json:"due"`
}

// StageStatusChangeEvent is emitted for every accepted phase or stage transition.
// StageID is nil for phase-level transitions.
type StageStatusChangeEvent struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"applicationId"`
	UserID        string    `db:"user_id" json:"userId"`
	Phase         Phase     `db:"phase" json:"phase"`
	StageID       *string   `db:"stage_id" json:"stageId,omitempty"`
	OldStatus     string    `db:"old_status" json:"oldStatus"`
	NewStatus     string    `db:"new_status" json:"newStatus"`
	TriggeredBy   string    `db:"triggered_by" json:"triggeredBy"`
	Timestamp     time.Time `db:"occurred_at" json:"timestamp"`
}
