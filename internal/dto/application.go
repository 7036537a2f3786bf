package dto

import "time"

// EnrollRequest enrolls a user in the exchange programme. UserID defaults to the caller.
type EnrollRequest struct {
	UserID string `json:"userId" binding:"omitempty,max=128"`
}

// PhaseStatusRequest moves a phase to a new status.
type PhaseStatusRequest struct {
	Status            string     `json:"status" binding:"required,phase_status"`
	ExpectedUpdatedAt *time.Time `json:"expectedUpdatedAt"`
	ReviewNotes       *string    `json:"reviewNotes" binding:"omitempty,max=4000"`
}

// CreateStageRequest adds a stage to a phase.
type CreateStageRequest struct {
	Title      string     `json:"title" binding:"required,max=200"`
	Order      int        `json:"order" binding:"min=0"`
	IsRequired bool       `json:"isRequired"`
	Deadline   *time.Time `json:"deadline"`
}

// StageStatusRequest moves a stage to a new status.
type StageStatusRequest struct {
	Status            string     `json:"status" binding:"required,stage_status"`
	ExpectedUpdatedAt *time.Time `json:"expectedUpdatedAt"`
}

// AttachDocumentRequest links an external document to an application.
type AttachDocumentRequest struct {
	Name       string  `json:"name" binding:"required,max=200"`
	URL        string  `json:"url" binding:"required,max=2048"`
	Phase      string  `json:"phase" binding:"required,phase"`
	StageID    *string `json:"stageId"`
	IsRequired bool    `json:"isRequired"`
}

// ReplaceDocumentURLRequest points an attached document at a new link.
type ReplaceDocumentURLRequest struct {
	URL string `json:"url" binding:"required,max=2048"`
}
