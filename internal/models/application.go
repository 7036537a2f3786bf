package models

import "time"

// Phase identifies one of the fixed top-level application phases.
type Phase string

const (
	PhaseEsihaku        Phase = "esihaku"
	PhaseNomination     Phase = "nomination"
	PhaseApurahat       Phase = "apurahat"
	PhaseVaihdonJalkeen Phase = "vaihdon_jalkeen"
)

// PhaseStatus captures the lifecycle of a phase record.
type PhaseStatus string

const (
	PhaseStatusNotStarted    PhaseStatus = "not_started"
	PhaseStatusInProgress    PhaseStatus = "in_progress"
	PhaseStatusCompleted     PhaseStatus = "completed"
	PhaseStatusPendingReview PhaseStatus = "pending_review"
	PhaseStatusApproved      PhaseStatus = "approved"
	PhaseStatusRejected      PhaseStatus = "rejected"
)

// IsTerminal reports whether the status counts as done for progress purposes.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseStatusCompleted || s == PhaseStatusApproved
}

// IsReviewState reports whether reviewedAt may be set in this status.
func (s PhaseStatus) IsReviewState() bool {
	return s == PhaseStatusPendingReview || s == PhaseStatusApproved || s == PhaseStatusRejected
}

// StageStatus is the restricted status set of stages.
type StageStatus string

const (
	StageStatusNotStarted    StageStatus = "not_started"
	StageStatusInProgress    StageStatus = "in_progress"
	StageStatusPendingReview StageStatus = "pending_review"
	StageStatusCompleted     StageStatus = "completed"
)

// Valid reports whether s is a known stage status.
func (s StageStatus) Valid() bool {
	switch s {
	case StageStatusNotStarted, StageStatusInProgress, StageStatusPendingReview, StageStatusCompleted:
		return true
	}
	return false
}

// Application is the root aggregate of one student's exchange process.
type Application struct {
	ID        string        `db:"id" json:"id"`
	UserID    string        `db:"user_id" json:"userId"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"updatedAt"`
	Phases    []PhaseRecord `db:"-" json:"phases"`
}

// Phase returns the record of phase p.
func (a *Application) Phase(p Phase) (*PhaseRecord, bool) {
	for i := range a.Phases {
		if a.Phases[i].Phase == p {
			return &a.Phases[i], true
		}
	}
	return nil, false
}

// PhaseRecord tracks one phase of an application.
type PhaseRecord struct {
	ApplicationID string        `db:"application_id" json:"applicationId"`
	Phase         Phase         `db:"phase" json:"phase"`
	Status        PhaseStatus   `db:"status" json:"status"`
	Deadline      *time.Time    `db:"deadline" json:"deadline,omitempty"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	ReviewedAt    *time.Time    `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewNotes   *string       `db:"review_notes" json:"reviewNotes,omitempty"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
	Documents     []DocumentRef `db:"-" json:"documents"`
	Stages        []Stage       `db:"-" json:"stages"`
}

// Stage is an ordered unit of work inside a phase.
type Stage struct {
	ID            string        `db:"id" json:"id"`
	ApplicationID string        `db:"application_id" json:"applicationId"`
	Phase         Phase         `db:"phase" json:"phase"`
	Title         string        `db:"title" json:"title"`
	Order         int           `db:"sort_order" json:"order"`
	Status        StageStatus   `db:"status" json:"status"`
	IsRequired    bool          `db:"is_required" json:"isRequired"`
	Deadline      *time.Time    `db:"deadline" json:"deadline,omitempty"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
	Documents     []DocumentRef `db:"-" json:"documents"`
}

// PhaseDetails carries the non-status fields of a phase update.
type PhaseDetails struct {
	Deadline  *time.Time
	Documents []DocumentDraft
}
