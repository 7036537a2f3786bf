package models

import "time"

// SourceType names the platform hosting a document.
type SourceType string

const (
	SourceGoogleDrive SourceType = "google_drive"
	SourceOneDrive    SourceType = "onedrive"
	SourceDropbox     SourceType = "dropbox"
	SourceICloud      SourceType = "icloud"
	SourceOtherURL    SourceType = "other_url"
)

// AccessPermission is the last observed visibility of a document link.
type AccessPermission string

const (
	AccessPublic     AccessPermission = "public"
	AccessRestricted AccessPermission = "restricted"
	AccessUnknown    AccessPermission = "unknown"
)

// DocumentRef points at an externally hosted file. The URL is the only source of truth.
type DocumentRef struct {
	ID               string           `db:"id" json:"id"`
	ApplicationID    string           `db:"application_id" json:"applicationId"`
	Phase            Phase            `db:"phase" json:"phase"`
	StageID          *string          `db:"stage_id" json:"stageId,omitempty"`
	Name             string           `db:"name" json:"name"`
	SourceType       SourceType       `db:"source_type" json:"sourceType"`
	URL              string           `db:"url" json:"url"`
	AccessPermission AccessPermission `db:"access_permission" json:"accessPermission"`
	IsRequired       bool             `db:"is_required" json:"isRequired"`
	IsAccessible     bool             `db:"is_accessible" json:"isAccessible"`
	LastVerified     *time.Time       `db:"last_verified" json:"lastVerified,omitempty"`
	Version          int              `db:"version" json:"version"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
}

// DocumentDraft is a document attachment before it is classified and stored.
type DocumentDraft struct {
	Name       string
	URL        string
	IsRequired bool
	StageID    *string
}

// ValidationState tracks an asynchronous link validation.
type ValidationState string

const (
	ValidationPending   ValidationState = "pending"
	ValidationCompleted ValidationState = "completed"
	ValidationDiscarded ValidationState = "discarded"
)

// DocumentLinkValidation is the advisory result of probing a document link.
type DocumentLinkValidation struct {
	ID               string           `json:"id"`
	URL              string           `json:"url"`
	DocumentID       *string          `json:"documentId,omitempty"`
	DocumentVersion  *int             `json:"documentVersion,omitempty"`
	SourceType       SourceType       `json:"sourceType"`
	State            ValidationState  `json:"state"`
	IsValid          bool             `json:"isValid"`
	IsAccessible     bool             `json:"isAccessible"`
	AccessPermission AccessPermission `json:"accessPermission"`
	StatusCode       *int             `json:"statusCode,omitempty"`
	ErrorMessage     *string          `json:"errorMessage,omitempty"`
	Attempts         int              `json:"attempts"`
	RequestedAt      time.Time        `json:"requestedAt"`
	CheckedAt        *time.Time       `json:"checkedAt,omitempty"`
}
