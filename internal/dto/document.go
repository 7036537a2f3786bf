package dto

import "github.com/karripar/va-hybrid-api/internal/models"

// ClassifyRequest asks which hosting platform a link belongs to.
type ClassifyRequest struct {
	URL string `json:"url" binding:"required,max=2048"`
}

// ClassifyResponse carries the detected platform.
type ClassifyResponse struct {
	URL        string            `json:"url"`
	SourceType models.SourceType `json:"sourceType"`
}

// ValidateLinkRequest asks for an asynchronous accessibility probe of a link or
// of an attached document.
type ValidateLinkRequest struct {
	URL        string  `json:"url" binding:"omitempty,max=2048"`
	DocumentID *string `json:"documentId"`
}
