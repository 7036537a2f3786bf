package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/karripar/va-hybrid-api/internal/models"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

// PhaseUpdate is the canonical form of every phase details payload. Documents is
// nil when the payload leaves the document list untouched.
type PhaseUpdate struct {
	Version           Version
	Status            *models.PhaseStatus
	Deadline          *time.Time
	Documents         []models.DocumentDraft
	ExpectedUpdatedAt *time.Time
}

// phaseVariant is implemented only by the wire shapes below.
type phaseVariant interface {
	canonical() (PhaseUpdate, error)
}

// LegacyPhaseData is the v1 shape: documents are bare URLs.
type LegacyPhaseData struct {
	SchemaVersion     Version    `json:"schemaVersion"`
	Status            string     `json:"status"`
	Deadline          *Timestamp `json:"deadline"`
	Documents         []string   `json:"documents"`
	Notes             string     `json:"notes"`
	ExpectedUpdatedAt *Timestamp `json:"expectedUpdatedAt"`
}

// ApplicationDocument is a named document of the v2 shape.
type ApplicationDocument struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// ExtendedPhaseData is the v2 shape.
type ExtendedPhaseData struct {
	SchemaVersion     Version               `json:"schemaVersion"`
	Status            string                `json:"status"`
	Deadline          *Timestamp            `json:"deadline"`
	Documents         []ApplicationDocument `json:"documents"`
	ExpectedUpdatedAt *Timestamp            `json:"expectedUpdatedAt"`
}

// DocumentLink is a document entry of the v3 shape. SourceType is advisory;
// the registry reclassifies every URL.
type DocumentLink struct {
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	SourceType string  `json:"sourceType"`
	IsRequired bool    `json:"isRequired"`
	StageID    *string `json:"stageId"`
}

// LinkPhaseData is the v3 shape.
type LinkPhaseData struct {
	SchemaVersion     Version        `json:"schemaVersion"`
	Deadline          *Timestamp     `json:"deadline"`
	Documents         []DocumentLink `json:"documents"`
	ExpectedUpdatedAt *Timestamp     `json:"expectedUpdatedAt"`
}

// DecodePhaseUpdate selects the wire shape from schemaVersion (v3 when absent) and
// maps it to a PhaseUpdate.
func DecodePhaseUpdate(raw []byte) (PhaseUpdate, error) {
	version, err := readVersion(raw, VersionLinkBased)
	if err != nil {
		return PhaseUpdate{}, err
	}

	var variant phaseVariant
	switch version {
	case VersionLegacy:
		variant = &LegacyPhaseData{}
	case VersionExtended:
		variant = &ExtendedPhaseData{}
	case VersionLinkBased:
		variant = &LinkPhaseData{}
	default:
		return PhaseUpdate{}, appErrors.Validation("schemaVersion", fmt.Sprintf("unsupported schema version %q", version))
	}
	if err := decodeStrict(raw, variant); err != nil {
		return PhaseUpdate{}, err
	}
	update, err := variant.canonical()
	if err != nil {
		return PhaseUpdate{}, err
	}
	update.Version = version
	return update, nil
}

func optionalStatus(raw string) (*models.PhaseStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	status, err := NormalizePhaseStatus(raw)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (d *LegacyPhaseData) canonical() (PhaseUpdate, error) {
	status, err := optionalStatus(d.Status)
	if err != nil {
		return PhaseUpdate{}, err
	}
	docs := make([]models.DocumentDraft, 0, len(d.Documents))
	for i, url := range d.Documents {
		url = strings.TrimSpace(url)
		if url == "" {
			return PhaseUpdate{}, appErrors.Validation(fmt.Sprintf("documents[%d]", i), "url is required")
		}
		docs = append(docs, models.DocumentDraft{Name: fmt.Sprintf("Document %d", i+1), URL: url})
	}
	if d.Documents == nil {
		docs = nil
	}
	return PhaseUpdate{Status: status, Deadline: d.Deadline.ptr(), Documents: docs, ExpectedUpdatedAt: d.ExpectedUpdatedAt.ptr()}, nil
}

func (d *ExtendedPhaseData) canonical() (PhaseUpdate, error) {
	status, err := optionalStatus(d.Status)
	if err != nil {
		return PhaseUpdate{}, err
	}
	docs := make([]models.DocumentDraft, 0, len(d.Documents))
	for i, doc := range d.Documents {
		if strings.TrimSpace(doc.URL) == "" {
			return PhaseUpdate{}, appErrors.Validation(fmt.Sprintf("documents[%d].url", i), "url is required")
		}
		name := strings.TrimSpace(doc.Name)
		if name == "" {
			name = strings.TrimSpace(doc.Type)
		}
		if name == "" {
			name = fmt.Sprintf("Document %d", i+1)
		}
		docs = append(docs, models.DocumentDraft{Name: name, URL: strings.TrimSpace(doc.URL), IsRequired: doc.Required})
	}
	if d.Documents == nil {
		docs = nil
	}
	return PhaseUpdate{Status: status, Deadline: d.Deadline.ptr(), Documents: docs, ExpectedUpdatedAt: d.ExpectedUpdatedAt.ptr()}, nil
}

func (d *LinkPhaseData) canonical() (PhaseUpdate, error) {
	docs := make([]models.DocumentDraft, 0, len(d.Documents))
	for i, doc := range d.Documents {
		if strings.TrimSpace(doc.URL) == "" {
			return PhaseUpdate{}, appErrors.Validation(fmt.Sprintf("documents[%d].url", i), "url is required")
		}
		if strings.TrimSpace(doc.Name) == "" {
			return PhaseUpdate{}, appErrors.Validation(fmt.Sprintf("documents[%d].name", i), "name is required")
		}
		docs = append(docs, models.DocumentDraft{
			Name:       strings.TrimSpace(doc.Name),
			URL:        strings.TrimSpace(doc.URL),
			IsRequired: doc.IsRequired,
			StageID:    doc.StageID,
		})
	}
	if d.Documents == nil {
		docs = nil
	}
	return PhaseUpdate{Deadline: d.Deadline.ptr(), Documents: docs, ExpectedUpdatedAt: d.ExpectedUpdatedAt.ptr()}, nil
}
