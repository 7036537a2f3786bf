// Package schema decodes the versioned wire shapes clients send for phases and
// budgets and maps each of them onto the canonical models.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/karripar/va-hybrid-api/internal/models"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

// Version selects a wire shape.
type Version string

const (
	// VersionLegacy is the original per-phase data with plain URL lists.
	VersionLegacy Version = "v1"
	// VersionExtended carries named documents and the draft/submitted statuses.
	VersionExtended Version = "v2"
	// VersionLinkBased is the current link-registry shape.
	VersionLinkBased Version = "v3"
)

type envelope struct {
	SchemaVersion Version `json:"schemaVersion"`
}

func readVersion(raw []byte, fallback Version) (Version, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", appErrors.Validation("body", "malformed JSON body")
	}
	v := Version(strings.ToLower(strings.TrimSpace(string(env.SchemaVersion))))
	if v == "" {
		return fallback, nil
	}
	return v, nil
}

func decodeStrict(raw []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return appErrors.Validation("body", fmt.Sprintf("payload does not match schema: %v", err))
	}
	return nil
}

// NormalizePhaseStatus maps wire statuses, including the extended draft and
// submitted variants, onto canonical phase statuses.
func NormalizePhaseStatus(raw string) (models.PhaseStatus, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "draft":
		return models.PhaseStatusInProgress, nil
	case "submitted":
		return models.PhaseStatusPendingReview, nil
	case string(models.PhaseStatusNotStarted), string(models.PhaseStatusInProgress),
		string(models.PhaseStatusCompleted), string(models.PhaseStatusPendingReview),
		string(models.PhaseStatusApproved), string(models.PhaseStatusRejected):
		return models.PhaseStatus(s), nil
	default:
		return "", appErrors.Validation("status", fmt.Sprintf("unknown status %q", raw))
	}
}

// Timestamp accepts RFC 3339 timestamps and the legacy date-only form.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t *Timestamp) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
