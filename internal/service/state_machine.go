package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
)

var phaseGraph = map[models.PhaseStatus][]models.PhaseStatus{
	models.PhaseStatusNotStarted:    {models.PhaseStatusInProgress},
	models.PhaseStatusInProgress:    {models.PhaseStatusPendingReview, models.PhaseStatusCompleted},
	models.PhaseStatusPendingReview: {models.PhaseStatusApproved, models.PhaseStatusRejected, models.PhaseStatusInProgress},
	models.PhaseStatusRejected:      {models.PhaseStatusInProgress},
}

// admin-only edges out of the terminal statuses
var phaseReopenGraph = map[models.PhaseStatus][]models.PhaseStatus{
	models.PhaseStatusApproved:  {models.PhaseStatusInProgress},
	models.PhaseStatusCompleted: {models.PhaseStatusInProgress},
}

var stageGraph = map[models.StageStatus][]models.StageStatus{
	models.StageStatusNotStarted:    {models.StageStatusInProgress},
	models.StageStatusInProgress:    {models.StageStatusPendingReview, models.StageStatusCompleted},
	models.StageStatusPendingReview: {models.StageStatusCompleted},
}

// PhaseTransitionInput is everything the state machine needs to judge a phase change.
type PhaseTransitionInput struct {
	Phase     models.Phase
	Current   models.PhaseStatus
	Requested models.PhaseStatus
	// Predecessor is the status of the phase before Phase, nil for the first phase.
	Predecessor *models.PhaseStatus
	Actor       models.Actor
}

// StageTransitionInput is everything the state machine needs to judge a stage change.
type StageTransitionInput struct {
	Current   models.StageStatus
	Requested models.StageStatus
	// BlockingDocuments lists required documents of the stage that are not accessible.
	BlockingDocuments []string
	Actor             models.Actor
}

// StateMachine enforces the legal phase and stage status graphs. It holds no state.
type StateMachine struct {
	catalog *catalog.Catalog
}

// NewStateMachine constructs the state machine over the phase order of cat.
func NewStateMachine(cat *catalog.Catalog) *StateMachine {
	if cat == nil {
		cat = catalog.Default()
	}
	return &StateMachine{catalog: cat}
}

// TransitionPhase returns the new status or an InvalidTransition carrying both states.
func (m *StateMachine) TransitionPhase(in PhaseTransitionInput) (models.PhaseStatus, error) {
	if in.Actor.Role == models.RoleGuest || !in.Actor.Role.Valid() {
		return "", appErrors.Clone(appErrors.ErrForbidden, "guests cannot change application status")
	}
	if !m.catalog.IsPhase(string(in.Phase)) {
		return "", appErrors.Validation("phase", fmt.Sprintf("unknown phase %q", in.Phase))
	}
	from, to := in.Current, in.Requested

	allowed := contains(phaseGraph[from], to)
	if !allowed && contains(phaseReopenGraph[from], to) {
		if !in.Actor.IsAdmin() {
			return "", appErrors.InvalidTransition(string(from), string(to),
				fmt.Sprintf("only an admin can reopen a %s phase", from))
		}
		allowed = true
	}
	if !allowed {
		return "", appErrors.InvalidTransition(string(from), string(to), "")
	}

	if to == models.PhaseStatusInProgress && in.Predecessor != nil && *in.Predecessor == models.PhaseStatusNotStarted {
		prev, _ := m.catalog.Predecessor(string(in.Phase))
		err := appErrors.InvalidTransition(string(from), string(to),
			fmt.Sprintf("phase %s cannot start before %s has started", in.Phase, prev))
		return "", appErrors.WithDetail(err, "predecessor", prev)
	}
	return to, nil
}

// TransitionStage returns the new stage status or an InvalidTransition.
func (m *StateMachine) TransitionStage(in StageTransitionInput) (models.StageStatus, error) {
	if in.Actor.Role == models.RoleGuest || !in.Actor.Role.Valid() {
		return "", appErrors.Clone(appErrors.ErrForbidden, "guests cannot change stage status")
	}
	from, to := in.Current, in.Requested
	if !contains(stageGraph[from], to) {
		return "", appErrors.InvalidTransition(string(from), string(to), "")
	}
	if to == models.StageStatusCompleted && len(in.BlockingDocuments) > 0 {
		err := appErrors.InvalidTransition(string(from), string(to),
			fmt.Sprintf("required documents are not accessible: %s", strings.Join(in.BlockingDocuments, ", ")))
		return "", appErrors.WithDetail(err, "blockingDocuments", append([]string(nil), in.BlockingDocuments...))
	}
	return to, nil
}

// PhaseStamps are the timestamp columns implied by a phase entering a status.
type PhaseStamps struct {
	CompletedAt *time.Time
	ReviewedAt  *time.Time
}

// StampPhase computes completedAt/reviewedAt for record entering status at now.
// completedAt is set iff the status is completed or approved; reviewedAt is stamped on a
// review decision, kept while pending review and cleared outside the review states.
func StampPhase(record models.PhaseRecord, status models.PhaseStatus, now time.Time) PhaseStamps {
	var stamps PhaseStamps
	if status.IsTerminal() {
		if record.CompletedAt != nil && record.Status.IsTerminal() {
			stamps.CompletedAt = record.CompletedAt
		} else {
			stamps.CompletedAt = &now
		}
	}
	switch status {
	case models.PhaseStatusApproved, models.PhaseStatusRejected:
		stamps.ReviewedAt = &now
	case models.PhaseStatusPendingReview:
		stamps.ReviewedAt = record.ReviewedAt
	}
	return stamps
}

func contains[T comparable](values []T, target T) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
