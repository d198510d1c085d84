package service

import (
	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

// transitions encodes the forward path pending -> confirmed ->
// orientation_complete -> documents_complete -> active, with withdrawn
// reachable from every non-terminal state. Anything not listed here is an
// invalid edge and gets rejected rather than coerced.
var transitions = map[models.EnrollmentStatus]map[models.EnrollmentEvent]models.EnrollmentStatus{
	models.EnrollmentStatusPending: {
		models.EventPathwayConfirmed: models.EnrollmentStatusConfirmed,
		models.EventWithdrawn:        models.EnrollmentStatusWithdrawn,
	},
	models.EnrollmentStatusConfirmed: {
		models.EventOrientationComplete: models.EnrollmentStatusOrientationDone,
		models.EventWithdrawn:           models.EnrollmentStatusWithdrawn,
	},
	models.EnrollmentStatusOrientationDone: {
		models.EventDocumentsSubmitted: models.EnrollmentStatusDocumentsComplete,
		models.EventWithdrawn:          models.EnrollmentStatusWithdrawn,
	},
	models.EnrollmentStatusDocumentsComplete: {
		models.EventActivated: models.EnrollmentStatusActive,
		models.EventWithdrawn: models.EnrollmentStatusWithdrawn,
	},
	models.EnrollmentStatusActive: {
		models.EventWithdrawn: models.EnrollmentStatusWithdrawn,
	},
}

var statusRank = map[models.EnrollmentStatus]int{
	models.EnrollmentStatusPending:           0,
	models.EnrollmentStatusConfirmed:         1,
	models.EnrollmentStatusOrientationDone:   2,
	models.EnrollmentStatusDocumentsComplete: 3,
	models.EnrollmentStatusActive:            4,
}

// nextStatus computes the state an event moves the enrollment into. An
// event that matches no valid edge from the current state yields
// ErrInvalidTransition; callers must not retry it blindly.
func nextStatus(current models.EnrollmentStatus, event models.EnrollmentEvent) (models.EnrollmentStatus, error) {
	edges, ok := transitions[current]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is withdrawn")
	}
	next, ok := edges[event]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, invalidTransitionMessage(current, event))
	}
	return next, nil
}

// eventSatisfied reports whether the enrollment record already reflects the
// event, making a re-delivery a no-op rather than an error. The check reads
// the stored record (status and audit timestamps), never the event payload,
// so a retried client request cannot assert ordering the store disagrees
// with.
func eventSatisfied(enrollment *models.Enrollment, event models.EnrollmentEvent) bool {
	switch event {
	case models.EventPathwayConfirmed:
		rank, ok := statusRank[enrollment.Status]
		return ok && rank >= statusRank[models.EnrollmentStatusConfirmed]
	case models.EventOrientationComplete:
		return enrollment.OrientationCompletedAt != nil
	case models.EventDocumentsSubmitted:
		return enrollment.DocumentsSubmittedAt != nil
	case models.EventActivated:
		return enrollment.Status == models.EnrollmentStatusActive
	case models.EventWithdrawn:
		return enrollment.Status == models.EnrollmentStatusWithdrawn
	}
	return false
}

func invalidTransitionMessage(current models.EnrollmentStatus, event models.EnrollmentEvent) string {
	switch event {
	case models.EventOrientationComplete:
		if current == models.EnrollmentStatusPending {
			return "confirm the enrollment before completing orientation"
		}
	case models.EventDocumentsSubmitted:
		switch current {
		case models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed:
			return "complete orientation first"
		}
	case models.EventActivated:
		return "submit required documents first"
	}
	return "event not valid for current enrollment status"
}
