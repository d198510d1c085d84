package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

func TestNextStatusForwardPath(t *testing.T) {
	steps := []struct {
		from  models.EnrollmentStatus
		event models.EnrollmentEvent
		to    models.EnrollmentStatus
	}{
		{models.EnrollmentStatusPending, models.EventPathwayConfirmed, models.EnrollmentStatusConfirmed},
		{models.EnrollmentStatusConfirmed, models.EventOrientationComplete, models.EnrollmentStatusOrientationDone},
		{models.EnrollmentStatusOrientationDone, models.EventDocumentsSubmitted, models.EnrollmentStatusDocumentsComplete},
		{models.EnrollmentStatusDocumentsComplete, models.EventActivated, models.EnrollmentStatusActive},
	}

	for _, step := range steps {
		next, err := nextStatus(step.from, step.event)
		require.NoError(t, err)
		assert.Equal(t, step.to, next)
	}
}

func TestNextStatusWithdrawFromAnyNonTerminal(t *testing.T) {
	for _, from := range []models.EnrollmentStatus{
		models.EnrollmentStatusPending,
		models.EnrollmentStatusConfirmed,
		models.EnrollmentStatusOrientationDone,
		models.EnrollmentStatusDocumentsComplete,
		models.EnrollmentStatusActive,
	} {
		next, err := nextStatus(from, models.EventWithdrawn)
		require.NoError(t, err)
		assert.Equal(t, models.EnrollmentStatusWithdrawn, next)
	}
}

func TestNextStatusRejectsOutOfOrderEvents(t *testing.T) {
	cases := []struct {
		from  models.EnrollmentStatus
		event models.EnrollmentEvent
	}{
		{models.EnrollmentStatusPending, models.EventOrientationComplete},
		{models.EnrollmentStatusPending, models.EventDocumentsSubmitted},
		{models.EnrollmentStatusPending, models.EventActivated},
		{models.EnrollmentStatusConfirmed, models.EventDocumentsSubmitted},
		{models.EnrollmentStatusConfirmed, models.EventActivated},
		{models.EnrollmentStatusOrientationDone, models.EventActivated},
		{models.EnrollmentStatusActive, models.EventPathwayConfirmed},
	}

	for _, tc := range cases {
		_, err := nextStatus(tc.from, tc.event)
		require.Error(t, err, "expected %s at %s to be rejected", tc.event, tc.from)
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	}
}

func TestNextStatusWithdrawnIsTerminal(t *testing.T) {
	for _, event := range []models.EnrollmentEvent{
		models.EventPathwayConfirmed,
		models.EventOrientationComplete,
		models.EventDocumentsSubmitted,
		models.EventActivated,
		models.EventWithdrawn,
	} {
		_, err := nextStatus(models.EnrollmentStatusWithdrawn, event)
		require.Error(t, err)
	}
}

func TestEventSatisfiedReflectsRecordEvidence(t *testing.T) {
	now := time.Now().UTC()

	orientationDone := &models.Enrollment{
		Status:                 models.EnrollmentStatusOrientationDone,
		OrientationCompletedAt: &now,
	}
	assert.True(t, eventSatisfied(orientationDone, models.EventOrientationComplete))
	assert.True(t, eventSatisfied(orientationDone, models.EventPathwayConfirmed))
	assert.False(t, eventSatisfied(orientationDone, models.EventDocumentsSubmitted))
	assert.False(t, eventSatisfied(orientationDone, models.EventActivated))

	pending := &models.Enrollment{Status: models.EnrollmentStatusPending}
	assert.False(t, eventSatisfied(pending, models.EventPathwayConfirmed))
	assert.False(t, eventSatisfied(pending, models.EventOrientationComplete))

	withdrawn := &models.Enrollment{Status: models.EnrollmentStatusWithdrawn, WithdrawnAt: &now}
	assert.True(t, eventSatisfied(withdrawn, models.EventWithdrawn))
	assert.False(t, eventSatisfied(withdrawn, models.EventPathwayConfirmed))

	active := &models.Enrollment{Status: models.EnrollmentStatusActive}
	assert.True(t, eventSatisfied(active, models.EventActivated))
	assert.True(t, eventSatisfied(active, models.EventPathwayConfirmed))
}
