package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

func TestIntakeFindByApplicant(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewIntakeRepository(db)

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "applicant_id", "status", "funding_pathway", "income_declared_cents", "employer_sponsor_id", "created_at", "completed_at"}).
		AddRow("i1", "u1", "in_progress", nil, 1800000, nil, created, nil)
	mock.ExpectQuery("SELECT (.+) FROM intake_records WHERE applicant_id =").
		WithArgs("u1").
		WillReturnRows(rows)

	record, err := repo.FindByApplicant(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.IntakeStatusInProgress, record.Status)
	require.NotNil(t, record.IncomeDeclaredCents)
	assert.Equal(t, int64(1800000), *record.IncomeDeclaredCents)
	assert.Nil(t, record.FundingPathway)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntakeUpdateAnswersRejectedWhenComplete(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewIntakeRepository(db)

	mock.ExpectExec("UPDATE intake_records").
		WithArgs("i1", sqlmock.AnyArg(), nil, models.IntakeStatusInProgress, models.IntakeStatusComplete).
		WillReturnResult(sqlmock.NewResult(0, 0))

	income := int64(1000000)
	err := repo.UpdateAnswers(context.Background(), "i1", &income, nil)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntakeCompleteKeepsFirstTimestamp(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewIntakeRepository(db)

	// COALESCE in the update means a re-completion never moves the
	// original completed_at; the conditional WHERE makes it a no-op row
	// count the repository reports as a conflict for the service to absorb.
	mock.ExpectExec("UPDATE intake_records").
		WithArgs("i1", models.IntakeStatusComplete, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Complete(context.Background(), "i1", time.Now().UTC()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntakeAssignPathwayRequiresCompleteStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewIntakeRepository(db)

	mock.ExpectExec("UPDATE intake_records SET funding_pathway").
		WithArgs("i1", models.PathwayBridgePaymentPlan, models.IntakeStatusComplete).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AssignPathway(context.Background(), "i1", models.PathwayBridgePaymentPlan)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrIncompleteIntake.Code, appErr.Code)

	mock.ExpectExec("UPDATE intake_records SET funding_pathway").
		WithArgs("i1", models.PathwaySelfPay, models.IntakeStatusComplete).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AssignPathway(context.Background(), "i1", models.PathwaySelfPay))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntakeCreateDefaults(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewIntakeRepository(db)

	mock.ExpectExec("INSERT INTO intake_records").
		WithArgs(sqlmock.AnyArg(), "u1", "not_started", nil, nil, nil, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.IntakeRecord{ApplicantID: "u1"}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.IntakeStatusNotStarted, record.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
