package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTransitionStatusAppliesCompareAndSwap(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE enrollments").
		WithArgs("e1", models.EnrollmentStatusConfirmed, models.EnrollmentStatusOrientationDone, sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TransitionStatus(context.Background(), TransitionParams{
		ID:                     "e1",
		FromStatus:             models.EnrollmentStatusConfirmed,
		ToStatus:               models.EnrollmentStatusOrientationDone,
		OrientationCompletedAt: &now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusConflictWhenRowMoved(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// Zero rows matched: the status changed after the caller's read.
	mock.ExpectExec("UPDATE enrollments").
		WithArgs("e1", models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TransitionStatus(context.Background(), TransitionParams{
		ID:         "e1",
		FromStatus: models.EnrollmentStatusPending,
		ToStatus:   models.EnrollmentStatusConfirmed,
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusConcurrentWritersOnlyOneWins(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// Two requests race the same pending -> confirmed edge. The first
	// update matches the row; the second sees the already-moved status.
	mock.ExpectExec("UPDATE enrollments").
		WithArgs("e1", models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE enrollments").
		WithArgs("e1", models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	params := TransitionParams{
		ID:         "e1",
		FromStatus: models.EnrollmentStatusPending,
		ToStatus:   models.EnrollmentStatusConfirmed,
	}

	require.NoError(t, repo.TransitionStatus(context.Background(), params))

	err := repo.TransitionStatus(context.Background(), params)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "program_id", "status", "orientation_completed_at", "documents_submitted_at", "withdrawn_at", "created_at"}).
		AddRow("e1", "u1", "p1", "confirmed", nil, nil, nil, created)
	mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE id =").
		WithArgs("e1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusConfirmed, enrollment.Status)
	assert.Nil(t, enrollment.OrientationCompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiltersAndCounts(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "program_id", "status", "orientation_completed_at", "documents_submitted_at", "withdrawn_at", "created_at", "learner_name", "learner_email", "program_name", "funding_pathway"}).
		AddRow("e1", "u1", "p1", "active", nil, nil, nil, created, "Jordan Lee", "jordan@example.org", "Welding Fundamentals", "self_pay")
	mock.ExpectQuery("SELECT e.id, (.+) ORDER BY e.created_at DESC LIMIT 20 OFFSET 0").
		WithArgs("active").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.EnrollmentFilter{Status: models.EnrollmentStatusActive})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Welding Fundamentals", list[0].ProgramName)
	require.NotNil(t, list[0].Pathway)
	assert.Equal(t, models.PathwaySelfPay, *list[0].Pathway)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsOpen(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT 1 FROM enrollments").
		WithArgs("u1", "p1", models.EnrollmentStatusWithdrawn).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	exists, err := repo.ExistsOpen(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery("SELECT 1 FROM enrollments").
		WithArgs("u2", "p1", models.EnrollmentStatusWithdrawn).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	exists, err = repo.ExistsOpen(context.Background(), "u2", "p1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDefaultsToPending(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "u1", "p1", "pending", nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{UserID: "u1", ProgramID: "p1"}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
