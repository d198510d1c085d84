package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upliftworks/enrollment-api/internal/models"
	"github.com/upliftworks/enrollment-api/internal/repository"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	items       map[string]*models.Enrollment
	transitions int
	// beforeTransition runs just before the compare-and-swap write,
	// simulating a concurrent writer.
	beforeTransition func()
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	out := make([]models.EnrollmentDetail, 0, len(m.items))
	for _, e := range m.items {
		out = append(out, models.EnrollmentDetail{Enrollment: *e})
	}
	return out, len(out), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.items[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindLatestByUser(ctx context.Context, userID string) (*models.Enrollment, error) {
	var latest *models.Enrollment
	for _, e := range m.items {
		if e.UserID != userID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	cp := *latest
	return &cp, nil
}

func (m *mockEnrollmentRepo) FindLatestByUserInProgram(ctx context.Context, userID, programID string) (*models.Enrollment, error) {
	var latest *models.Enrollment
	for _, e := range m.items {
		if e.UserID != userID || e.ProgramID != programID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	cp := *latest
	return &cp, nil
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.items[id]; ok {
		return &models.EnrollmentDetail{Enrollment: *e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsOpen(ctx context.Context, userID, programID string) (bool, error) {
	for _, e := range m.items {
		if e.UserID == userID && e.ProgramID == programID && e.Status != models.EnrollmentStatusWithdrawn {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.items == nil {
		m.items = make(map[string]*models.Enrollment)
	}
	if enrollment.ID == "" {
		enrollment.ID = "generated"
	}
	cp := *enrollment
	m.items[enrollment.ID] = &cp
	return nil
}

// TransitionStatus mirrors the production compare-and-swap: the write only
// lands when the stored status still matches the status the caller read.
func (m *mockEnrollmentRepo) TransitionStatus(ctx context.Context, params repository.TransitionParams) error {
	if m.beforeTransition != nil {
		m.beforeTransition()
		m.beforeTransition = nil
	}
	stored, ok := m.items[params.ID]
	if !ok || stored.Status != params.FromStatus {
		return appErrors.Clone(appErrors.ErrStateConflict, "")
	}
	m.transitions++
	stored.Status = params.ToStatus
	if stored.OrientationCompletedAt == nil {
		stored.OrientationCompletedAt = params.OrientationCompletedAt
	}
	if stored.DocumentsSubmittedAt == nil {
		stored.DocumentsSubmittedAt = params.DocumentsSubmittedAt
	}
	if stored.WithdrawnAt == nil {
		stored.WithdrawnAt = params.WithdrawnAt
	}
	return nil
}

type mockIntakeReader struct {
	byApplicant map[string]*models.IntakeRecord
	err         error
}

func (m *mockIntakeReader) FindByApplicant(ctx context.Context, applicantID string) (*models.IntakeRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if record, ok := m.byApplicant[applicantID]; ok {
		cp := *record
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type mockUserReader struct {
	users map[string]*models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type workflowFixture struct {
	svc     *EnrollmentService
	repo    *mockEnrollmentRepo
	intakes *mockIntakeReader
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	repo := &mockEnrollmentRepo{items: make(map[string]*models.Enrollment)}
	intakes := &mockIntakeReader{byApplicant: make(map[string]*models.IntakeRecord)}
	programs := &mockProgramReader{programs: map[string]*models.Program{
		"prog-1": {ID: "prog-1", Name: "Welding Fundamentals", TuitionCents: 600000, Active: true},
	}}
	users := &mockUserReader{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "learner@example.org", FullName: "Jordan Lee", Role: models.RoleLearner, Active: true},
	}}
	gate := NewComplianceGate(testPolicy(), &mockSponsorReader{}, programs, nil, nil)
	svc := NewEnrollmentService(repo, intakes, programs, users, gate, nil, nil, nil, nil)
	return &workflowFixture{svc: svc, repo: repo, intakes: intakes}
}

func (f *workflowFixture) seedEnrollment(e *models.Enrollment) {
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	f.repo.items[cp.ID] = &cp
}

func (f *workflowFixture) seedSelfPayIntake(userID string) {
	pathway := models.PathwaySelfPay
	f.intakes.byApplicant[userID] = &models.IntakeRecord{
		ID:                  "intake-" + userID,
		ApplicantID:         userID,
		Status:              models.IntakeStatusComplete,
		FundingPathway:      &pathway,
		IncomeDeclaredCents: int64Ptr(4000000),
	}
}

func TestApplyCreatesPendingEnrollment(t *testing.T) {
	f := newWorkflowFixture(t)

	detail, err := f.svc.Apply(context.Background(), ApplyRequest{UserID: "user-1", ProgramID: "prog-1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, detail.Status)

	// A second application while one is open is rejected.
	_, err = f.svc.Apply(context.Background(), ApplyRequest{UserID: "user-1", ProgramID: "prog-1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestConfirmAdvancesPendingEnrollment(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedSelfPayIntake("user-1")
	f.seedEnrollment(&models.Enrollment{ID: "e1", UserID: "user-1", ProgramID: "prog-1", Status: models.EnrollmentStatusPending})

	enrollment, err := f.svc.Confirm(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusConfirmed, enrollment.Status)
	assert.Equal(t, 1, f.repo.transitions)
}

func TestOrientationRedeliveryIsNoop(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedSelfPayIntake("user-1")
	done := time.Now().UTC().Add(-time.Hour)
	f.seedEnrollment(&models.Enrollment{
		ID:                     "e1",
		UserID:                 "user-1",
		ProgramID:              "prog-1",
		Status:                 models.EnrollmentStatusOrientationDone,
		OrientationCompletedAt: &done,
	})

	first, err := f.svc.OrientationComplete(context.Background(), EventRequest{UserID: "user-1"})
	require.NoError(t, err)
	second, err := f.svc.OrientationComplete(context.Background(), EventRequest{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	require.NotNil(t, second.OrientationCompletedAt)
	// The original completion timestamp is preserved, not overwritten.
	assert.True(t, second.OrientationCompletedAt.Equal(done))
	assert.Zero(t, f.repo.transitions)
}

func TestDocumentsBeforeOrientationRejected(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedSelfPayIntake("user-1")
	f.seedEnrollment(&models.Enrollment{ID: "e1", UserID: "user-1", ProgramID: "prog-1", Status: models.EnrollmentStatusConfirmed})

	_, err := f.svc.DocumentsSubmitted(context.Background(), EventRequest{UserID: "user-1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Equal(t, "complete orientation first", appErr.Message)

	// The stored record is untouched by the rejected event.
	stored := f.repo.items["e1"]
	assert.Equal(t, models.EnrollmentStatusConfirmed, stored.Status)
	assert.Nil(t, stored.DocumentsSubmittedAt)
}

func TestGateBlocksTransitionWithoutPathway(t *testing.T) {
	f := newWorkflowFixture(t)
	// Intake exists but never reached pathway assignment.
	f.intakes.byApplicant["user-1"] = &models.IntakeRecord{
		ID:          "intake-user-1",
		ApplicantID: "user-1",
		Status:      models.IntakeStatusComplete,
	}
	f.seedEnrollment(&models.Enrollment{ID: "e1", UserID: "user-1", ProgramID: "prog-1", Status: models.EnrollmentStatusPending})

	_, err := f.svc.Confirm(context.Background(), "e1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPathwayUnassigned.Code, appErr.Code)
	assert.Zero(t, f.repo.transitions)
}

func TestWithdrawAllowedWithoutIntake(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedEnrollment(&models.Enrollment{ID: "e1", UserID: "user-1", ProgramID: "prog-1", Status: models.EnrollmentStatusPending})

	enrollment, err := f.svc.Withdraw(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, enrollment.Status)
	require.NotNil(t, enrollment.WithdrawnAt)

	// Withdrawal is terminal: nothing moves it afterwards.
	_, err = f.svc.Confirm(context.Background(), "e1")
	require.Error(t, err)
}

func TestConcurrentTransitionLosesCompareAndSwap(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedSelfPayIntake("user-1")
	f.seedEnrollment(&models.Enrollment{ID: "e1", UserID: "user-1", ProgramID: "prog-1", Status: models.EnrollmentStatusPending})

	// Another request withdraws the enrollment between this request's read
	// and its write. The compare-and-swap must fail rather than clobber.
	f.repo.beforeTransition = func() {
		now := time.Now().UTC()
		stored := f.repo.items["e1"]
		stored.Status = models.EnrollmentStatusWithdrawn
		stored.WithdrawnAt = &now
	}

	_, err := f.svc.Confirm(context.Background(), "e1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErr.Code)

	stored := f.repo.items["e1"]
	assert.Equal(t, models.EnrollmentStatusWithdrawn, stored.Status)
}

func TestStoreFailureLoadingIntakeSurfaces(t *testing.T) {
	f := newWorkflowFixture(t)
	f.intakes.err = errors.New("connection refused")
	f.seedEnrollment(&models.Enrollment{ID: "e1", UserID: "user-1", ProgramID: "prog-1", Status: models.EnrollmentStatusPending})

	_, err := f.svc.Confirm(context.Background(), "e1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrStoreUnavailable.Code, appErr.Code)
}
