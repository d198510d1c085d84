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
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

type mockIntakeRepo struct {
	items   map[string]*models.IntakeRecord
	created int
}

func (m *mockIntakeRepo) FindByID(ctx context.Context, id string) (*models.IntakeRecord, error) {
	if record, ok := m.items[id]; ok {
		cp := *record
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIntakeRepo) FindByApplicant(ctx context.Context, applicantID string) (*models.IntakeRecord, error) {
	var latest *models.IntakeRecord
	for _, record := range m.items {
		if record.ApplicantID != applicantID {
			continue
		}
		if latest == nil || record.CreatedAt.After(latest.CreatedAt) {
			latest = record
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	cp := *latest
	return &cp, nil
}

func (m *mockIntakeRepo) Create(ctx context.Context, record *models.IntakeRecord) error {
	if m.items == nil {
		m.items = make(map[string]*models.IntakeRecord)
	}
	if record.ID == "" {
		record.ID = "generated"
	}
	m.created++
	cp := *record
	m.items[record.ID] = &cp
	return nil
}

func (m *mockIntakeRepo) UpdateAnswers(ctx context.Context, id string, incomeCents *int64, sponsorID *string) error {
	record, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	if record.Status == models.IntakeStatusComplete {
		return appErrors.Clone(appErrors.ErrStateConflict, "intake already complete")
	}
	record.Status = models.IntakeStatusInProgress
	record.IncomeDeclaredCents = incomeCents
	record.EmployerSponsorID = sponsorID
	return nil
}

func (m *mockIntakeRepo) Complete(ctx context.Context, id string, at time.Time) error {
	record, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	record.Status = models.IntakeStatusComplete
	if record.CompletedAt == nil {
		record.CompletedAt = &at
	}
	return nil
}

func (m *mockIntakeRepo) AssignPathway(ctx context.Context, id string, pathway models.FundingPathway) error {
	record, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	if record.Status != models.IntakeStatusComplete {
		return appErrors.Clone(appErrors.ErrIncompleteIntake, "")
	}
	record.FundingPathway = &pathway
	return nil
}

func newIntakeService(repo *mockIntakeRepo) *IntakeService {
	return NewIntakeService(repo, testPolicy(), nil, nil, nil)
}

func TestStartReturnsOpenIntake(t *testing.T) {
	repo := &mockIntakeRepo{items: make(map[string]*models.IntakeRecord)}
	svc := newIntakeService(repo)

	first, err := svc.Start(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntakeStatusNotStarted, first.Status)
	assert.Equal(t, 1, repo.created)

	// Starting again while the intake is open returns the same record.
	again, err := svc.Start(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, repo.created)
}

func TestStartAfterCompletionOpensNewIntake(t *testing.T) {
	now := time.Now().UTC()
	repo := &mockIntakeRepo{items: map[string]*models.IntakeRecord{
		"old": {ID: "old", ApplicantID: "user-1", Status: models.IntakeStatusComplete, CreatedAt: now.Add(-time.Hour), CompletedAt: &now},
	}}
	svc := newIntakeService(repo)

	record, err := svc.Start(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, "old", record.ID)
	assert.Equal(t, 1, repo.created)
}

func TestUpdateAnswersRejectsCompletedIntake(t *testing.T) {
	repo := &mockIntakeRepo{items: map[string]*models.IntakeRecord{
		"i1": {ID: "i1", ApplicantID: "user-1", Status: models.IntakeStatusComplete},
	}}
	svc := newIntakeService(repo)

	_, err := svc.UpdateAnswers(context.Background(), "i1", UpdateIntakeRequest{IncomeDeclaredCents: int64Ptr(1000000)})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestUpdateAnswersRecordsProgress(t *testing.T) {
	repo := &mockIntakeRepo{items: map[string]*models.IntakeRecord{
		"i1": {ID: "i1", ApplicantID: "user-1", Status: models.IntakeStatusNotStarted},
	}}
	svc := newIntakeService(repo)

	record, err := svc.UpdateAnswers(context.Background(), "i1", UpdateIntakeRequest{
		IncomeDeclaredCents: int64Ptr(1800000),
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntakeStatusInProgress, record.Status)
	require.NotNil(t, record.IncomeDeclaredCents)
	assert.Equal(t, int64(1800000), *record.IncomeDeclaredCents)
}

func TestCompleteIsIdempotent(t *testing.T) {
	repo := &mockIntakeRepo{items: map[string]*models.IntakeRecord{
		"i1": {ID: "i1", ApplicantID: "user-1", Status: models.IntakeStatusInProgress},
	}}
	svc := newIntakeService(repo)

	first, err := svc.Complete(context.Background(), "i1")
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)

	second, err := svc.Complete(context.Background(), "i1")
	require.NoError(t, err)
	assert.True(t, second.CompletedAt.Equal(*first.CompletedAt))
}

func TestAssignPathwayPersistsDecision(t *testing.T) {
	repo := &mockIntakeRepo{items: map[string]*models.IntakeRecord{
		"i1": {
			ID:                  "i1",
			ApplicantID:         "user-1",
			Status:              models.IntakeStatusComplete,
			IncomeDeclaredCents: int64Ptr(1000000),
		},
	}}
	svc := newIntakeService(repo)

	record, err := svc.AssignPathway(context.Background(), "i1")
	require.NoError(t, err)
	require.NotNil(t, record.FundingPathway)
	assert.Equal(t, models.PathwayBridgePaymentPlan, *record.FundingPathway)
}

func TestAssignPathwayPolicyErrorsPropagate(t *testing.T) {
	repo := &mockIntakeRepo{items: map[string]*models.IntakeRecord{
		"incomplete": {ID: "incomplete", ApplicantID: "user-1", Status: models.IntakeStatusInProgress},
		"noincome":   {ID: "noincome", ApplicantID: "user-2", Status: models.IntakeStatusComplete},
	}}
	svc := newIntakeService(repo)

	_, err := svc.AssignPathway(context.Background(), "incomplete")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrIncompleteIntake.Code, appErr.Code)

	_, err = svc.AssignPathway(context.Background(), "noincome")
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrMissingIncomeData.Code, appErr.Code)
}
