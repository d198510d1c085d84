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

type mockSponsorReader struct {
	sponsors map[string]*models.EmployerSponsor
	err      error
	calls    int
}

func (m *mockSponsorReader) FindByID(ctx context.Context, id string) (*models.EmployerSponsor, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if sponsor, ok := m.sponsors[id]; ok {
		cp := *sponsor
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type mockProgramReader struct {
	programs map[string]*models.Program
	err      error
}

func (m *mockProgramReader) FindByID(ctx context.Context, id string) (*models.Program, error) {
	if m.err != nil {
		return nil, m.err
	}
	if program, ok := m.programs[id]; ok {
		cp := *program
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type mapCacheRepo struct {
	entries map[string][]byte
	sets    int
}

func (m *mapCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	sponsor, ok := dest.(*models.EmployerSponsor)
	if !ok {
		return appErrors.ErrCacheMiss
	}
	sponsor.ID = key
	sponsor.Active = string(raw) == "active"
	return nil
}

func (m *mapCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.sets++
	m.entries[key] = []byte("active")
	return nil
}

func (m *mapCacheRepo) Delete(ctx context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

func newGate(sponsors *mockSponsorReader, programs *mockProgramReader, cache *CacheService) *ComplianceGate {
	return NewComplianceGate(testPolicy(), sponsors, programs, cache, nil)
}

func pathwayIntake(pathway models.FundingPathway, mutate func(*models.IntakeRecord)) *models.IntakeRecord {
	record := completeIntake(func(r *models.IntakeRecord) {
		r.FundingPathway = &pathway
	})
	if mutate != nil {
		mutate(record)
	}
	return record
}

func TestCanTransitionWithdrawAlwaysAllowed(t *testing.T) {
	gate := newGate(&mockSponsorReader{}, &mockProgramReader{}, nil)
	enrollment := &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusPending}

	// Withdrawal is permitted even with no intake on file.
	err := gate.CanTransition(context.Background(), enrollment, nil, models.EventWithdrawn)
	assert.NoError(t, err)
}

func TestCanTransitionRequiresAssignedPathway(t *testing.T) {
	gate := newGate(&mockSponsorReader{}, &mockProgramReader{}, nil)
	enrollment := &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusPending}

	cases := []*models.IntakeRecord{
		nil,
		completeIntake(func(r *models.IntakeRecord) { r.Status = models.IntakeStatusInProgress }),
		completeIntake(nil), // complete but no pathway assigned
	}

	for _, intake := range cases {
		err := gate.CanTransition(context.Background(), enrollment, intake, models.EventPathwayConfirmed)
		require.Error(t, err)
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, appErrors.ErrPathwayUnassigned.Code, appErr.Code)
	}
}

func TestCanTransitionSelfPayHasNoExtraChecks(t *testing.T) {
	gate := newGate(&mockSponsorReader{}, &mockProgramReader{}, nil)
	enrollment := &models.Enrollment{ID: "e1", ProgramID: "p1", Status: models.EnrollmentStatusPending}
	intake := pathwayIntake(models.PathwaySelfPay, nil)

	assert.NoError(t, gate.CanTransition(context.Background(), enrollment, intake, models.EventPathwayConfirmed))
}

func TestCanTransitionBridgePlanConstraints(t *testing.T) {
	programs := &mockProgramReader{programs: map[string]*models.Program{
		"affordable": {ID: "affordable", TuitionCents: 600000, Active: true},
		"tiny":       {ID: "tiny", TuitionCents: 10000, Active: true},
	}}
	gate := newGate(&mockSponsorReader{}, programs, nil)
	intake := pathwayIntake(models.PathwayBridgePaymentPlan, func(r *models.IntakeRecord) {
		r.IncomeDeclaredCents = int64Ptr(1000000)
	})

	ok := &models.Enrollment{ID: "e1", ProgramID: "affordable"}
	assert.NoError(t, gate.CanTransition(context.Background(), ok, intake, models.EventPathwayConfirmed))

	// Tuition below the minimum down payment cannot produce a valid plan.
	tooSmall := &models.Enrollment{ID: "e2", ProgramID: "tiny"}
	err := gate.CanTransition(context.Background(), tooSmall, intake, models.EventPathwayConfirmed)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPlanConstraint.Code, appErr.Code)

	missing := &models.Enrollment{ID: "e3", ProgramID: "ghost"}
	err = gate.CanTransition(context.Background(), missing, intake, models.EventPathwayConfirmed)
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPlanConstraint.Code, appErr.Code)
}

func TestCanTransitionBridgePlanStoreFailure(t *testing.T) {
	programs := &mockProgramReader{err: errors.New("connection refused")}
	gate := newGate(&mockSponsorReader{}, programs, nil)
	intake := pathwayIntake(models.PathwayBridgePaymentPlan, nil)
	enrollment := &models.Enrollment{ID: "e1", ProgramID: "p1"}

	err := gate.CanTransition(context.Background(), enrollment, intake, models.EventPathwayConfirmed)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrStoreUnavailable.Code, appErr.Code)
}

func TestCanTransitionSponsorChecks(t *testing.T) {
	sponsors := &mockSponsorReader{sponsors: map[string]*models.EmployerSponsor{
		"acme":    {ID: "acme", Name: "Acme Corp", Active: true},
		"dormant": {ID: "dormant", Name: "Dormant Inc", Active: false},
	}}
	gate := newGate(sponsors, &mockProgramReader{}, nil)
	enrollment := &models.Enrollment{ID: "e1", ProgramID: "p1"}

	active := pathwayIntake(models.PathwayEmployerSponsorship, func(r *models.IntakeRecord) {
		r.EmployerSponsorID = strPtr("acme")
	})
	assert.NoError(t, gate.CanTransition(context.Background(), enrollment, active, models.EventPathwayConfirmed))

	for _, sponsorID := range []string{"dormant", "unknown"} {
		sponsorID := sponsorID
		intake := pathwayIntake(models.PathwayEmployerSponsorship, func(r *models.IntakeRecord) {
			r.EmployerSponsorID = strPtr(sponsorID)
		})
		err := gate.CanTransition(context.Background(), enrollment, intake, models.EventPathwayConfirmed)
		require.Error(t, err)
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, appErrors.ErrSponsorInactive.Code, appErr.Code)
	}

	noSponsor := pathwayIntake(models.PathwayEmployerSponsorship, func(r *models.IntakeRecord) {
		r.EmployerSponsorID = nil
	})
	err := gate.CanTransition(context.Background(), enrollment, noSponsor, models.EventPathwayConfirmed)
	require.Error(t, err)
}

func TestSponsorLookupUsesCache(t *testing.T) {
	sponsors := &mockSponsorReader{sponsors: map[string]*models.EmployerSponsor{
		"acme": {ID: "acme", Name: "Acme Corp", Active: true},
	}}
	cacheRepo := &mapCacheRepo{}
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	gate := newGate(sponsors, &mockProgramReader{}, cacheSvc)
	enrollment := &models.Enrollment{ID: "e1", ProgramID: "p1"}
	intake := pathwayIntake(models.PathwayEmployerSponsorship, func(r *models.IntakeRecord) {
		r.EmployerSponsorID = strPtr("acme")
	})

	require.NoError(t, gate.CanTransition(context.Background(), enrollment, intake, models.EventPathwayConfirmed))
	assert.Equal(t, 1, sponsors.calls)
	assert.Equal(t, 1, cacheRepo.sets)

	// Second check is served from cache, no repository hit.
	require.NoError(t, gate.CanTransition(context.Background(), enrollment, intake, models.EventOrientationComplete))
	assert.Equal(t, 1, sponsors.calls)
}
