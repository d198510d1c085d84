package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

type sponsorReader interface {
	FindByID(ctx context.Context, id string) (*models.EmployerSponsor, error)
}

type programReader interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
}

// ComplianceGate is consulted before any state-changing enrollment action.
// A nil return means the transition is permitted. Denials come back as
// typed errors (PATHWAY_UNASSIGNED, SPONSOR_INACTIVE,
// PLAN_CONSTRAINT_VIOLATED) so callers can explain the denial; store
// failures surface as STORE_UNAVAILABLE and are retryable, never a denial.
type ComplianceGate struct {
	policy   FundingPolicy
	sponsors sponsorReader
	programs programReader
	cache    *CacheService
	logger   *zap.Logger
}

// NewComplianceGate constructs the gate.
func NewComplianceGate(policy FundingPolicy, sponsors sponsorReader, programs programReader, cache *CacheService, logger *zap.Logger) *ComplianceGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComplianceGate{policy: policy, sponsors: sponsors, programs: programs, cache: cache, logger: logger}
}

// CanTransition checks whether the event may be applied to the enrollment.
func (g *ComplianceGate) CanTransition(ctx context.Context, enrollment *models.Enrollment, intake *models.IntakeRecord, event models.EnrollmentEvent) error {
	// Withdrawal needs no precondition beyond the enrollment existing.
	if event == models.EventWithdrawn {
		return nil
	}

	if intake == nil || intake.Status != models.IntakeStatusComplete || !intake.HasPathway() {
		return appErrors.Clone(appErrors.ErrPathwayUnassigned, "")
	}

	switch *intake.FundingPathway {
	case models.PathwayBridgePaymentPlan:
		program, err := g.programs.FindByID(ctx, enrollment.ProgramID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrPlanConstraint, "program not found")
			}
			return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load program")
		}
		if !g.policy.PlanSatisfiable(program.TuitionCents) {
			return appErrors.Clone(appErrors.ErrPlanConstraint, "")
		}
	case models.PathwayEmployerSponsorship:
		if intake.EmployerSponsorID == nil || *intake.EmployerSponsorID == "" {
			return appErrors.Clone(appErrors.ErrSponsorInactive, "no employer sponsor on intake")
		}
		sponsor, err := g.lookupSponsor(ctx, *intake.EmployerSponsorID)
		if err != nil {
			return err
		}
		if sponsor == nil || !sponsor.Active {
			return appErrors.Clone(appErrors.ErrSponsorInactive, "")
		}
	}

	return nil
}

func (g *ComplianceGate) lookupSponsor(ctx context.Context, id string) (*models.EmployerSponsor, error) {
	key := sponsorCacheKey(id)
	var cached models.EmployerSponsor
	if hit, err := g.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	sponsor, err := g.sponsors.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load sponsor")
	}

	if err := g.cache.Set(ctx, key, sponsor, 0); err != nil {
		g.logger.Warn("sponsor cache write failed", zap.String("sponsor_id", id), zap.Error(err))
	}
	return sponsor, nil
}

func sponsorCacheKey(id string) string {
	return fmt.Sprintf("sponsor:%s", id)
}
