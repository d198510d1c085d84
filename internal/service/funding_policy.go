package service

import (
	"github.com/upliftworks/enrollment-api/internal/models"
	"github.com/upliftworks/enrollment-api/pkg/config"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

// FundingPolicy decides which funding pathway applies to a completed
// intake. It is a pure function over its input; persisting the decision is
// the caller's job.
type FundingPolicy struct {
	selfPayThresholdCents int64
	maxPlanMonths         int
	minDownPaymentCents   int64
}

// NewFundingPolicy builds the policy from the funding constants.
func NewFundingPolicy(cfg config.FundingConfig) FundingPolicy {
	return FundingPolicy{
		selfPayThresholdCents: cfg.SelfPayThresholdCents,
		maxPlanMonths:         cfg.MaxPlanMonths,
		minDownPaymentCents:   cfg.MinDownPaymentCents,
	}
}

// AssignPathway determines the pathway for an intake record. Employer
// sponsorship takes precedence over income-based assistance: sponsor
// obligations are contractual and override the bridge plan even when the
// declared income also qualifies.
func (p FundingPolicy) AssignPathway(intake *models.IntakeRecord) (models.FundingPathway, error) {
	if intake == nil || intake.Status != models.IntakeStatusComplete {
		return "", appErrors.Clone(appErrors.ErrIncompleteIntake, "")
	}
	if intake.EmployerSponsorID != nil && *intake.EmployerSponsorID != "" {
		return models.PathwayEmployerSponsorship, nil
	}
	if intake.IncomeDeclaredCents == nil {
		return "", appErrors.Clone(appErrors.ErrMissingIncomeData, "")
	}
	if *intake.IncomeDeclaredCents < p.selfPayThresholdCents {
		return models.PathwayBridgePaymentPlan, nil
	}
	return models.PathwaySelfPay, nil
}

// PlanSatisfiable reports whether the bridge payment plan constraints admit
// a valid plan for the given tuition. This is a policy check only: actual
// installment execution belongs to the billing collaborator.
func (p FundingPolicy) PlanSatisfiable(tuitionCents int64) bool {
	if p.maxPlanMonths < 1 {
		return false
	}
	if tuitionCents <= 0 {
		return false
	}
	return tuitionCents >= p.minDownPaymentCents
}
