package models

import "time"

// IntakeStatus tracks progress through the eligibility questionnaire.
type IntakeStatus string

// Possible intake statuses.
const (
	IntakeStatusNotStarted IntakeStatus = "not_started"
	IntakeStatusInProgress IntakeStatus = "in_progress"
	IntakeStatusComplete   IntakeStatus = "complete"
)

// FundingPathway is the mutually exclusive financing arrangement governing
// how tuition is satisfied for one enrollment.
type FundingPathway string

// The three funding pathways.
const (
	PathwaySelfPay             FundingPathway = "self_pay"
	PathwayBridgePaymentPlan   FundingPathway = "bridge_payment_plan"
	PathwayEmployerSponsorship FundingPathway = "employer_sponsorship"
)

// Valid reports whether the pathway is one of the known values.
func (p FundingPathway) Valid() bool {
	switch p {
	case PathwaySelfPay, PathwayBridgePaymentPlan, PathwayEmployerSponsorship:
		return true
	}
	return false
}

// IntakeRecord is a single applicant's eligibility screening. Records are
// retained for audit and never deleted; funding_pathway may only be non-null
// once the intake is complete.
type IntakeRecord struct {
	ID                  string          `db:"id" json:"id"`
	ApplicantID         string          `db:"applicant_id" json:"applicant_id"`
	Status              IntakeStatus    `db:"status" json:"status"`
	FundingPathway      *FundingPathway `db:"funding_pathway" json:"funding_pathway,omitempty"`
	IncomeDeclaredCents *int64          `db:"income_declared_cents" json:"income_declared_cents,omitempty"`
	EmployerSponsorID   *string         `db:"employer_sponsor_id" json:"employer_sponsor_id,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	CompletedAt         *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// HasPathway reports whether a funding pathway has been assigned.
func (r *IntakeRecord) HasPathway() bool {
	return r != nil && r.FundingPathway != nil && r.FundingPathway.Valid()
}
