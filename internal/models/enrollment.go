package models

import "time"

// EnrollmentStatus is the single source of truth for where an enrollment
// sits in its lifecycle. Timestamps on the record are audit data only and
// never drive transition decisions.
type EnrollmentStatus string

// Enrollment statuses in forward order, plus the terminal withdrawn state.
const (
	EnrollmentStatusPending           EnrollmentStatus = "pending"
	EnrollmentStatusConfirmed         EnrollmentStatus = "confirmed"
	EnrollmentStatusOrientationDone   EnrollmentStatus = "orientation_complete"
	EnrollmentStatusDocumentsComplete EnrollmentStatus = "documents_complete"
	EnrollmentStatusActive            EnrollmentStatus = "active"
	EnrollmentStatusWithdrawn         EnrollmentStatus = "withdrawn"
)

// Terminal reports whether no further transitions are possible.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusWithdrawn
}

// EnrollmentEvent is a discrete occurrence that may advance an enrollment.
type EnrollmentEvent string

// Events accepted by the enrollment workflow.
const (
	EventPathwayConfirmed    EnrollmentEvent = "pathway_confirmed"
	EventOrientationComplete EnrollmentEvent = "orientation_complete"
	EventDocumentsSubmitted  EnrollmentEvent = "documents_submitted"
	EventActivated           EnrollmentEvent = "activated"
	EventWithdrawn           EnrollmentEvent = "withdrawn"
)

// Enrollment captures a learner's relationship to one program. Created at
// application submission with status pending; logically destroyed via the
// withdrawn terminal state, never physically deleted.
type Enrollment struct {
	ID                     string           `db:"id" json:"id"`
	UserID                 string           `db:"user_id" json:"user_id"`
	ProgramID              string           `db:"program_id" json:"program_id"`
	Status                 EnrollmentStatus `db:"status" json:"status"`
	OrientationCompletedAt *time.Time       `db:"orientation_completed_at" json:"orientation_completed_at,omitempty"`
	DocumentsSubmittedAt   *time.Time       `db:"documents_submitted_at" json:"documents_submitted_at,omitempty"`
	WithdrawnAt            *time.Time       `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	CreatedAt              time.Time        `db:"created_at" json:"created_at"`
}

// EnrollmentDetail enriches Enrollment with learner and program info.
type EnrollmentDetail struct {
	Enrollment
	LearnerName  string          `db:"learner_name" json:"learner_name"`
	LearnerEmail string          `db:"learner_email" json:"learner_email"`
	ProgramName  string          `db:"program_name" json:"program_name"`
	Pathway      *FundingPathway `db:"funding_pathway" json:"funding_pathway,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	UserID    string
	ProgramID string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
