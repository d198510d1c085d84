package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

// IntakeRepository handles persistence of intake records. Records are
// append-and-update only; nothing here deletes a row.
type IntakeRepository struct {
	db *sqlx.DB
}

// NewIntakeRepository constructs the repository.
func NewIntakeRepository(db *sqlx.DB) *IntakeRepository {
	return &IntakeRepository{db: db}
}

const intakeColumns = `id, applicant_id, status, funding_pathway, income_declared_cents, employer_sponsor_id, created_at, completed_at`

// FindByID returns an intake record by its ID.
func (r *IntakeRepository) FindByID(ctx context.Context, id string) (*models.IntakeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM intake_records WHERE id = $1`, intakeColumns)
	var record models.IntakeRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByApplicant returns the most recent intake record for an applicant.
func (r *IntakeRepository) FindByApplicant(ctx context.Context, applicantID string) (*models.IntakeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM intake_records WHERE applicant_id = $1 ORDER BY created_at DESC LIMIT 1`, intakeColumns)
	var record models.IntakeRecord
	if err := r.db.GetContext(ctx, &record, query, applicantID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Create persists a new intake record.
func (r *IntakeRepository) Create(ctx context.Context, record *models.IntakeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = models.IntakeStatusNotStarted
	}
	const query = `INSERT INTO intake_records (id, applicant_id, status, funding_pathway, income_declared_cents, employer_sponsor_id, created_at, completed_at)
        VALUES (:id, :applicant_id, :status, :funding_pathway, :income_declared_cents, :employer_sponsor_id, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create intake record: %w", err)
	}
	return nil
}

// UpdateAnswers records questionnaire answers while the intake is still
// open. Completed intakes are immutable apart from pathway assignment.
func (r *IntakeRepository) UpdateAnswers(ctx context.Context, id string, incomeCents *int64, sponsorID *string) error {
	const query = `UPDATE intake_records
        SET income_declared_cents = $2, employer_sponsor_id = $3, status = $4
        WHERE id = $1 AND status <> $5`
	res, err := r.db.ExecContext(ctx, query, id, incomeCents, sponsorID, models.IntakeStatusInProgress, models.IntakeStatusComplete)
	if err != nil {
		return fmt.Errorf("update intake answers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update intake answers: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrStateConflict, "intake already complete")
	}
	return nil
}

// Complete marks the intake as complete. The completed_at timestamp is
// first-write-wins; a repeated completion does not move it.
func (r *IntakeRepository) Complete(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE intake_records
        SET status = $2, completed_at = COALESCE(completed_at, $3)
        WHERE id = $1 AND status <> $2`
	res, err := r.db.ExecContext(ctx, query, id, models.IntakeStatusComplete, at)
	if err != nil {
		return fmt.Errorf("complete intake: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete intake: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrStateConflict, "intake already complete")
	}
	return nil
}

// AssignPathway records the funding pathway decided by the policy. The
// write is conditional on the intake being complete, which keeps the
// "pathway only on complete intakes" invariant enforced at the store.
func (r *IntakeRepository) AssignPathway(ctx context.Context, id string, pathway models.FundingPathway) error {
	const query = `UPDATE intake_records SET funding_pathway = $2 WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, pathway, models.IntakeStatusComplete)
	if err != nil {
		return fmt.Errorf("assign funding pathway: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign funding pathway: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrIncompleteIntake, "")
	}
	return nil
}
