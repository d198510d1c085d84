package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

type intakeRepository interface {
	FindByID(ctx context.Context, id string) (*models.IntakeRecord, error)
	FindByApplicant(ctx context.Context, applicantID string) (*models.IntakeRecord, error)
	Create(ctx context.Context, record *models.IntakeRecord) error
	UpdateAnswers(ctx context.Context, id string, incomeCents *int64, sponsorID *string) error
	Complete(ctx context.Context, id string, at time.Time) error
	AssignPathway(ctx context.Context, id string, pathway models.FundingPathway) error
}

// UpdateIntakeRequest carries questionnaire answers.
type UpdateIntakeRequest struct {
	IncomeDeclaredCents *int64  `json:"income_declared_cents" validate:"omitempty,min=0"`
	EmployerSponsorID   *string `json:"employer_sponsor_id"`
}

// IntakeService owns the eligibility screening lifecycle. It is the only
// writer of intake records; pathway decisions come from the FundingPolicy
// and are persisted here.
type IntakeService struct {
	repo      intakeRepository
	policy    FundingPolicy
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewIntakeService constructs IntakeService.
func NewIntakeService(repo intakeRepository, policy FundingPolicy, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *IntakeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{repo: repo, policy: policy, audit: audit, validator: validate, logger: logger}
}

// Start returns the applicant's open intake, creating one if none exists.
// Re-invoking start is a no-op while an intake is still open.
func (s *IntakeService) Start(ctx context.Context, applicantID string) (*models.IntakeRecord, error) {
	existing, err := s.repo.FindByApplicant(ctx, applicantID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intake")
	}
	if existing != nil && existing.Status != models.IntakeStatusComplete {
		return existing, nil
	}
	record := &models.IntakeRecord{ApplicantID: applicantID, Status: models.IntakeStatusNotStarted, CreatedAt: time.Now().UTC()}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create intake")
	}
	return record, nil
}

// Get returns the most recent intake for an applicant.
func (s *IntakeService) Get(ctx context.Context, applicantID string) (*models.IntakeRecord, error) {
	record, err := s.repo.FindByApplicant(ctx, applicantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no intake for applicant")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intake")
	}
	return record, nil
}

// UpdateAnswers records questionnaire answers on an open intake.
func (s *IntakeService) UpdateAnswers(ctx context.Context, id string, req UpdateIntakeRequest) (*models.IntakeRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid intake payload")
	}
	record, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status == models.IntakeStatusComplete {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "intake already complete")
	}
	if err := s.repo.UpdateAnswers(ctx, id, req.IncomeDeclaredCents, req.EmployerSponsorID); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update intake")
	}
	return s.findByID(ctx, id)
}

// Complete marks the intake as complete. Completing an already complete
// intake is a no-op returning the current record.
func (s *IntakeService) Complete(ctx context.Context, id string) (*models.IntakeRecord, error) {
	record, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status == models.IntakeStatusComplete {
		return record, nil
	}
	if err := s.repo.Complete(ctx, id, time.Now().UTC()); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete intake")
	}
	s.audit.Record(&models.AuditLog{
		UserID:     &record.ApplicantID,
		Action:     models.AuditActionIntakeComplete,
		Resource:   "intake",
		ResourceID: &record.ID,
	})
	return s.findByID(ctx, id)
}

// AssignPathway runs the funding policy against the intake and persists
// the decision. Policy errors always reach the caller; a pathway is never
// silently defaulted.
func (s *IntakeService) AssignPathway(ctx context.Context, id string) (*models.IntakeRecord, error) {
	record, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pathway, err := s.policy.AssignPathway(record)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AssignPathway(ctx, id, pathway); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign pathway")
	}
	payload, _ := json.Marshal(map[string]string{"funding_pathway": string(pathway)})
	s.audit.Record(&models.AuditLog{
		UserID:     &record.ApplicantID,
		Action:     models.AuditActionPathwayAssigned,
		Resource:   "intake",
		ResourceID: &record.ID,
		NewValues:  payload,
	})
	return s.findByID(ctx, id)
}

func (s *IntakeService) findByID(ctx context.Context, id string) (*models.IntakeRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "intake not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intake")
	}
	return record, nil
}
