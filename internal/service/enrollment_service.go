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
	"github.com/upliftworks/enrollment-api/internal/repository"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindLatestByUser(ctx context.Context, userID string) (*models.Enrollment, error)
	FindLatestByUserInProgram(ctx context.Context, userID, programID string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsOpen(ctx context.Context, userID, programID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	TransitionStatus(ctx context.Context, params repository.TransitionParams) error
}

type intakeReader interface {
	FindByApplicant(ctx context.Context, applicantID string) (*models.IntakeRecord, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ApplyRequest describes an application submission.
type ApplyRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ProgramID string `json:"program_id" validate:"required"`
}

// EventRequest identifies the learner an external trigger refers to. The
// program is optional; when present it narrows the enrollment lookup.
type EventRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ProgramID string `json:"program_id"`
}

// EnrollmentService advances enrollments through the funding and
// onboarding workflow. Every status write is compare-and-swap against the
// status observed when the request loaded the record.
type EnrollmentService struct {
	repo      enrollmentRepository
	intakes   intakeReader
	programs  programReader
	users     userReader
	gate      *ComplianceGate
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, intakes intakeReader, programs programReader, users userReader, gate *ComplianceGate, audit *AuditService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, intakes: intakes, programs: programs, users: users, gate: gate, audit: audit, metrics: metrics, validator: validate, logger: logger}
}

// Apply creates a pending enrollment for a learner and program.
func (s *EnrollmentService) Apply(ctx context.Context, req ApplyRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "learner not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load learner")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "learner account inactive")
	}
	program, err := s.programs.FindByID(ctx, req.ProgramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	if !program.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "program not open for enrollment")
	}
	exists, err := s.repo.ExistsOpen(ctx, req.UserID, req.ProgramID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "learner already has an open enrollment in program")
	}
	enrollment := &models.Enrollment{UserID: req.UserID, ProgramID: req.ProgramID, Status: models.EnrollmentStatusPending, CreatedAt: time.Now().UTC()}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.audit.Record(&models.AuditLog{
		UserID:     &enrollment.UserID,
		Action:     models.AuditActionEnrollmentCreated,
		Resource:   "enrollment",
		ResourceID: &enrollment.ID,
		NewValues:  statusPayload("", enrollment.Status),
	})
	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Confirm applies the pathway-confirmed event, moving pending to confirmed
// once checkout (or sponsorship paperwork) settles the funding pathway.
func (s *EnrollmentService) Confirm(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	return s.applyEventByID(ctx, enrollmentID, models.EventPathwayConfirmed)
}

// Activate applies the activation event after staff document review, or
// automatically once a self-pay payment clears.
func (s *EnrollmentService) Activate(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	return s.applyEventByID(ctx, enrollmentID, models.EventActivated)
}

// Withdraw moves the enrollment into its terminal state. Irreversible.
func (s *EnrollmentService) Withdraw(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	return s.applyEventByID(ctx, enrollmentID, models.EventWithdrawn)
}

// OrientationComplete handles the "orientation completed" trigger for a
// learner's most recent enrollment.
func (s *EnrollmentService) OrientationComplete(ctx context.Context, req EventRequest) (*models.Enrollment, error) {
	return s.applyEventForUser(ctx, req, models.EventOrientationComplete)
}

// DocumentsSubmitted handles the "documents submitted" trigger.
func (s *EnrollmentService) DocumentsSubmitted(ctx context.Context, req EventRequest) (*models.Enrollment, error) {
	return s.applyEventForUser(ctx, req, models.EventDocumentsSubmitted)
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Detail returns a single enrollment with learner and program context.
func (s *EnrollmentService) Detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

func (s *EnrollmentService) applyEventForUser(ctx context.Context, req EventRequest, event models.EnrollmentEvent) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	var (
		enrollment *models.Enrollment
		err        error
	)
	if req.ProgramID != "" {
		enrollment, err = s.repo.FindLatestByUserInProgram(ctx, req.UserID, req.ProgramID)
	} else {
		enrollment, err = s.repo.FindLatestByUser(ctx, req.UserID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no enrollment for learner")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return s.applyEvent(ctx, enrollment, event)
}

func (s *EnrollmentService) applyEventByID(ctx context.Context, id string, event models.EnrollmentEvent) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return s.applyEvent(ctx, enrollment, event)
}

// applyEvent is the single write path for every transition: read state,
// consult the gate, compute the next state, then a compare-and-swap write.
// Re-delivered events that the record already reflects return the current
// state unchanged.
func (s *EnrollmentService) applyEvent(ctx context.Context, enrollment *models.Enrollment, event models.EnrollmentEvent) (*models.Enrollment, error) {
	if eventSatisfied(enrollment, event) {
		s.metrics.ObserveTransition(string(event), TransitionOutcomeNoop)
		return enrollment, nil
	}

	next, err := nextStatus(enrollment.Status, event)
	if err != nil {
		s.metrics.ObserveTransition(string(event), TransitionOutcomeRejected)
		s.recordTransitionAudit(enrollment, event, models.AuditActionTransitionRejected, enrollment.Status)
		return nil, err
	}

	// The stored record is the ordering authority: the documents edge is
	// only legal once orientation is recorded there.
	if event == models.EventDocumentsSubmitted && enrollment.OrientationCompletedAt == nil {
		s.metrics.ObserveTransition(string(event), TransitionOutcomeRejected)
		s.recordTransitionAudit(enrollment, event, models.AuditActionTransitionRejected, enrollment.Status)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "complete orientation first")
	}

	intake, err := s.loadIntake(ctx, enrollment.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanTransition(ctx, enrollment, intake, event); err != nil {
		s.metrics.ObserveTransition(string(event), TransitionOutcomeDenied)
		s.recordTransitionAudit(enrollment, event, models.AuditActionTransitionRejected, enrollment.Status)
		return nil, err
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{ID: enrollment.ID, FromStatus: enrollment.Status, ToStatus: next}
	switch event {
	case models.EventOrientationComplete:
		params.OrientationCompletedAt = &now
	case models.EventDocumentsSubmitted:
		params.DocumentsSubmittedAt = &now
	case models.EventWithdrawn:
		params.WithdrawnAt = &now
	}

	if err := s.repo.TransitionStatus(ctx, params); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrStateConflict.Code {
			s.metrics.ObserveTransition(string(event), TransitionOutcomeConflict)
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist transition")
	}

	s.metrics.ObserveTransition(string(event), TransitionOutcomeApplied)
	s.recordTransitionAudit(enrollment, event, models.AuditActionTransitionApplied, next)

	updated := *enrollment
	updated.Status = next
	switch event {
	case models.EventOrientationComplete:
		if updated.OrientationCompletedAt == nil {
			updated.OrientationCompletedAt = &now
		}
	case models.EventDocumentsSubmitted:
		if updated.DocumentsSubmittedAt == nil {
			updated.DocumentsSubmittedAt = &now
		}
	case models.EventWithdrawn:
		if updated.WithdrawnAt == nil {
			updated.WithdrawnAt = &now
		}
	}
	return &updated, nil
}

func (s *EnrollmentService) loadIntake(ctx context.Context, userID string) (*models.IntakeRecord, error) {
	intake, err := s.intakes.FindByApplicant(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load intake")
	}
	return intake, nil
}

func (s *EnrollmentService) recordTransitionAudit(enrollment *models.Enrollment, event models.EnrollmentEvent, action string, resulting models.EnrollmentStatus) {
	s.audit.Record(&models.AuditLog{
		UserID:     &enrollment.UserID,
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &enrollment.ID,
		OldValues:  statusPayload(string(enrollment.Status), ""),
		NewValues:  eventPayload(event, resulting),
	})
}

func statusPayload(from string, to models.EnrollmentStatus) []byte {
	payload := map[string]string{}
	if from != "" {
		payload["status"] = from
	}
	if to != "" {
		payload["status"] = string(to)
	}
	b, _ := json.Marshal(payload)
	return b
}

func eventPayload(event models.EnrollmentEvent, status models.EnrollmentStatus) []byte {
	b, _ := json.Marshal(map[string]string{"event": string(event), "status": string(status)})
	return b
}
