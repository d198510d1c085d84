package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, user_id, program_id, status, orientation_completed_at, documents_submitted_at, withdrawn_at, created_at`

// TransitionParams describes a compare-and-swap status update. Timestamps
// are optional audit side-channel data written first-write-wins.
type TransitionParams struct {
	ID                     string
	FromStatus             models.EnrollmentStatus
	ToStatus               models.EnrollmentStatus
	OrientationCompletedAt *time.Time
	DocumentsSubmittedAt   *time.Time
	WithdrawnAt            *time.Time
}

// TransitionStatus moves an enrollment from one status to another. The
// update is conditional on the status observed by the caller: if the row
// changed in between, zero rows match and ErrStateConflict is returned so
// that concurrent duplicate events can never both succeed.
func (r *EnrollmentRepository) TransitionStatus(ctx context.Context, params TransitionParams) error {
	const query = `UPDATE enrollments
        SET status = $3,
            orientation_completed_at = COALESCE(orientation_completed_at, $4),
            documents_submitted_at = COALESCE(documents_submitted_at, $5),
            withdrawn_at = COALESCE(withdrawn_at, $6)
        WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query,
		params.ID,
		params.FromStatus,
		params.ToStatus,
		params.OrientationCompletedAt,
		params.DocumentsSubmittedAt,
		params.WithdrawnAt,
	)
	if err != nil {
		return fmt.Errorf("transition enrollment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition enrollment status: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrStateConflict, "")
	}
	return nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindLatestByUser returns the most recent enrollment for a learner.
func (r *EnrollmentRepository) FindLatestByUser(ctx context.Context, userID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindLatestByUserInProgram returns the most recent enrollment for a
// learner within one program.
func (r *EnrollmentRepository) FindLatestByUserInProgram(ctx context.Context, userID, programID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND program_id = $2 ORDER BY created_at DESC LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, programID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with learner and program context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.user_id, e.program_id, e.status, e.orientation_completed_at, e.documents_submitted_at, e.withdrawn_at, e.created_at,
        u.full_name AS learner_name, u.email AS learner_email, p.name AS program_name, i.funding_pathway
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.user_id
        LEFT JOIN programs p ON p.id = e.program_id
        LEFT JOIN intake_records i ON i.applicant_id = e.user_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.user_id
LEFT JOIN programs p ON p.id = e.program_id
LEFT JOIN intake_records i ON i.applicant_id = e.user_id`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("e.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("e.program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"status":       "e.status",
		"learner_name": "u.full_name",
		"program_name": "p.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.user_id, e.program_id, e.status, e.orientation_completed_at, e.documents_submitted_at, e.withdrawn_at, e.created_at,
        u.full_name AS learner_name, u.email AS learner_email, p.name AS program_name, i.funding_pathway
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ExistsOpen checks whether the learner already has a non-terminal
// enrollment in the program.
func (r *EnrollmentRepository) ExistsOpen(ctx context.Context, userID, programID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE user_id = $1 AND program_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, programID, models.EnrollmentStatusWithdrawn); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record in the pending state.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, user_id, program_id, status, orientation_completed_at, documents_submitted_at, withdrawn_at, created_at)
        VALUES (:id, :user_id, :program_id, :status, :orientation_completed_at, :documents_submitted_at, :withdrawn_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}
