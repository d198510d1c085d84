package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/upliftworks/enrollment-api/internal/models"
)

// SponsorRepository handles persistence of employer sponsors.
type SponsorRepository struct {
	db *sqlx.DB
}

// NewSponsorRepository constructs the repository.
func NewSponsorRepository(db *sqlx.DB) *SponsorRepository {
	return &SponsorRepository{db: db}
}

// FindByID returns a sponsor by identifier.
func (r *SponsorRepository) FindByID(ctx context.Context, id string) (*models.EmployerSponsor, error) {
	const query = `SELECT id, name, active, created_at FROM employer_sponsors WHERE id = $1`
	var sponsor models.EmployerSponsor
	if err := r.db.GetContext(ctx, &sponsor, query, id); err != nil {
		return nil, err
	}
	return &sponsor, nil
}

// List returns all sponsors, active first.
func (r *SponsorRepository) List(ctx context.Context) ([]models.EmployerSponsor, error) {
	const query = `SELECT id, name, active, created_at FROM employer_sponsors ORDER BY active DESC, name ASC`
	var sponsors []models.EmployerSponsor
	if err := r.db.SelectContext(ctx, &sponsors, query); err != nil {
		return nil, fmt.Errorf("list sponsors: %w", err)
	}
	return sponsors, nil
}

// Create persists a new sponsor.
func (r *SponsorRepository) Create(ctx context.Context, sponsor *models.EmployerSponsor) error {
	if sponsor.ID == "" {
		sponsor.ID = uuid.NewString()
	}
	if sponsor.CreatedAt.IsZero() {
		sponsor.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO employer_sponsors (id, name, active, created_at) VALUES (:id, :name, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sponsor); err != nil {
		return fmt.Errorf("create sponsor: %w", err)
	}
	return nil
}

// SetActive toggles a sponsor's active flag.
func (r *SponsorRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE employer_sponsors SET active = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("set sponsor active: %w", err)
	}
	return nil
}
