package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/upliftworks/enrollment-api/internal/models"
)

// ProgramRepository handles read access to training programs.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// FindByID returns a program by identifier.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	const query = `SELECT id, name, tuition_cents, active, created_at FROM programs WHERE id = $1`
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		return nil, err
	}
	return &program, nil
}

// ListActive returns programs open for enrollment.
func (r *ProgramRepository) ListActive(ctx context.Context) ([]models.Program, error) {
	const query = `SELECT id, name, tuition_cents, active, created_at FROM programs WHERE active = TRUE ORDER BY name ASC`
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query); err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}
