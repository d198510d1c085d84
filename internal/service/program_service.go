package service

import (
	"context"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

type programRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ListActive(ctx context.Context) ([]models.Program, error)
}

// ProgramService exposes the training program catalog.
type ProgramService struct {
	repo programRepository
}

// NewProgramService constructs ProgramService.
func NewProgramService(repo programRepository) *ProgramService {
	return &ProgramService{repo: repo}
}

// ListOpen returns programs currently open for enrollment.
func (s *ProgramService) ListOpen(ctx context.Context) ([]models.Program, error) {
	programs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	return programs, nil
}
