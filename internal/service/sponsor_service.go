package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/upliftworks/enrollment-api/internal/models"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
)

type sponsorRepository interface {
	FindByID(ctx context.Context, id string) (*models.EmployerSponsor, error)
	List(ctx context.Context) ([]models.EmployerSponsor, error)
	Create(ctx context.Context, sponsor *models.EmployerSponsor) error
	SetActive(ctx context.Context, id string, active bool) error
}

// CreateSponsorRequest describes a new employer sponsor.
type CreateSponsorRequest struct {
	Name string `json:"name" validate:"required"`
}

// SponsorService manages employer sponsor records. Mutations invalidate
// the gate's sponsor cache so compliance checks never act on a stale
// active flag past the cache TTL.
type SponsorService struct {
	repo      sponsorRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSponsorService constructs SponsorService.
func NewSponsorService(repo sponsorRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *SponsorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SponsorService{repo: repo, cache: cache, validator: validate, logger: logger}
}

// List returns all sponsors.
func (s *SponsorService) List(ctx context.Context) ([]models.EmployerSponsor, error) {
	sponsors, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sponsors")
	}
	return sponsors, nil
}

// Create registers a new active sponsor.
func (s *SponsorService) Create(ctx context.Context, req CreateSponsorRequest) (*models.EmployerSponsor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sponsor payload")
	}
	sponsor := &models.EmployerSponsor{Name: req.Name, Active: true}
	if err := s.repo.Create(ctx, sponsor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create sponsor")
	}
	return sponsor, nil
}

// SetActive toggles a sponsor and drops its cached entry.
func (s *SponsorService) SetActive(ctx context.Context, id string, active bool) (*models.EmployerSponsor, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "sponsor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sponsor")
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update sponsor")
	}
	if err := s.cache.Invalidate(ctx, sponsorCacheKey(id)); err != nil {
		s.logger.Warn("failed to invalidate sponsor cache", zap.String("sponsor_id", id), zap.Error(err))
	}
	return s.repo.FindByID(ctx, id)
}
