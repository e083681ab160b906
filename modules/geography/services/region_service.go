// Package services exposes the region use cases: growing location trees
// and keeping them consistent with the access-control gates.
package services

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/cultivarhq/cultivar/modules/geography/domain"
	"github.com/cultivarhq/cultivar/modules/geography/domain/location"
	"github.com/cultivarhq/cultivar/modules/geography/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateRegion struct {
	Name string `validate:"required"`
	Code string
}

type AddLocation struct {
	ParentID    int64  `validate:"required"`
	Name        string `validate:"required"`
	Kind        string `validate:"required"`
	Code        string
	Description string
}

type RegionService struct {
	repo *persistence.RegionRepository
}

func NewRegionService(repo *persistence.RegionRepository) *RegionService {
	return &RegionService{repo: repo}
}

// Create bootstraps a region from its root country.
func (s *RegionService) Create(ctx context.Context, cmd CreateRegion) (*domain.Region, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, serrors.IllegalOperation("invalid command: %v", err)
	}
	root := location.New(cmd.Name, location.Country, location.WithCode(cmd.Code))
	region, err := domain.New(root)
	if err != nil {
		return nil, err
	}
	if err := composables.InTx(ctx, func(txCtx context.Context) error {
		return s.repo.Save(txCtx, region)
	}); err != nil {
		return nil, err
	}
	return region, nil
}

// Get returns the region containing locationID in the acting user's
// view; nil when nothing is visible.
func (s *RegionService) Get(ctx context.Context, locationID int64) (*domain.Region, error) {
	var region *domain.Region
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		region, err = s.repo.Get(txCtx, locationID)
		return err
	})
	return region, err
}

// AddLocation nests a new location beneath a parent and commits.
func (s *RegionService) AddLocation(ctx context.Context, cmd AddLocation) (int64, error) {
	if err := validate.Struct(cmd); err != nil {
		return 0, serrors.IllegalOperation("invalid command: %v", err)
	}
	var id int64
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		region, err := s.repo.Get(txCtx, cmd.ParentID)
		if err != nil {
			return err
		}
		if region == nil {
			return serrors.Unauthorised("location %d is not visible", cmd.ParentID)
		}
		l := location.New(cmd.Name, location.Type(cmd.Kind),
			location.WithCode(cmd.Code), location.WithDescription(cmd.Description))
		if _, err := region.AddLocation(l, cmd.ParentID); err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, region); err != nil {
			return err
		}
		id = l.ID()
		return nil
	})
	return id, err
}

func (s *RegionService) UpdateLocation(ctx context.Context, id int64, name, code, description string) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		region, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if region == nil {
			return serrors.Unauthorised("location %d is not visible", id)
		}
		if err := region.UpdateLocation(id, name, code, description); err != nil {
			return err
		}
		return s.repo.Save(txCtx, region)
	})
}

func (s *RegionService) MoveLocation(ctx context.Context, id, newParentID int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		region, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if region == nil {
			return serrors.Unauthorised("location %d is not visible", id)
		}
		if err := region.MoveLocation(id, newParentID); err != nil {
			return err
		}
		return s.repo.Save(txCtx, region)
	})
}

func (s *RegionService) RemoveLocation(ctx context.Context, id int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		region, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if region == nil {
			return serrors.Unauthorised("location %d is not visible", id)
		}
		if err := region.RemoveLocation(id); err != nil {
			return err
		}
		return s.repo.Save(txCtx, region)
	})
}

// RemoveRegion deletes the whole region after the removal gates.
func (s *RegionService) RemoveRegion(ctx context.Context, locationID int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		region, err := s.repo.Get(txCtx, locationID)
		if err != nil {
			return err
		}
		if region == nil {
			return serrors.Unauthorised("location %d is not visible", locationID)
		}
		return s.repo.Remove(txCtx, region)
	})
}
