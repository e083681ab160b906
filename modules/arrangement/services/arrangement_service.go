// Package services exposes the arrangement use cases: building layout
// trees and validating positions within them.
package services

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/cultivarhq/cultivar/modules/arrangement/domain"
	"github.com/cultivarhq/cultivar/modules/arrangement/domain/layout"
	"github.com/cultivarhq/cultivar/modules/arrangement/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateArrangement struct {
	Name       string   `validate:"required"`
	Kind       string   `validate:"required"`
	LocationID int64    `validate:"required"`
	Axes       []string `validate:"required,min=1,dive,required"`
}

type AddLayout struct {
	ParentID   int64    `validate:"required"`
	Name       string   `validate:"required"`
	Kind       string   `validate:"required"`
	LocationID int64    `validate:"required"`
	Axes       []string `validate:"required,min=1,dive,required"`
	Position   []string `validate:"required,min=1"`
}

type ArrangementService struct {
	repo *persistence.ArrangementRepository
}

func NewArrangementService(repo *persistence.ArrangementRepository) *ArrangementService {
	return &ArrangementService{repo: repo}
}

func parseAxes(raw []string) ([]layout.AxisType, error) {
	out := make([]layout.AxisType, 0, len(raw))
	for _, s := range raw {
		axis, err := layout.ParseAxisType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, axis)
	}
	return out, nil
}

// Create bootstraps an arrangement from its root layout.
func (s *ArrangementService) Create(ctx context.Context, cmd CreateArrangement) (*domain.Arrangement, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, serrors.IllegalOperation("invalid command: %v", err)
	}
	axes, err := parseAxes(cmd.Axes)
	if err != nil {
		return nil, err
	}
	root, err := layout.New(cmd.Name, cmd.LocationID, axes, layout.WithKind(cmd.Kind))
	if err != nil {
		return nil, err
	}
	arrangement, err := domain.New(root)
	if err != nil {
		return nil, err
	}
	if err := composables.InTx(ctx, func(txCtx context.Context) error {
		return s.repo.Save(txCtx, arrangement)
	}); err != nil {
		return nil, err
	}
	return arrangement, nil
}

func (s *ArrangementService) Get(ctx context.Context, layoutID int64) (*domain.Arrangement, error) {
	var arrangement *domain.Arrangement
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		arrangement, err = s.repo.Get(txCtx, layoutID)
		return err
	})
	return arrangement, err
}

// AddLayout nests a layout at a position inside its parent and commits.
func (s *ArrangementService) AddLayout(ctx context.Context, cmd AddLayout) (int64, error) {
	if err := validate.Struct(cmd); err != nil {
		return 0, serrors.IllegalOperation("invalid command: %v", err)
	}
	axes, err := parseAxes(cmd.Axes)
	if err != nil {
		return 0, err
	}
	var id int64
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		arrangement, err := s.repo.Get(txCtx, cmd.ParentID)
		if err != nil {
			return err
		}
		if arrangement == nil {
			return serrors.Unauthorised("layout %d is not visible", cmd.ParentID)
		}
		l, err := layout.New(cmd.Name, cmd.LocationID, axes, layout.WithKind(cmd.Kind))
		if err != nil {
			return err
		}
		if _, err := arrangement.AddLayout(l, cmd.ParentID, cmd.Position); err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, arrangement); err != nil {
			return err
		}
		id = l.ID()
		return nil
	})
	return id, err
}

func (s *ArrangementService) MovePosition(ctx context.Context, layoutID int64, position []string) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		arrangement, err := s.repo.Get(txCtx, layoutID)
		if err != nil {
			return err
		}
		if arrangement == nil {
			return serrors.Unauthorised("layout %d is not visible", layoutID)
		}
		if err := arrangement.MovePosition(layoutID, position); err != nil {
			return err
		}
		return s.repo.Save(txCtx, arrangement)
	})
}

func (s *ArrangementService) RemoveLayout(ctx context.Context, layoutID int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		arrangement, err := s.repo.Get(txCtx, layoutID)
		if err != nil {
			return err
		}
		if arrangement == nil {
			return serrors.Unauthorised("layout %d is not visible", layoutID)
		}
		if err := arrangement.RemoveLayout(layoutID); err != nil {
			return err
		}
		return s.repo.Save(txCtx, arrangement)
	})
}

// RemoveArrangement deletes the whole arrangement; protection against
// unit references is enforced on the way out.
func (s *ArrangementService) RemoveArrangement(ctx context.Context, layoutID int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		arrangement, err := s.repo.Get(txCtx, layoutID)
		if err != nil {
			return err
		}
		if arrangement == nil {
			return serrors.Unauthorised("layout %d is not visible", layoutID)
		}
		return s.repo.Remove(txCtx, arrangement)
	})
}
