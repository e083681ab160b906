// Package services exposes the block use cases: shaping unit graphs and
// stamping positions validated against their layouts.
package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	arrangementpersistence "github.com/cultivarhq/cultivar/modules/arrangement/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/modules/block/domain"
	"github.com/cultivarhq/cultivar/modules/block/domain/unit"
	"github.com/cultivarhq/cultivar/modules/block/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateBlock struct {
	Name        string `validate:"required"`
	SubjectID   int64  `validate:"required"`
	Description string
}

type AddUnit struct {
	Name        string  `validate:"required"`
	SubjectID   int64   `validate:"required"`
	Description string
	ParentIDs   []int64 `validate:"required,min=1"`
}

type PositionUnit struct {
	UnitID      int64 `validate:"required"`
	LocationID  int64 `validate:"required"`
	LayoutID    *int64
	Coordinates []string
	Start       time.Time `validate:"required"`
	End         *time.Time
}

type BlockService struct {
	repo         *persistence.BlockRepository
	arrangements *arrangementpersistence.ArrangementRepository
}

func NewBlockService(repo *persistence.BlockRepository, arrangements *arrangementpersistence.ArrangementRepository) *BlockService {
	return &BlockService{repo: repo, arrangements: arrangements}
}

// Create starts a block from its root unit.
func (s *BlockService) Create(ctx context.Context, cmd CreateBlock) (*domain.Block, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, serrors.IllegalOperation("invalid command: %v", err)
	}
	root := unit.New(cmd.Name, cmd.SubjectID, unit.WithDescription(cmd.Description))
	block, err := domain.New(root)
	if err != nil {
		return nil, err
	}
	if err := composables.InTx(ctx, func(txCtx context.Context) error {
		return s.repo.Save(txCtx, block)
	}); err != nil {
		return nil, err
	}
	return block, nil
}

func (s *BlockService) Get(ctx context.Context, unitID int64) (*domain.Block, error) {
	var block *domain.Block
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		block, err = s.repo.Get(txCtx, unitID)
		return err
	})
	return block, err
}

// AddUnit inserts a unit beneath one or more parents.
func (s *BlockService) AddUnit(ctx context.Context, cmd AddUnit) (int64, error) {
	if err := validate.Struct(cmd); err != nil {
		return 0, serrors.IllegalOperation("invalid command: %v", err)
	}
	var id int64
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		block, err := s.repo.Get(txCtx, cmd.ParentIDs[0])
		if err != nil {
			return err
		}
		if block == nil {
			return serrors.Unauthorised("unit %d is not visible", cmd.ParentIDs[0])
		}
		u := unit.New(cmd.Name, cmd.SubjectID, unit.WithDescription(cmd.Description))
		if _, err := block.AddUnit(u, cmd.ParentIDs); err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, block); err != nil {
			return err
		}
		id = u.ID()
		return nil
	})
	return id, err
}

// Position stamps a unit at a location. When a layout is named, the
// coordinate tuple is validated against that layout's axes.
func (s *BlockService) Position(ctx context.Context, cmd PositionUnit) error {
	if err := validate.Struct(cmd); err != nil {
		return serrors.IllegalOperation("invalid command: %v", err)
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		if cmd.LayoutID != nil {
			arrangement, err := s.arrangements.Get(txCtx, *cmd.LayoutID)
			if err != nil {
				return err
			}
			if arrangement == nil {
				return serrors.Unauthorised("layout %d is not visible", *cmd.LayoutID)
			}
			l, ok := arrangement.GetLayout(*cmd.LayoutID)
			if !ok {
				return serrors.NoResultFound("layout %d not found", *cmd.LayoutID)
			}
			if err := l.ValidatePosition(cmd.Coordinates); err != nil {
				return err
			}
		}
		block, err := s.repo.Get(txCtx, cmd.UnitID)
		if err != nil {
			return err
		}
		if block == nil {
			return serrors.Unauthorised("unit %d is not visible", cmd.UnitID)
		}
		if err := block.PositionUnit(cmd.UnitID, unit.Position{
			LocationID:  cmd.LocationID,
			LayoutID:    cmd.LayoutID,
			Coordinates: cmd.Coordinates,
			Start:       cmd.Start,
			End:         cmd.End,
		}); err != nil {
			return err
		}
		return s.repo.Save(txCtx, block)
	})
}

func (s *BlockService) UpdateUnit(ctx context.Context, id int64, name, description string) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		block, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if block == nil {
			return serrors.Unauthorised("unit %d is not visible", id)
		}
		if err := block.UpdateUnit(id, name, description); err != nil {
			return err
		}
		return s.repo.Save(txCtx, block)
	})
}

func (s *BlockService) RemoveUnit(ctx context.Context, id int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		block, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if block == nil {
			return serrors.Unauthorised("unit %d is not visible", id)
		}
		if err := block.RemoveUnit(id); err != nil {
			return err
		}
		return s.repo.Save(txCtx, block)
	})
}
