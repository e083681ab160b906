// Package services exposes the pedigree use cases: founding material,
// derivations and their provenance.
package services

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/cultivarhq/cultivar/modules/germplasm/domain"
	"github.com/cultivarhq/cultivar/modules/germplasm/domain/entry"
	"github.com/cultivarhq/cultivar/modules/germplasm/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreatePedigree struct {
	Name        string `validate:"required"`
	Description string
	Synonyms    []string
}

type AddEntry struct {
	Name        string `validate:"required"`
	Description string
	Synonyms    []string
	// Sources maps existing entry id to how the material derives from it.
	Sources map[int64]SourceInput `validate:"required,min=1"`
}

type SourceInput struct {
	Type        string
	Description string
}

type PedigreeService struct {
	repo *persistence.PedigreeRepository
}

func NewPedigreeService(repo *persistence.PedigreeRepository) *PedigreeService {
	return &PedigreeService{repo: repo}
}

// Create starts a pedigree from founding material.
func (s *PedigreeService) Create(ctx context.Context, cmd CreatePedigree) (*domain.Pedigree, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, serrors.IllegalOperation("invalid command: %v", err)
	}
	root := entry.New(cmd.Name, entry.WithDescription(cmd.Description), entry.WithSynonyms(cmd.Synonyms...))
	pedigree, err := domain.New(root)
	if err != nil {
		return nil, err
	}
	if err := composables.InTx(ctx, func(txCtx context.Context) error {
		return s.repo.Save(txCtx, pedigree)
	}); err != nil {
		return nil, err
	}
	return pedigree, nil
}

func (s *PedigreeService) Get(ctx context.Context, entryID int64) (*domain.Pedigree, error) {
	var pedigree *domain.Pedigree
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		pedigree, err = s.repo.Get(txCtx, entryID)
		return err
	})
	return pedigree, err
}

// AddEntry inserts derived material. Any source entry anchors the load.
func (s *PedigreeService) AddEntry(ctx context.Context, cmd AddEntry) (int64, error) {
	if err := validate.Struct(cmd); err != nil {
		return 0, serrors.IllegalOperation("invalid command: %v", err)
	}
	sources := make(map[int64]domain.Source, len(cmd.Sources))
	var anchor int64
	for id, input := range cmd.Sources {
		kind := input.Type
		if kind == "" {
			kind = string(domain.Unknown)
		}
		sourceType, err := domain.ParseSourceType(kind)
		if err != nil {
			return 0, err
		}
		sources[id] = domain.Source{Type: sourceType, Description: input.Description}
		anchor = id
	}
	var id int64
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		pedigree, err := s.repo.Get(txCtx, anchor)
		if err != nil {
			return err
		}
		if pedigree == nil {
			return serrors.Unauthorised("germplasm entry %d is not visible", anchor)
		}
		e := entry.New(cmd.Name, entry.WithDescription(cmd.Description), entry.WithSynonyms(cmd.Synonyms...))
		if _, err := pedigree.AddEntry(e, sources); err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, pedigree); err != nil {
			return err
		}
		id = e.ID()
		return nil
	})
	return id, err
}

// AddSource records an extra derivation between existing entries.
func (s *PedigreeService) AddSource(ctx context.Context, sourceID, targetID int64, kind, description string) error {
	sourceType, err := domain.ParseSourceType(kind)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		pedigree, err := s.repo.Get(txCtx, targetID)
		if err != nil {
			return err
		}
		if pedigree == nil {
			return serrors.Unauthorised("germplasm entry %d is not visible", targetID)
		}
		if err := pedigree.AddSource(sourceID, targetID, domain.Source{Type: sourceType, Description: description}); err != nil {
			return err
		}
		return s.repo.Save(txCtx, pedigree)
	})
}

func (s *PedigreeService) UpdateEntry(ctx context.Context, id int64, name, description string, synonyms []string) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		pedigree, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if pedigree == nil {
			return serrors.Unauthorised("germplasm entry %d is not visible", id)
		}
		if err := pedigree.UpdateEntry(id, name, description, synonyms); err != nil {
			return err
		}
		return s.repo.Save(txCtx, pedigree)
	})
}

func (s *PedigreeService) RemoveEntry(ctx context.Context, id int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		pedigree, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if pedigree == nil {
			return serrors.Unauthorised("germplasm entry %d is not visible", id)
		}
		if err := pedigree.RemoveEntry(id); err != nil {
			return err
		}
		return s.repo.Save(txCtx, pedigree)
	})
}
