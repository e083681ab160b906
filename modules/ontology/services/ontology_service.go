// Package services exposes the ontology use cases: growing term
// hierarchies that datasets and units reference.
package services

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/cultivarhq/cultivar/modules/ontology/domain"
	"github.com/cultivarhq/cultivar/modules/ontology/domain/term"
	"github.com/cultivarhq/cultivar/modules/ontology/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateOntology struct {
	Name        string `validate:"required"`
	Description string
	Synonyms    []string
}

type AddTerm struct {
	Name        string  `validate:"required"`
	Description string
	Synonyms    []string
	BroaderIDs  []int64 `validate:"required,min=1"`
}

type OntologyService struct {
	repo *persistence.OntologyRepository
}

func NewOntologyService(repo *persistence.OntologyRepository) *OntologyService {
	return &OntologyService{repo: repo}
}

func (s *OntologyService) Create(ctx context.Context, cmd CreateOntology) (*domain.Ontology, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, serrors.IllegalOperation("invalid command: %v", err)
	}
	root := term.New(cmd.Name, term.WithDescription(cmd.Description), term.WithSynonyms(cmd.Synonyms...))
	ontology, err := domain.New(root)
	if err != nil {
		return nil, err
	}
	if err := composables.InTx(ctx, func(txCtx context.Context) error {
		return s.repo.Save(txCtx, ontology)
	}); err != nil {
		return nil, err
	}
	return ontology, nil
}

func (s *OntologyService) Get(ctx context.Context, termID int64) (*domain.Ontology, error) {
	var ontology *domain.Ontology
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		ontology, err = s.repo.Get(txCtx, termID)
		return err
	})
	return ontology, err
}

func (s *OntologyService) AddTerm(ctx context.Context, cmd AddTerm) (int64, error) {
	if err := validate.Struct(cmd); err != nil {
		return 0, serrors.IllegalOperation("invalid command: %v", err)
	}
	var id int64
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		ontology, err := s.repo.Get(txCtx, cmd.BroaderIDs[0])
		if err != nil {
			return err
		}
		if ontology == nil {
			return serrors.Unauthorised("term %d is not visible", cmd.BroaderIDs[0])
		}
		t := term.New(cmd.Name, term.WithDescription(cmd.Description), term.WithSynonyms(cmd.Synonyms...))
		if _, err := ontology.AddTerm(t, cmd.BroaderIDs); err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, ontology); err != nil {
			return err
		}
		id = t.ID()
		return nil
	})
	return id, err
}

func (s *OntologyService) Relate(ctx context.Context, broaderID, narrowerID int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		ontology, err := s.repo.Get(txCtx, narrowerID)
		if err != nil {
			return err
		}
		if ontology == nil {
			return serrors.Unauthorised("term %d is not visible", narrowerID)
		}
		if err := ontology.Relate(broaderID, narrowerID); err != nil {
			return err
		}
		return s.repo.Save(txCtx, ontology)
	})
}

func (s *OntologyService) UpdateTerm(ctx context.Context, id int64, name, description string, synonyms []string) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		ontology, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if ontology == nil {
			return serrors.Unauthorised("term %d is not visible", id)
		}
		if err := ontology.UpdateTerm(id, name, description, synonyms); err != nil {
			return err
		}
		return s.repo.Save(txCtx, ontology)
	})
}

func (s *OntologyService) RemoveTerm(ctx context.Context, id int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		ontology, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if ontology == nil {
			return serrors.Unauthorised("term %d is not visible", id)
		}
		if err := ontology.RemoveTerm(id); err != nil {
			return err
		}
		return s.repo.Save(txCtx, ontology)
	})
}
