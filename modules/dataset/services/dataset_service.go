// Package services exposes the dataset use cases: headers bound to
// ontology terms and the records observed against units.
package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cultivarhq/cultivar/modules/dataset/domain"
	"github.com/cultivarhq/cultivar/modules/dataset/infrastructure/persistence"
	ontologypersistence "github.com/cultivarhq/cultivar/modules/ontology/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateDataset struct {
	Name   string `validate:"required"`
	TermID int64  `validate:"required"`
}

type AddRecord struct {
	DatasetID int64      `validate:"required"`
	UnitID    int64      `validate:"required"`
	Value     string     `validate:"required"`
	Start     time.Time  `validate:"required"`
	End       *time.Time
}

type DatasetService struct {
	repo       *persistence.DatasetRepository
	ontologies *ontologypersistence.OntologyRepository
}

func NewDatasetService(repo *persistence.DatasetRepository, ontologies *ontologypersistence.OntologyRepository) *DatasetService {
	return &DatasetService{repo: repo, ontologies: ontologies}
}

// Create opens a dataset against a visible ontology term.
func (s *DatasetService) Create(ctx context.Context, cmd CreateDataset) (*domain.Dataset, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, serrors.IllegalOperation("invalid command: %v", err)
	}
	var dataset *domain.Dataset
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		ontology, err := s.ontologies.Get(txCtx, cmd.TermID)
		if err != nil {
			return err
		}
		if ontology == nil {
			return serrors.Unauthorised("term %d is not visible", cmd.TermID)
		}
		if _, ok := ontology.GetTerm(cmd.TermID); !ok {
			return serrors.NoResultFound("term %d not found", cmd.TermID)
		}
		dataset, err = domain.New(cmd.Name, cmd.TermID)
		if err != nil {
			return err
		}
		return s.repo.Save(txCtx, dataset)
	})
	if err != nil {
		return nil, err
	}
	return dataset, nil
}

func (s *DatasetService) Get(ctx context.Context, id int64) (*domain.Dataset, error) {
	var dataset *domain.Dataset
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		dataset, err = s.repo.Get(txCtx, id)
		return err
	})
	return dataset, err
}

func (s *DatasetService) AddRecord(ctx context.Context, cmd AddRecord) (int64, error) {
	if err := validate.Struct(cmd); err != nil {
		return 0, serrors.IllegalOperation("invalid command: %v", err)
	}
	var id int64
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		dataset, err := s.repo.Get(txCtx, cmd.DatasetID)
		if err != nil {
			return err
		}
		if dataset == nil {
			return serrors.Unauthorised("dataset %d is not visible", cmd.DatasetID)
		}
		recordID, err := dataset.AddRecord(cmd.UnitID, cmd.Value, cmd.Start, cmd.End)
		if err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, dataset); err != nil {
			return err
		}
		// The save rekeys the temporary record id onto the stored one.
		id = dataset.Changelog().Rekeyed(recordID)
		return nil
	})
	return id, err
}

func (s *DatasetService) UpdateRecord(ctx context.Context, datasetID, recordID int64, value string, start time.Time, end *time.Time) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		dataset, err := s.repo.Get(txCtx, datasetID)
		if err != nil {
			return err
		}
		if dataset == nil {
			return serrors.Unauthorised("dataset %d is not visible", datasetID)
		}
		if err := dataset.UpdateRecord(recordID, value, start, end); err != nil {
			return err
		}
		return s.repo.Save(txCtx, dataset)
	})
}

func (s *DatasetService) RemoveRecord(ctx context.Context, datasetID, recordID int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		dataset, err := s.repo.Get(txCtx, datasetID)
		if err != nil {
			return err
		}
		if dataset == nil {
			return serrors.Unauthorised("dataset %d is not visible", datasetID)
		}
		if err := dataset.RemoveRecord(recordID); err != nil {
			return err
		}
		return s.repo.Save(txCtx, dataset)
	})
}

// RemoveDataset deletes a dataset; it stays protected while records
// remain.
func (s *DatasetService) RemoveDataset(ctx context.Context, id int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		dataset, err := s.repo.Get(txCtx, id)
		if err != nil {
			return err
		}
		if dataset == nil {
			return serrors.Unauthorised("dataset %d is not visible", id)
		}
		return s.repo.Remove(txCtx, dataset)
	})
}
