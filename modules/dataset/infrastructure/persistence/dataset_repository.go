// Package persistence stores dataset aggregates: the controlled header
// row plus its ordered record rows.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	corepersistence "github.com/cultivarhq/cultivar/modules/core/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/modules/dataset/domain"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	datasetInsertQuery = `
		INSERT INTO datasets (term_id, name)
		VALUES ($1, $2)
		RETURNING id`

	datasetUpdateQuery = `
		UPDATE datasets SET name = $1 WHERE id = $2`

	datasetDeleteQuery = `
		DELETE FROM datasets WHERE id = $1`

	datasetSelectQuery = `
		SELECT id, term_id, name FROM datasets WHERE id = $1`

	recordInsertQuery = `
		INSERT INTO dataset_records (dataset_id, unit_id, value, start_at, end_at, ordinal)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	recordUpdateQuery = `
		UPDATE dataset_records SET value = $1, start_at = $2, end_at = $3 WHERE id = $4`

	recordDeleteQuery = `
		DELETE FROM dataset_records WHERE id = $1`

	recordsSelectQuery = `
		SELECT id, unit_id, value, start_at, end_at
		FROM dataset_records
		WHERE dataset_id = $1
		ORDER BY ordinal, id`
)

type DatasetRepository struct {
	guard *corepersistence.Guard
}

func NewDatasetRepository(guard *corepersistence.Guard) *DatasetRepository {
	return &DatasetRepository{guard: guard}
}

// Get loads a dataset with its records, redacted for the acting user. A
// nil dataset means the header is not visible.
func (r *DatasetRepository) Get(ctx context.Context, id int64) (*domain.Dataset, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var (
		datasetID int64
		termID    int64
		name      string
	)
	if err := tx.QueryRow(ctx, datasetSelectQuery, id).Scan(&datasetID, &termID, &name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serrors.NoResultFound("dataset %d not found", id)
		}
		return nil, errors.Wrap(err, "failed to query dataset")
	}

	rows, err := tx.Query(ctx, recordsSelectQuery, datasetID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query dataset records")
	}
	records, err := scanRecordRows(rows)
	if err != nil {
		return nil, err
	}

	dataset := domain.Hydrate(datasetID, termID, name, records)
	redacted, err := r.guard.Redact(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if redacted == nil {
		return nil, nil
	}
	return redacted.(*domain.Dataset), nil
}

func (r *DatasetRepository) Save(ctx context.Context, dataset *domain.Dataset) error {
	return r.guard.Flush(ctx, dataset, func(txCtx context.Context) error {
		return r.persist(txCtx, dataset)
	})
}

func (r *DatasetRepository) Remove(ctx context.Context, dataset *domain.Dataset) error {
	if err := r.guard.EnsureRemovable(ctx, dataset); err != nil {
		return err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	if _, err := tx.Exec(ctx, datasetDeleteQuery, dataset.ID()); err != nil {
		return errors.Wrap(err, "failed to delete dataset")
	}
	return r.guard.DropControls(ctx, []access.Key{{Label: access.LabelDataset, ID: dataset.ID()}})
}

func (r *DatasetRepository) persist(ctx context.Context, dataset *domain.Dataset) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	log := dataset.Changelog()

	// Header first so new records land under the stored dataset id.
	for _, tempID := range log.Added() {
		if _, isHeader := dataset.ModelKey(tempID); !isHeader {
			continue
		}
		var id int64
		if err := tx.QueryRow(ctx, datasetInsertQuery, dataset.TermID(), dataset.Name()).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert dataset")
		}
		if err := dataset.Rekey(tempID, id); err != nil {
			return err
		}
	}
	// Re-read the log: the header now carries its stored id.
	for _, tempID := range log.Added() {
		if _, isHeader := dataset.ModelKey(tempID); isHeader {
			continue
		}
		record, ordinal, ok := findRecord(dataset, tempID)
		if !ok {
			return serrors.InconsistentState("added record %d not in dataset", tempID)
		}
		var id int64
		if err := tx.QueryRow(ctx, recordInsertQuery, dataset.ID(), record.UnitID, record.Value, record.Start, record.End, ordinal).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert dataset record")
		}
		if err := dataset.Rekey(tempID, id); err != nil {
			return err
		}
	}

	for id := range log.Changed() {
		if _, isHeader := dataset.ModelKey(id); isHeader {
			if _, err := tx.Exec(ctx, datasetUpdateQuery, dataset.Name(), id); err != nil {
				return errors.Wrap(err, "failed to update dataset")
			}
			continue
		}
		record, _, ok := findRecord(dataset, id)
		if !ok {
			return serrors.InconsistentState("changed record %d not in dataset", id)
		}
		if _, err := tx.Exec(ctx, recordUpdateQuery, record.Value, record.Start, record.End, id); err != nil {
			return errors.Wrap(err, "failed to update dataset record")
		}
	}

	for _, id := range log.Removed() {
		if _, err := tx.Exec(ctx, recordDeleteQuery, id); err != nil {
			return errors.Wrap(err, "failed to delete dataset record")
		}
	}
	return nil
}

func findRecord(dataset *domain.Dataset, id int64) (domain.Record, int, bool) {
	for i, record := range dataset.Records() {
		if record.ID == id {
			return record, i, true
		}
	}
	return domain.Record{}, 0, false
}

func scanRecordRows(rows pgx.Rows) ([]domain.Record, error) {
	defer rows.Close()
	var out []domain.Record
	for rows.Next() {
		var record domain.Record
		if err := rows.Scan(&record.ID, &record.UnitID, &record.Value, &record.Start, &record.End); err != nil {
			return nil, errors.Wrap(err, "failed to scan dataset record")
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
