// Package persistence stores region aggregates: location rows plus the
// nesting edges between them, behind the controlled repository protocol.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	corepersistence "github.com/cultivarhq/cultivar/modules/core/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/modules/geography/domain"
	"github.com/cultivarhq/cultivar/modules/geography/domain/location"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	locationInsertQuery = `
		INSERT INTO locations (name, code, kind, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	locationUpdateQuery = `
		UPDATE locations SET name = $1, code = $2, description = $3 WHERE id = $4`

	locationDeleteQuery = `
		DELETE FROM locations WHERE id = $1`

	edgeInsertQuery = `
		INSERT INTO aggregate_edges (label, source_id, target_id, attrs)
		VALUES ($1, $2, $3, $4)`

	edgeDeleteQuery = `
		DELETE FROM aggregate_edges WHERE label = $1 AND source_id = $2 AND target_id = $3`

	regionRootQuery = `
		WITH RECURSIVE up AS (
			SELECT l.id, 0 AS depth
			FROM locations l
			WHERE l.id = $1
			UNION ALL
			SELECT e.source_id, up.depth + 1
			FROM aggregate_edges e
			JOIN up ON e.label = 'LOCATION' AND e.target_id = up.id
		)
		SELECT id FROM up ORDER BY depth DESC LIMIT 1`

	regionSubtreeQuery = `
		WITH RECURSIVE down AS (
			SELECT l.id, l.name, l.code, l.kind, l.description, NULL::bigint AS parent_id, 0 AS depth
			FROM locations l
			WHERE l.id = $1
			UNION ALL
			SELECT l.id, l.name, l.code, l.kind, l.description, e.source_id, down.depth + 1
			FROM aggregate_edges e
			JOIN down ON e.label = 'LOCATION' AND e.source_id = down.id
			JOIN locations l ON l.id = e.target_id
		)
		SELECT id, name, code, kind, description, parent_id FROM down ORDER BY depth, id`
)

// RegionRepository loads regions redacted to the acting user and saves
// them through the authorisation gates.
type RegionRepository struct {
	guard *corepersistence.Guard
}

func NewRegionRepository(guard *corepersistence.Guard) *RegionRepository {
	return &RegionRepository{guard: guard}
}

// Get loads the region containing locationID, redacted for the acting
// user. A nil region means nothing in it is visible.
func (r *RegionRepository) Get(ctx context.Context, locationID int64) (*domain.Region, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var rootID int64
	if err := tx.QueryRow(ctx, regionRootQuery, locationID).Scan(&rootID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serrors.NoResultFound("location %d not found", locationID)
		}
		return nil, errors.Wrap(err, "failed to resolve region root")
	}

	rows, err := tx.Query(ctx, regionSubtreeQuery, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query region")
	}
	hydrate, err := scanLocationRows(rows)
	if err != nil {
		return nil, err
	}
	region, err := domain.Hydrate(hydrate)
	if err != nil {
		return nil, err
	}

	redacted, err := r.guard.Redact(ctx, region)
	if err != nil {
		return nil, err
	}
	if redacted == nil {
		return nil, nil
	}
	return redacted.(*domain.Region), nil
}

// Save runs the commit path: gate, persist structure, control and stamp.
func (r *RegionRepository) Save(ctx context.Context, region *domain.Region) error {
	return r.guard.Flush(ctx, region, func(txCtx context.Context) error {
		return r.persist(txCtx, region)
	})
}

// Remove deletes every location in the region after the removal gates.
func (r *RegionRepository) Remove(ctx context.Context, region *domain.Region) error {
	if err := r.guard.EnsureRemovable(ctx, region); err != nil {
		return err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	var keys []access.Key
	for _, l := range region.Locations() {
		if _, err := tx.Exec(ctx, locationDeleteQuery, l.ID()); err != nil {
			return errors.Wrap(err, "failed to delete location")
		}
		keys = append(keys, access.Key{Label: access.LabelLocation, ID: l.ID()})
	}
	return r.guard.DropControls(ctx, keys)
}

func (r *RegionRepository) persist(ctx context.Context, region *domain.Region) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	log := region.Changelog()

	for _, tempID := range log.Added() {
		l, ok := region.GetLocation(tempID)
		if !ok {
			return serrors.InconsistentState("added location %d not in region", tempID)
		}
		var id int64
		if err := tx.QueryRow(ctx, locationInsertQuery, l.Name(), l.Code(), string(l.Kind()), l.Description()).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert location")
		}
		if err := region.Rekey(tempID, id); err != nil {
			return err
		}
	}

	for id := range log.Changed() {
		l, ok := region.GetLocation(id)
		if !ok {
			return serrors.InconsistentState("changed location %d not in region", id)
		}
		if _, err := tx.Exec(ctx, locationUpdateQuery, l.Name(), l.Code(), l.Description(), id); err != nil {
			return errors.Wrap(err, "failed to update location")
		}
	}

	for _, id := range log.Removed() {
		if _, err := tx.Exec(ctx, locationDeleteQuery, id); err != nil {
			return errors.Wrap(err, "failed to delete location")
		}
	}
	for _, edge := range log.RemovedEdges() {
		if _, err := tx.Exec(ctx, edgeDeleteQuery, access.LabelLocation, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to delete region edge")
		}
	}
	for _, edge := range log.AddedEdges() {
		if _, err := tx.Exec(ctx, edgeInsertQuery, access.LabelLocation, edge.Source, edge.Target, nil); err != nil {
			return errors.Wrap(err, "failed to insert region edge")
		}
	}
	return nil
}

func scanLocationRows(rows pgx.Rows) ([]domain.HydrateRow, error) {
	defer rows.Close()
	var out []domain.HydrateRow
	for rows.Next() {
		var (
			id          int64
			name        string
			code        string
			kind        string
			description string
			parentID    *int64
		)
		if err := rows.Scan(&id, &name, &code, &kind, &description, &parentID); err != nil {
			return nil, errors.Wrap(err, "failed to scan location row")
		}
		out = append(out, domain.HydrateRow{
			Location: location.New(name, location.Type(kind),
				location.WithID(id), location.WithCode(code), location.WithDescription(description)),
			ParentID: parentID,
		})
	}
	return out, rows.Err()
}
