// Package persistence stores block aggregates: unit rows, part-of edges
// and the position stamps against each unit.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/block/domain"
	"github.com/cultivarhq/cultivar/modules/block/domain/unit"
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	corepersistence "github.com/cultivarhq/cultivar/modules/core/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/repo"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	unitInsertQuery = `
		INSERT INTO units (name, subject_id, description)
		VALUES ($1, $2, $3)
		RETURNING id`

	unitUpdateQuery = `
		UPDATE units SET name = $1, description = $2 WHERE id = $3`

	unitDeleteQuery = `
		DELETE FROM units WHERE id = $1`

	unitEdgeInsertQuery = `
		INSERT INTO aggregate_edges (label, source_id, target_id, attrs)
		VALUES ('UNIT', $1, $2, NULL)`

	unitEdgeDeleteQuery = `
		DELETE FROM aggregate_edges WHERE label = 'UNIT' AND source_id = $1 AND target_id = $2`

	positionInsertQuery = `
		INSERT INTO unit_positions (unit_id, location_id, layout_id, coordinates, start_at, end_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	positionDeleteForUnitQuery = `
		DELETE FROM unit_positions WHERE unit_id = $1`

	blockRootQuery = `
		WITH RECURSIVE up AS (
			SELECT u.id, 0 AS depth
			FROM units u
			WHERE u.id = $1
			UNION ALL
			SELECT e.source_id, up.depth + 1
			FROM aggregate_edges e
			JOIN up ON e.label = 'UNIT' AND e.target_id = up.id
		)
		SELECT id FROM up ORDER BY depth DESC LIMIT 1`

	blockNodesQuery = `
		WITH RECURSIVE down AS (
			SELECT u.id FROM units u WHERE u.id = $1
			UNION
			SELECT e.target_id
			FROM aggregate_edges e
			JOIN down ON e.label = 'UNIT' AND e.source_id = down.id
		)
		SELECT u.id, u.name, u.subject_id, u.description
		FROM units u
		JOIN down ON down.id = u.id
		ORDER BY u.id`

	blockEdgesQuery = `
		SELECT e.source_id, e.target_id
		FROM aggregate_edges e
		WHERE e.label = 'UNIT' AND e.source_id = ANY($1) AND e.target_id = ANY($1)
		ORDER BY e.source_id, e.target_id`

	positionsForUnitsQuery = `
		SELECT unit_id, location_id, layout_id, coordinates, start_at, end_at
		FROM unit_positions
		WHERE unit_id = ANY($1)
		ORDER BY unit_id, start_at, id`
)

type BlockRepository struct {
	guard *corepersistence.Guard
}

func NewBlockRepository(guard *corepersistence.Guard) *BlockRepository {
	return &BlockRepository{guard: guard}
}

// Get loads the block containing unitID, redacted for the acting user.
func (r *BlockRepository) Get(ctx context.Context, unitID int64) (*domain.Block, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var rootID int64
	if err := tx.QueryRow(ctx, blockRootQuery, unitID).Scan(&rootID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serrors.NoResultFound("unit %d not found", unitID)
		}
		return nil, errors.Wrap(err, "failed to resolve block root")
	}

	rows, err := tx.Query(ctx, blockNodesQuery, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query block units")
	}
	scanned, ids, err := scanUnitRows(rows)
	if err != nil {
		return nil, err
	}

	positionRows, err := tx.Query(ctx, positionsForUnitsQuery, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query unit positions")
	}
	positions, err := scanPositionRows(positionRows)
	if err != nil {
		return nil, err
	}

	nodes := make([]domain.HydrateNode, 0, len(scanned))
	for _, row := range scanned {
		nodes = append(nodes, domain.HydrateNode{
			Unit: unit.New(row.name, row.subjectID,
				unit.WithID(row.id), unit.WithDescription(row.description),
				unit.WithPositions(positions[row.id]...)),
		})
	}

	edgeRows, err := tx.Query(ctx, blockEdgesQuery, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query block edges")
	}
	edges, err := scanBlockEdges(edgeRows)
	if err != nil {
		return nil, err
	}

	block, err := domain.Hydrate(nodes, edges)
	if err != nil {
		return nil, err
	}
	redacted, err := r.guard.Redact(ctx, block)
	if err != nil {
		return nil, err
	}
	if redacted == nil {
		return nil, nil
	}
	return redacted.(*domain.Block), nil
}

func (r *BlockRepository) Save(ctx context.Context, block *domain.Block) error {
	return r.guard.Flush(ctx, block, func(txCtx context.Context) error {
		return r.persist(txCtx, block)
	})
}

func (r *BlockRepository) Remove(ctx context.Context, block *domain.Block) error {
	if err := r.guard.EnsureRemovable(ctx, block); err != nil {
		return err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	var keys []access.Key
	for _, u := range block.Units() {
		if _, err := tx.Exec(ctx, unitDeleteQuery, u.ID()); err != nil {
			return errors.Wrap(err, "failed to delete unit")
		}
		keys = append(keys, access.Key{Label: access.LabelUnit, ID: u.ID()})
	}
	return r.guard.DropControls(ctx, keys)
}

func (r *BlockRepository) persist(ctx context.Context, block *domain.Block) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	log := block.Changelog()

	for _, tempID := range log.Added() {
		u, ok := block.GetUnit(tempID)
		if !ok {
			return serrors.InconsistentState("added unit %d not in block", tempID)
		}
		var id int64
		if err := tx.QueryRow(ctx, unitInsertQuery, u.Name(), u.SubjectID(), u.Description()).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert unit")
		}
		if err := block.Rekey(tempID, id); err != nil {
			return err
		}
		if err := insertPositions(ctx, tx, id, u.Positions()); err != nil {
			return err
		}
	}

	for id, fields := range log.Changed() {
		u, ok := block.GetUnit(id)
		if !ok {
			return serrors.InconsistentState("changed unit %d not in block", id)
		}
		for _, field := range fields {
			switch field {
			case "name", "description":
				if _, err := tx.Exec(ctx, unitUpdateQuery, u.Name(), u.Description(), id); err != nil {
					return errors.Wrap(err, "failed to update unit")
				}
			case "positions":
				if _, err := tx.Exec(ctx, positionDeleteForUnitQuery, id); err != nil {
					return errors.Wrap(err, "failed to clear unit positions")
				}
				if err := insertPositions(ctx, tx, id, u.Positions()); err != nil {
					return err
				}
			}
		}
	}

	for _, id := range log.Removed() {
		if _, err := tx.Exec(ctx, unitDeleteQuery, id); err != nil {
			return errors.Wrap(err, "failed to delete unit")
		}
	}
	for _, edge := range log.RemovedEdges() {
		if _, err := tx.Exec(ctx, unitEdgeDeleteQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to delete block edge")
		}
	}
	for _, edge := range log.AddedEdges() {
		if _, err := tx.Exec(ctx, unitEdgeInsertQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to insert block edge")
		}
	}
	return nil
}

func insertPositions(ctx context.Context, tx repo.Tx, unitID int64, positions []unit.Position) error {
	for _, p := range positions {
		if _, err := tx.Exec(ctx, positionInsertQuery, unitID, p.LocationID, p.LayoutID, p.Coordinates, p.Start, p.End); err != nil {
			return errors.Wrap(err, "failed to insert unit position")
		}
	}
	return nil
}

type scannedUnit struct {
	id          int64
	name        string
	subjectID   int64
	description string
}

func scanUnitRows(rows pgx.Rows) ([]scannedUnit, []int64, error) {
	defer rows.Close()
	var (
		out []scannedUnit
		ids []int64
	)
	for rows.Next() {
		var row scannedUnit
		if err := rows.Scan(&row.id, &row.name, &row.subjectID, &row.description); err != nil {
			return nil, nil, errors.Wrap(err, "failed to scan unit row")
		}
		out = append(out, row)
		ids = append(ids, row.id)
	}
	return out, ids, rows.Err()
}

func scanPositionRows(rows pgx.Rows) (map[int64][]unit.Position, error) {
	defer rows.Close()
	out := make(map[int64][]unit.Position)
	for rows.Next() {
		var (
			unitID int64
			p      unit.Position
		)
		if err := rows.Scan(&unitID, &p.LocationID, &p.LayoutID, &p.Coordinates, &p.Start, &p.End); err != nil {
			return nil, errors.Wrap(err, "failed to scan unit position row")
		}
		out[unitID] = append(out[unitID], p)
	}
	return out, rows.Err()
}

func scanBlockEdges(rows pgx.Rows) ([]domain.HydrateEdge, error) {
	defer rows.Close()
	var out []domain.HydrateEdge
	for rows.Next() {
		var e domain.HydrateEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID); err != nil {
			return nil, errors.Wrap(err, "failed to scan block edge")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
