// Package persistence stores arrangement aggregates: layout rows plus
// position-carrying edges, behind the controlled repository protocol.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/arrangement/domain"
	"github.com/cultivarhq/cultivar/modules/arrangement/domain/layout"
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	corepersistence "github.com/cultivarhq/cultivar/modules/core/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	layoutInsertQuery = `
		INSERT INTO layouts (name, kind, location_id, axes)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	layoutUpdateQuery = `
		UPDATE layouts SET name = $1 WHERE id = $2`

	layoutDeleteQuery = `
		DELETE FROM layouts WHERE id = $1`

	layoutEdgeInsertQuery = `
		INSERT INTO aggregate_edges (label, source_id, target_id, attrs)
		VALUES ('LAYOUT', $1, $2, $3)`

	layoutEdgeUpdateQuery = `
		UPDATE aggregate_edges SET attrs = $3
		WHERE label = 'LAYOUT' AND source_id = $1 AND target_id = $2`

	layoutEdgeDeleteQuery = `
		DELETE FROM aggregate_edges WHERE label = 'LAYOUT' AND source_id = $1 AND target_id = $2`

	arrangementRootQuery = `
		WITH RECURSIVE up AS (
			SELECT l.id, 0 AS depth
			FROM layouts l
			WHERE l.id = $1
			UNION ALL
			SELECT e.source_id, up.depth + 1
			FROM aggregate_edges e
			JOIN up ON e.label = 'LAYOUT' AND e.target_id = up.id
		)
		SELECT id FROM up ORDER BY depth DESC LIMIT 1`

	arrangementSubtreeQuery = `
		WITH RECURSIVE down AS (
			SELECT l.id, l.name, l.kind, l.location_id, l.axes,
			       NULL::bigint AS parent_id, NULL::jsonb AS attrs, 0 AS depth
			FROM layouts l
			WHERE l.id = $1
			UNION ALL
			SELECT l.id, l.name, l.kind, l.location_id, l.axes,
			       e.source_id, e.attrs, down.depth + 1
			FROM aggregate_edges e
			JOIN down ON e.label = 'LAYOUT' AND e.source_id = down.id
			JOIN layouts l ON l.id = e.target_id
		)
		SELECT id, name, kind, location_id, axes, parent_id, attrs FROM down ORDER BY depth, id`

	layoutUnitRefsQuery = `
		SELECT count(*) FROM unit_positions WHERE layout_id = ANY($1)`
)

type ArrangementRepository struct {
	guard *corepersistence.Guard
}

func NewArrangementRepository(guard *corepersistence.Guard) *ArrangementRepository {
	return &ArrangementRepository{guard: guard}
}

// Get loads the arrangement containing layoutID, redacted for the acting
// user.
func (r *ArrangementRepository) Get(ctx context.Context, layoutID int64) (*domain.Arrangement, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var rootID int64
	if err := tx.QueryRow(ctx, arrangementRootQuery, layoutID).Scan(&rootID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serrors.NoResultFound("layout %d not found", layoutID)
		}
		return nil, errors.Wrap(err, "failed to resolve arrangement root")
	}

	rows, err := tx.Query(ctx, arrangementSubtreeQuery, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query arrangement")
	}
	hydrate, ids, err := scanLayoutRows(rows)
	if err != nil {
		return nil, err
	}

	var unitRefs int
	if err := tx.QueryRow(ctx, layoutUnitRefsQuery, ids).Scan(&unitRefs); err != nil {
		return nil, errors.Wrap(err, "failed to count unit references")
	}

	arrangement, err := domain.Hydrate(hydrate, unitRefs)
	if err != nil {
		return nil, err
	}
	redacted, err := r.guard.Redact(ctx, arrangement)
	if err != nil {
		return nil, err
	}
	if redacted == nil {
		return nil, nil
	}
	return redacted.(*domain.Arrangement), nil
}

func (r *ArrangementRepository) Save(ctx context.Context, arrangement *domain.Arrangement) error {
	return r.guard.Flush(ctx, arrangement, func(txCtx context.Context) error {
		return r.persist(txCtx, arrangement)
	})
}

func (r *ArrangementRepository) Remove(ctx context.Context, arrangement *domain.Arrangement) error {
	if err := r.guard.EnsureRemovable(ctx, arrangement); err != nil {
		return err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	var keys []access.Key
	for _, l := range arrangement.Layouts() {
		if _, err := tx.Exec(ctx, layoutDeleteQuery, l.ID()); err != nil {
			return errors.Wrap(err, "failed to delete layout")
		}
		keys = append(keys, access.Key{Label: access.LabelLayout, ID: l.ID()})
	}
	return r.guard.DropControls(ctx, keys)
}

func (r *ArrangementRepository) persist(ctx context.Context, arrangement *domain.Arrangement) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	log := arrangement.Changelog()

	for _, tempID := range log.Added() {
		l, ok := arrangement.GetLayout(tempID)
		if !ok {
			return serrors.InconsistentState("added layout %d not in arrangement", tempID)
		}
		axes := make([]string, 0, len(l.Axes()))
		for _, axis := range l.Axes() {
			axes = append(axes, string(axis))
		}
		var id int64
		if err := tx.QueryRow(ctx, layoutInsertQuery, l.Name(), l.Kind(), l.LocationID(), axes).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert layout")
		}
		if err := arrangement.Rekey(tempID, id); err != nil {
			return err
		}
	}

	for id := range log.Changed() {
		l, ok := arrangement.GetLayout(id)
		if !ok {
			return serrors.InconsistentState("changed layout %d not in arrangement", id)
		}
		if _, err := tx.Exec(ctx, layoutUpdateQuery, l.Name(), id); err != nil {
			return errors.Wrap(err, "failed to update layout")
		}
	}

	for _, id := range log.Removed() {
		if _, err := tx.Exec(ctx, layoutDeleteQuery, id); err != nil {
			return errors.Wrap(err, "failed to delete layout")
		}
	}
	for _, edge := range log.RemovedEdges() {
		if _, err := tx.Exec(ctx, layoutEdgeDeleteQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to delete arrangement edge")
		}
	}
	for _, edge := range log.AddedEdges() {
		position, _ := arrangement.Position(edge.Target)
		if _, err := tx.Exec(ctx, layoutEdgeInsertQuery, edge.Source, edge.Target, positionAttrs(position)); err != nil {
			return errors.Wrap(err, "failed to insert arrangement edge")
		}
	}
	for _, edge := range log.ChangedEdges() {
		position, _ := arrangement.Position(edge.Target)
		if _, err := tx.Exec(ctx, layoutEdgeUpdateQuery, edge.Source, edge.Target, positionAttrs(position)); err != nil {
			return errors.Wrap(err, "failed to update arrangement edge")
		}
	}
	return nil
}

func positionAttrs(position []string) map[string]any {
	return map[string]any{"position": position}
}

func scanLayoutRows(rows pgx.Rows) ([]domain.HydrateRow, []int64, error) {
	defer rows.Close()
	var (
		out []domain.HydrateRow
		ids []int64
	)
	for rows.Next() {
		var (
			id         int64
			name       string
			kind       string
			locationID int64
			axes       []string
			parentID   *int64
			attrs      map[string]any
		)
		if err := rows.Scan(&id, &name, &kind, &locationID, &axes, &parentID, &attrs); err != nil {
			return nil, nil, errors.Wrap(err, "failed to scan layout row")
		}
		axisTypes := make([]layout.AxisType, 0, len(axes))
		for _, axis := range axes {
			parsed, err := layout.ParseAxisType(axis)
			if err != nil {
				return nil, nil, err
			}
			axisTypes = append(axisTypes, parsed)
		}
		l, err := layout.New(name, locationID, axisTypes, layout.WithID(id), layout.WithKind(kind))
		if err != nil {
			return nil, nil, err
		}
		out = append(out, domain.HydrateRow{
			Layout:   l,
			ParentID: parentID,
			Position: positionFromAttrs(attrs),
		})
		ids = append(ids, id)
	}
	return out, ids, rows.Err()
}

func positionFromAttrs(attrs map[string]any) []string {
	raw, ok := attrs["position"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
