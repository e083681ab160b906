// Package persistence stores pedigree aggregates: germplasm entry rows
// plus typed derivation edges, behind the controlled repository protocol.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	corepersistence "github.com/cultivarhq/cultivar/modules/core/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/modules/germplasm/domain"
	"github.com/cultivarhq/cultivar/modules/germplasm/domain/entry"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	entryInsertQuery = `
		INSERT INTO germplasm (name, synonyms, description)
		VALUES ($1, $2, $3)
		RETURNING id`

	entryUpdateQuery = `
		UPDATE germplasm SET name = $1, synonyms = $2, description = $3 WHERE id = $4`

	entryDeleteQuery = `
		DELETE FROM germplasm WHERE id = $1`

	pedigreeEdgeInsertQuery = `
		INSERT INTO aggregate_edges (label, source_id, target_id, attrs)
		VALUES ('GERMPLASM', $1, $2, $3)`

	pedigreeEdgeUpdateQuery = `
		UPDATE aggregate_edges SET attrs = $3
		WHERE label = 'GERMPLASM' AND source_id = $1 AND target_id = $2`

	pedigreeEdgeDeleteQuery = `
		DELETE FROM aggregate_edges WHERE label = 'GERMPLASM' AND source_id = $1 AND target_id = $2`

	pedigreeRootQuery = `
		WITH RECURSIVE up AS (
			SELECT g.id, 0 AS depth
			FROM germplasm g
			WHERE g.id = $1
			UNION ALL
			SELECT e.source_id, up.depth + 1
			FROM aggregate_edges e
			JOIN up ON e.label = 'GERMPLASM' AND e.target_id = up.id
		)
		SELECT id FROM up ORDER BY depth DESC LIMIT 1`

	pedigreeNodesQuery = `
		WITH RECURSIVE down AS (
			SELECT g.id FROM germplasm g WHERE g.id = $1
			UNION
			SELECT e.target_id
			FROM aggregate_edges e
			JOIN down ON e.label = 'GERMPLASM' AND e.source_id = down.id
		)
		SELECT g.id, g.name, g.synonyms, g.description
		FROM germplasm g
		JOIN down ON down.id = g.id
		ORDER BY g.id`

	pedigreeEdgesQuery = `
		SELECT e.source_id, e.target_id, e.attrs
		FROM aggregate_edges e
		WHERE e.label = 'GERMPLASM' AND e.source_id = ANY($1) AND e.target_id = ANY($1)
		ORDER BY e.source_id, e.target_id`
)

type PedigreeRepository struct {
	guard *corepersistence.Guard
}

func NewPedigreeRepository(guard *corepersistence.Guard) *PedigreeRepository {
	return &PedigreeRepository{guard: guard}
}

// Get loads the pedigree containing entryID, redacted for the acting
// user.
func (r *PedigreeRepository) Get(ctx context.Context, entryID int64) (*domain.Pedigree, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var rootID int64
	if err := tx.QueryRow(ctx, pedigreeRootQuery, entryID).Scan(&rootID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serrors.NoResultFound("germplasm entry %d not found", entryID)
		}
		return nil, errors.Wrap(err, "failed to resolve pedigree root")
	}

	rows, err := tx.Query(ctx, pedigreeNodesQuery, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query pedigree entries")
	}
	nodes, ids, err := scanEntryRows(rows)
	if err != nil {
		return nil, err
	}

	edgeRows, err := tx.Query(ctx, pedigreeEdgesQuery, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query pedigree edges")
	}
	edges, err := scanPedigreeEdges(edgeRows)
	if err != nil {
		return nil, err
	}

	pedigree, err := domain.Hydrate(nodes, edges)
	if err != nil {
		return nil, err
	}
	redacted, err := r.guard.Redact(ctx, pedigree)
	if err != nil {
		return nil, err
	}
	if redacted == nil {
		return nil, nil
	}
	return redacted.(*domain.Pedigree), nil
}

func (r *PedigreeRepository) Save(ctx context.Context, pedigree *domain.Pedigree) error {
	return r.guard.Flush(ctx, pedigree, func(txCtx context.Context) error {
		return r.persist(txCtx, pedigree)
	})
}

func (r *PedigreeRepository) Remove(ctx context.Context, pedigree *domain.Pedigree) error {
	if err := r.guard.EnsureRemovable(ctx, pedigree); err != nil {
		return err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	var keys []access.Key
	for _, e := range pedigree.Entries() {
		if _, err := tx.Exec(ctx, entryDeleteQuery, e.ID()); err != nil {
			return errors.Wrap(err, "failed to delete germplasm entry")
		}
		keys = append(keys, access.Key{Label: access.LabelGermplasm, ID: e.ID()})
	}
	return r.guard.DropControls(ctx, keys)
}

func (r *PedigreeRepository) persist(ctx context.Context, pedigree *domain.Pedigree) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	log := pedigree.Changelog()

	for _, tempID := range log.Added() {
		e, ok := pedigree.GetEntry(tempID)
		if !ok {
			return serrors.InconsistentState("added entry %d not in pedigree", tempID)
		}
		var id int64
		if err := tx.QueryRow(ctx, entryInsertQuery, e.Name(), e.Synonyms(), e.Description()).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert germplasm entry")
		}
		if err := pedigree.Rekey(tempID, id); err != nil {
			return err
		}
	}

	for id := range log.Changed() {
		e, ok := pedigree.GetEntry(id)
		if !ok {
			return serrors.InconsistentState("changed entry %d not in pedigree", id)
		}
		if _, err := tx.Exec(ctx, entryUpdateQuery, e.Name(), e.Synonyms(), e.Description(), id); err != nil {
			return errors.Wrap(err, "failed to update germplasm entry")
		}
	}

	for _, id := range log.Removed() {
		if _, err := tx.Exec(ctx, entryDeleteQuery, id); err != nil {
			return errors.Wrap(err, "failed to delete germplasm entry")
		}
	}
	for _, edge := range log.RemovedEdges() {
		if _, err := tx.Exec(ctx, pedigreeEdgeDeleteQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to delete pedigree edge")
		}
	}
	for _, edge := range log.AddedEdges() {
		source := pedigree.Sources(edge.Target)[edge.Source]
		if _, err := tx.Exec(ctx, pedigreeEdgeInsertQuery, edge.Source, edge.Target, sourceAttrs(source)); err != nil {
			return errors.Wrap(err, "failed to insert pedigree edge")
		}
	}
	for _, edge := range log.ChangedEdges() {
		source := pedigree.Sources(edge.Target)[edge.Source]
		if _, err := tx.Exec(ctx, pedigreeEdgeUpdateQuery, edge.Source, edge.Target, sourceAttrs(source)); err != nil {
			return errors.Wrap(err, "failed to update pedigree edge")
		}
	}
	return nil
}

func sourceAttrs(source domain.Source) map[string]any {
	kind := source.Type
	if kind == "" {
		kind = domain.Unknown
	}
	return map[string]any{"type": string(kind), "description": source.Description}
}

func scanEntryRows(rows pgx.Rows) ([]domain.HydrateNode, []int64, error) {
	defer rows.Close()
	var (
		out []domain.HydrateNode
		ids []int64
	)
	for rows.Next() {
		var (
			id          int64
			name        string
			synonyms    []string
			description string
		)
		if err := rows.Scan(&id, &name, &synonyms, &description); err != nil {
			return nil, nil, errors.Wrap(err, "failed to scan germplasm row")
		}
		out = append(out, domain.HydrateNode{
			Entry: entry.New(name, entry.WithID(id), entry.WithSynonyms(synonyms...), entry.WithDescription(description)),
		})
		ids = append(ids, id)
	}
	return out, ids, rows.Err()
}

func scanPedigreeEdges(rows pgx.Rows) ([]domain.HydrateEdge, error) {
	defer rows.Close()
	var out []domain.HydrateEdge
	for rows.Next() {
		var (
			sourceID int64
			targetID int64
			attrs    map[string]any
		)
		if err := rows.Scan(&sourceID, &targetID, &attrs); err != nil {
			return nil, errors.Wrap(err, "failed to scan pedigree edge")
		}
		kind, _ := attrs["type"].(string)
		description, _ := attrs["description"].(string)
		sourceType, err := domain.ParseSourceType(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.HydrateEdge{
			SourceID: sourceID,
			TargetID: targetID,
			Source:   domain.Source{Type: sourceType, Description: description},
		})
	}
	return out, rows.Err()
}
