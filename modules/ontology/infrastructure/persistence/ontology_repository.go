// Package persistence stores ontology aggregates: term rows and the
// specialisation edges between them.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	corepersistence "github.com/cultivarhq/cultivar/modules/core/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/modules/ontology/domain"
	"github.com/cultivarhq/cultivar/modules/ontology/domain/term"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	termInsertQuery = `
		INSERT INTO terms (name, synonyms, description)
		VALUES ($1, $2, $3)
		RETURNING id`

	termUpdateQuery = `
		UPDATE terms SET name = $1, synonyms = $2, description = $3 WHERE id = $4`

	termDeleteQuery = `
		DELETE FROM terms WHERE id = $1`

	termEdgeInsertQuery = `
		INSERT INTO aggregate_edges (label, source_id, target_id, attrs)
		VALUES ('TERM', $1, $2, NULL)`

	termEdgeDeleteQuery = `
		DELETE FROM aggregate_edges WHERE label = 'TERM' AND source_id = $1 AND target_id = $2`

	ontologyRootQuery = `
		WITH RECURSIVE up AS (
			SELECT t.id, 0 AS depth
			FROM terms t
			WHERE t.id = $1
			UNION ALL
			SELECT e.source_id, up.depth + 1
			FROM aggregate_edges e
			JOIN up ON e.label = 'TERM' AND e.target_id = up.id
		)
		SELECT id FROM up ORDER BY depth DESC LIMIT 1`

	ontologyNodesQuery = `
		WITH RECURSIVE down AS (
			SELECT t.id FROM terms t WHERE t.id = $1
			UNION
			SELECT e.target_id
			FROM aggregate_edges e
			JOIN down ON e.label = 'TERM' AND e.source_id = down.id
		)
		SELECT t.id, t.name, t.synonyms, t.description
		FROM terms t
		JOIN down ON down.id = t.id
		ORDER BY t.id`

	ontologyEdgesQuery = `
		SELECT e.source_id, e.target_id
		FROM aggregate_edges e
		WHERE e.label = 'TERM' AND e.source_id = ANY($1) AND e.target_id = ANY($1)
		ORDER BY e.source_id, e.target_id`

	termRefsQuery = `
		SELECT
			(SELECT count(*) FROM datasets WHERE term_id = ANY($1)) +
			(SELECT count(*) FROM units WHERE subject_id = ANY($1))`
)

type OntologyRepository struct {
	guard *corepersistence.Guard
}

func NewOntologyRepository(guard *corepersistence.Guard) *OntologyRepository {
	return &OntologyRepository{guard: guard}
}

// Get loads the ontology containing termID, redacted for the acting
// user.
func (r *OntologyRepository) Get(ctx context.Context, termID int64) (*domain.Ontology, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var rootID int64
	if err := tx.QueryRow(ctx, ontologyRootQuery, termID).Scan(&rootID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serrors.NoResultFound("term %d not found", termID)
		}
		return nil, errors.Wrap(err, "failed to resolve ontology root")
	}

	rows, err := tx.Query(ctx, ontologyNodesQuery, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query ontology terms")
	}
	nodes, ids, err := scanTermRows(rows)
	if err != nil {
		return nil, err
	}

	edgeRows, err := tx.Query(ctx, ontologyEdgesQuery, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query ontology edges")
	}
	edges, err := scanTermEdges(edgeRows)
	if err != nil {
		return nil, err
	}

	var refs int
	if err := tx.QueryRow(ctx, termRefsQuery, ids).Scan(&refs); err != nil {
		return nil, errors.Wrap(err, "failed to count term references")
	}

	ontology, err := domain.Hydrate(nodes, edges, refs)
	if err != nil {
		return nil, err
	}
	redacted, err := r.guard.Redact(ctx, ontology)
	if err != nil {
		return nil, err
	}
	if redacted == nil {
		return nil, nil
	}
	return redacted.(*domain.Ontology), nil
}

func (r *OntologyRepository) Save(ctx context.Context, ontology *domain.Ontology) error {
	return r.guard.Flush(ctx, ontology, func(txCtx context.Context) error {
		return r.persist(txCtx, ontology)
	})
}

func (r *OntologyRepository) Remove(ctx context.Context, ontology *domain.Ontology) error {
	if err := r.guard.EnsureRemovable(ctx, ontology); err != nil {
		return err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	var keys []access.Key
	for _, t := range ontology.Terms() {
		if _, err := tx.Exec(ctx, termDeleteQuery, t.ID()); err != nil {
			return errors.Wrap(err, "failed to delete term")
		}
		keys = append(keys, access.Key{Label: access.LabelTerm, ID: t.ID()})
	}
	return r.guard.DropControls(ctx, keys)
}

func (r *OntologyRepository) persist(ctx context.Context, ontology *domain.Ontology) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	log := ontology.Changelog()

	for _, tempID := range log.Added() {
		t, ok := ontology.GetTerm(tempID)
		if !ok {
			return serrors.InconsistentState("added term %d not in ontology", tempID)
		}
		var id int64
		if err := tx.QueryRow(ctx, termInsertQuery, t.Name(), t.Synonyms(), t.Description()).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert term")
		}
		if err := ontology.Rekey(tempID, id); err != nil {
			return err
		}
	}

	for id := range log.Changed() {
		t, ok := ontology.GetTerm(id)
		if !ok {
			return serrors.InconsistentState("changed term %d not in ontology", id)
		}
		if _, err := tx.Exec(ctx, termUpdateQuery, t.Name(), t.Synonyms(), t.Description(), id); err != nil {
			return errors.Wrap(err, "failed to update term")
		}
	}

	for _, id := range log.Removed() {
		if _, err := tx.Exec(ctx, termDeleteQuery, id); err != nil {
			return errors.Wrap(err, "failed to delete term")
		}
	}
	for _, edge := range log.RemovedEdges() {
		if _, err := tx.Exec(ctx, termEdgeDeleteQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to delete ontology edge")
		}
	}
	for _, edge := range log.AddedEdges() {
		if _, err := tx.Exec(ctx, termEdgeInsertQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to insert ontology edge")
		}
	}
	return nil
}

func scanTermRows(rows pgx.Rows) ([]domain.HydrateNode, []int64, error) {
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
			return nil, nil, errors.Wrap(err, "failed to scan term row")
		}
		out = append(out, domain.HydrateNode{
			Term: term.New(name, term.WithID(id), term.WithSynonyms(synonyms...), term.WithDescription(description)),
		})
		ids = append(ids, id)
	}
	return out, ids, rows.Err()
}

func scanTermEdges(rows pgx.Rows) ([]domain.HydrateEdge, error) {
	defer rows.Close()
	var out []domain.HydrateEdge
	for rows.Next() {
		var e domain.HydrateEdge
		if err := rows.Scan(&e.BroaderID, &e.NarrowerID); err != nil {
			return nil, errors.Wrap(err, "failed to scan ontology edge")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
