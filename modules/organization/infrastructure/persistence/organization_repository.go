// Package persistence stores organization trees: team rows, the edge set
// between them and the per-team affiliation rows.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/organization/domain"
	"github.com/cultivarhq/cultivar/modules/organization/domain/team"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/repo"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	teamInsertQuery = `
		INSERT INTO teams (name, full_name)
		VALUES ($1, $2)
		RETURNING id`

	teamUpdateQuery = `
		UPDATE teams SET name = $1, full_name = $2 WHERE id = $3`

	teamDeleteQuery = `
		DELETE FROM teams WHERE id = $1`

	teamEdgeInsertQuery = `
		INSERT INTO team_edges (parent_id, child_id)
		VALUES ($1, $2)`

	teamEdgeDeleteQuery = `
		DELETE FROM team_edges WHERE parent_id = $1 AND child_id = $2`

	affiliationInsertQuery = `
		INSERT INTO affiliations (team_id, level, user_id, authorisation, heritable)
		VALUES ($1, $2, $3, $4, $5)`

	affiliationDeleteForTeamQuery = `
		DELETE FROM affiliations WHERE team_id = $1`

	rootForTeamQuery = `
		WITH RECURSIVE up AS (
			SELECT t.id, 0 AS depth
			FROM teams t
			WHERE t.id = $1
			UNION ALL
			SELECT e.parent_id, up.depth + 1
			FROM team_edges e
			JOIN up ON e.child_id = up.id
		)
		SELECT id FROM up ORDER BY depth DESC LIMIT 1`

	subtreeQuery = `
		WITH RECURSIVE down AS (
			SELECT t.id, t.name, t.full_name, NULL::bigint AS parent_id, 0 AS depth
			FROM teams t
			WHERE t.id = $1
			UNION ALL
			SELECT t.id, t.name, t.full_name, e.parent_id, down.depth + 1
			FROM team_edges e
			JOIN down ON e.parent_id = down.id
			JOIN teams t ON t.id = e.child_id
		)
		SELECT id, name, full_name, parent_id FROM down ORDER BY depth, id`

	affiliationsForTeamsQuery = `
		SELECT team_id, level, user_id, authorisation, heritable
		FROM affiliations
		WHERE team_id = ANY($1)
		ORDER BY team_id, level, user_id`

	teamsForUserQuery = `
		SELECT DISTINCT team_id FROM affiliations WHERE user_id = $1`
)

// OrganizationRepository loads and saves organization aggregates. Loading
// walks up from any team to the root, then rebuilds the subtree
// parents-first; saving drains the aggregate's changelog.
type OrganizationRepository struct{}

func NewOrganizationRepository() *OrganizationRepository {
	return &OrganizationRepository{}
}

// Create persists a freshly bootstrapped organization.
func (r *OrganizationRepository) Create(ctx context.Context, org *domain.Organization) error {
	return r.Save(ctx, org)
}

// GetByTeamID loads the organization containing the given team.
func (r *OrganizationRepository) GetByTeamID(ctx context.Context, teamID int64) (*domain.Organization, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var rootID int64
	if err := tx.QueryRow(ctx, rootForTeamQuery, teamID).Scan(&rootID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serrors.NoResultFound("team %d not found", teamID)
		}
		return nil, errors.Wrap(err, "failed to resolve organization root")
	}
	return r.GetByRootID(ctx, rootID)
}

// GetByRootID loads the organization rooted at the given team.
func (r *OrganizationRepository) GetByRootID(ctx context.Context, rootID int64) (*domain.Organization, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, subtreeQuery, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query organization teams")
	}
	hydrate, ids, err := scanTeamRows(rows)
	if err != nil {
		return nil, err
	}
	if len(hydrate) == 0 {
		return nil, serrors.NoResultFound("organization %d not found", rootID)
	}

	affRows, err := tx.Query(ctx, affiliationsForTeamsQuery, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query affiliations")
	}
	affiliations, err := scanAffiliationRows(affRows)
	if err != nil {
		return nil, err
	}
	for _, row := range hydrate {
		if a, ok := affiliations[row.Team.ID()]; ok {
			for level, byUser := range a {
				for userID, aff := range byUser {
					row.Team.Affiliations().Set(level, userID, aff)
				}
			}
		}
	}
	return domain.Hydrate(hydrate)
}

// GetByUserID loads every organization where the user holds any
// affiliation row, at any level or authorisation.
func (r *OrganizationRepository) GetByUserID(ctx context.Context, userID int64) ([]*domain.Organization, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	rows, err := tx.Query(ctx, teamsForUserQuery, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query user teams")
	}
	teamIDs, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}

	rootIDs := make([]int64, 0)
	seen := make(map[int64]bool)
	for _, teamID := range teamIDs {
		var rootID int64
		if err := tx.QueryRow(ctx, rootForTeamQuery, teamID).Scan(&rootID); err != nil {
			return nil, errors.Wrap(err, "failed to resolve organization root")
		}
		if !seen[rootID] {
			seen[rootID] = true
			rootIDs = append(rootIDs, rootID)
		}
	}

	out := make([]*domain.Organization, 0, len(rootIDs))
	for _, rootID := range rootIDs {
		org, err := r.GetByRootID(ctx, rootID)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}

// Save drains the aggregate's changelog: new teams are inserted and
// rekeyed to their store ids, dirty teams updated, removed teams and
// edge diffs applied, then the log resets.
func (r *OrganizationRepository) Save(ctx context.Context, org *domain.Organization) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	log := org.Changelog()

	for _, tempID := range log.Added() {
		t, ok := org.GetTeam(tempID)
		if !ok {
			return serrors.InconsistentState("added team %d not in organization", tempID)
		}
		var id int64
		if err := tx.QueryRow(ctx, teamInsertQuery, t.Name(), t.FullName()).Scan(&id); err != nil {
			return errors.Wrap(err, "failed to insert team")
		}
		if err := org.Rekey(tempID, id); err != nil {
			return err
		}
		if err := insertAffiliations(ctx, tx, id, t.Affiliations()); err != nil {
			return err
		}
	}

	for id, fields := range log.Changed() {
		t, ok := org.GetTeam(id)
		if !ok {
			return serrors.InconsistentState("changed team %d not in organization", id)
		}
		for _, field := range fields {
			switch field {
			case "name", "fullname":
				if _, err := tx.Exec(ctx, teamUpdateQuery, t.Name(), t.FullName(), id); err != nil {
					return errors.Wrap(err, "failed to update team")
				}
			case "affiliations":
				if _, err := tx.Exec(ctx, affiliationDeleteForTeamQuery, id); err != nil {
					return errors.Wrap(err, "failed to clear affiliations")
				}
				if err := insertAffiliations(ctx, tx, id, t.Affiliations()); err != nil {
					return err
				}
			}
		}
	}

	for _, id := range log.Removed() {
		if _, err := tx.Exec(ctx, teamDeleteQuery, id); err != nil {
			return errors.Wrap(err, "failed to delete team")
		}
	}
	for _, edge := range log.RemovedEdges() {
		if _, err := tx.Exec(ctx, teamEdgeDeleteQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to delete team edge")
		}
	}
	for _, edge := range log.AddedEdges() {
		if _, err := tx.Exec(ctx, teamEdgeInsertQuery, edge.Source, edge.Target); err != nil {
			return errors.Wrap(err, "failed to insert team edge")
		}
	}

	log.Reset()
	return nil
}

// Delete removes an entire organization subtree. Affiliations and edges
// cascade from the team rows.
func (r *OrganizationRepository) Delete(ctx context.Context, org *domain.Organization) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	// Leaves first so edge cascades never orphan a child row.
	teams := org.Teams()
	for i := len(teams) - 1; i >= 0; i-- {
		if _, err := tx.Exec(ctx, teamDeleteQuery, teams[i].ID()); err != nil {
			return errors.Wrap(err, "failed to delete team")
		}
	}
	return nil
}

// AccessTeams implements the organization source consulted by the access
// service: the union of the user's effective access-team sets across
// every organization they appear in.
func (r *OrganizationRepository) AccessTeams(ctx context.Context, userID int64) (map[access.Access][]int64, error) {
	orgs, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[access.Access][]int64)
	for _, org := range orgs {
		for level, teams := range org.AccessTeams(userID) {
			out[level] = append(out[level], teams...)
		}
	}
	return out, nil
}

func insertAffiliations(ctx context.Context, tx repo.Tx, teamID int64, affiliations team.Affiliations) error {
	for level, byUser := range affiliations {
		for userID, aff := range byUser {
			if _, err := tx.Exec(ctx, affiliationInsertQuery, teamID, string(level), userID, string(aff.Authorisation), aff.Heritable); err != nil {
				return errors.Wrap(err, "failed to insert affiliation")
			}
		}
	}
	return nil
}

func scanTeamRows(rows pgx.Rows) ([]domain.HydrateRow, []int64, error) {
	defer rows.Close()
	var (
		out []domain.HydrateRow
		ids []int64
	)
	for rows.Next() {
		var (
			id       int64
			name     string
			fullName string
			parentID *int64
		)
		if err := rows.Scan(&id, &name, &fullName, &parentID); err != nil {
			return nil, nil, errors.Wrap(err, "failed to scan team row")
		}
		out = append(out, domain.HydrateRow{
			Team:     team.New(name, team.WithID(id), team.WithFullName(fullName)),
			ParentID: parentID,
		})
		ids = append(ids, id)
	}
	return out, ids, rows.Err()
}

func scanAffiliationRows(rows pgx.Rows) (map[int64]team.Affiliations, error) {
	defer rows.Close()
	out := make(map[int64]team.Affiliations)
	for rows.Next() {
		var (
			teamID        int64
			level         string
			userID        int64
			authorisation string
			heritable     bool
		)
		if err := rows.Scan(&teamID, &level, &userID, &authorisation, &heritable); err != nil {
			return nil, errors.Wrap(err, "failed to scan affiliation row")
		}
		lvl, err := access.ParseAccess(level)
		if err != nil {
			return nil, err
		}
		auth, err := access.ParseAuthorisation(authorisation)
		if err != nil {
			return nil, err
		}
		if out[teamID] == nil {
			out[teamID] = team.NewAffiliations()
		}
		out[teamID].Set(lvl, userID, team.Affiliation{Authorisation: auth, Heritable: heritable})
	}
	return out, rows.Err()
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
