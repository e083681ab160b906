package services

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	controllerUpsertQuery = `
		INSERT INTO controllers (label, entity_id, team_id, release, set_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (label, entity_id, team_id)
		DO UPDATE SET release = EXCLUDED.release, set_at = EXCLUDED.set_at`

	controlAuditInsertQuery = `
		INSERT INTO control_audits (label, entity_id, team_id, user_id, release, set_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	writeStampInsertQuery = `
		INSERT INTO writes (label, entity_id, user_id, written_at)
		VALUES ($1, $2, $3, now())`

	controllersSelectQuery = `
		SELECT entity_id, team_id, release, set_at
		FROM controllers
		WHERE label = $1 AND entity_id = ANY($2)
		ORDER BY entity_id, team_id`

	controlAuditsSelectQuery = `
		SELECT entity_id, team_id, user_id, release, set_at
		FROM control_audits
		WHERE label = $1 AND entity_id = ANY($2)
		ORDER BY id`

	writesSelectQuery = `
		SELECT entity_id, user_id, written_at
		FROM writes
		WHERE label = $1 AND entity_id = ANY($2)
		ORDER BY written_at, id`

	controllerDeleteQuery = `
		DELETE FROM controllers
		WHERE label = $1 AND entity_id = ANY($2) AND team_id = ANY($3)`

	controllerDeleteAllQuery = `
		DELETE FROM controllers
		WHERE label = $1 AND entity_id = ANY($2)`
)

// OrganizationSource resolves the organizations a user belongs to; the
// access service walks them to build the user's access-team sets.
type OrganizationSource interface {
	AccessTeams(ctx context.Context, userID int64) (map[access.Access][]int64, error)
}

// AccessService answers batched controller lookups keyed by (label, id)
// and carries the acting user's resolved access-team context for the
// lifetime of one unit of work.
type AccessService struct {
	orgs           OrganizationSource
	defaultRelease access.Release
	userCtx        *access.UserContext
}

func NewAccessService(orgs OrganizationSource, defaultRelease access.Release) *AccessService {
	return &AccessService{orgs: orgs, defaultRelease: defaultRelease}
}

// DefaultRelease is the release stamped on controls of newly created
// entities.
func (s *AccessService) DefaultRelease() access.Release { return s.defaultRelease }

// InitializeUserContext resolves the caller's access-team set per access
// level by consulting the persisted organization graph, honouring
// heritable affiliations. A zero user id yields an anonymous context.
func (s *AccessService) InitializeUserContext(ctx context.Context, userID int64) error {
	userCtx := access.NewUserContext(userID)
	if userID != 0 {
		teams, err := s.orgs.AccessTeams(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "failed to resolve access teams")
		}
		userCtx.Teams = teams
	}
	s.userCtx = userCtx
	return nil
}

// UserContext returns the initialised context, or nil before
// InitializeUserContext.
func (s *AccessService) UserContext() *access.UserContext { return s.userCtx }

// TeamsFor is a shorthand over the active user context.
func (s *AccessService) TeamsFor(level access.Access) []int64 {
	return s.userCtx.TeamsFor(level)
}

// SetControls upserts, for every key, one control row per team at the
// given release, appending to the audit trail. No-op on empty keys;
// Unauthorised on empty teams.
func (s *AccessService) SetControls(ctx context.Context, keys []access.Key, teamIDs []int64, release access.Release, userID int64) error {
	if len(keys) == 0 {
		return nil
	}
	if len(teamIDs) == 0 {
		return serrors.Unauthorised("cannot set controls without any control teams")
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	for _, key := range keys {
		for _, teamID := range teamIDs {
			if _, err := tx.Exec(ctx, controllerUpsertQuery, key.Label, key.ID, teamID, release.String(), nowUTC()); err != nil {
				return errors.Wrap(err, "failed to upsert control")
			}
			if _, err := tx.Exec(ctx, controlAuditInsertQuery, key.Label, key.ID, teamID, userID, release.String(), nowUTC()); err != nil {
				return errors.Wrap(err, "failed to append control audit")
			}
		}
	}
	return nil
}

// RecordWrites appends a write stamp per key. No-op on empty keys.
func (s *AccessService) RecordWrites(ctx context.Context, keys []access.Key, userID int64) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	for _, key := range keys {
		if _, err := tx.Exec(ctx, writeStampInsertQuery, key.Label, key.ID, userID); err != nil {
			return errors.Wrap(err, "failed to record write stamp")
		}
	}
	return nil
}

// GetControllers fetches the controllers for the given ids under one
// label. Ids without any control row are absent from the result.
func (s *AccessService) GetControllers(ctx context.Context, label access.Label, ids []int64) (map[int64]*access.Controller, error) {
	out := make(map[int64]*access.Controller)
	if len(ids) == 0 {
		return out, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, controllersSelectQuery, label, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query controllers")
	}
	if err := scanControls(rows, out); err != nil {
		return nil, err
	}

	auditRows, err := tx.Query(ctx, controlAuditsSelectQuery, label, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query control audits")
	}
	if err := scanAudits(auditRows, out); err != nil {
		return nil, err
	}

	writeRows, err := tx.Query(ctx, writesSelectQuery, label, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query write stamps")
	}
	if err := scanWrites(writeRows, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetControllersForAggregate fetches controllers for every controlled
// model in the aggregate, indexed label → id.
func (s *AccessService) GetControllersForAggregate(ctx context.Context, agg access.ControlledAggregate) (access.ControllerMap, error) {
	byLabel := make(map[access.Label][]int64)
	for _, model := range agg.ControlledModels() {
		byLabel[model.Label()] = append(byLabel[model.Label()], model.ID())
	}
	out := make(access.ControllerMap)
	for label, ids := range byLabel {
		controllers, err := s.GetControllers(ctx, label, ids)
		if err != nil {
			return nil, err
		}
		for id, controller := range controllers {
			out.Put(access.Key{Label: label, ID: id}, controller)
		}
	}
	return out, nil
}

// RemoveControls drops specific team controls from the given entities.
// No-op on empty ids or teams.
func (s *AccessService) RemoveControls(ctx context.Context, label access.Label, ids, teamIDs []int64) error {
	if len(ids) == 0 || len(teamIDs) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	if _, err := tx.Exec(ctx, controllerDeleteQuery, label, ids, teamIDs); err != nil {
		return errors.Wrap(err, "failed to remove controls")
	}
	return nil
}

// DropControls removes every control row for deleted entities. The
// audit trail stays behind; only live controls go.
func (s *AccessService) DropControls(ctx context.Context, keys []access.Key) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	byLabel := make(map[access.Label][]int64)
	for _, key := range keys {
		byLabel[key.Label] = append(byLabel[key.Label], key.ID)
	}
	for label, ids := range byLabel {
		if _, err := tx.Exec(ctx, controllerDeleteAllQuery, label, ids); err != nil {
			return errors.Wrap(err, "failed to drop controls")
		}
	}
	return nil
}

func scanControls(rows pgx.Rows, out map[int64]*access.Controller) error {
	defer rows.Close()
	for rows.Next() {
		var (
			entityID int64
			teamID   int64
			release  string
			setAt    timeValue
		)
		if err := rows.Scan(&entityID, &teamID, &release, &setAt.t); err != nil {
			return errors.Wrap(err, "failed to scan control row")
		}
		rel, err := access.ParseRelease(release)
		if err != nil {
			return err
		}
		controller, ok := out[entityID]
		if !ok {
			controller = access.NewController()
			out[entityID] = controller
		}
		controller.Controls[teamID] = access.Control{Release: rel, Time: setAt.t}
	}
	return rows.Err()
}

func scanAudits(rows pgx.Rows, out map[int64]*access.Controller) error {
	defer rows.Close()
	for rows.Next() {
		var (
			entityID int64
			teamID   int64
			userID   int64
			release  string
			setAt    timeValue
		)
		if err := rows.Scan(&entityID, &teamID, &userID, &release, &setAt.t); err != nil {
			return errors.Wrap(err, "failed to scan control audit row")
		}
		rel, err := access.ParseRelease(release)
		if err != nil {
			return err
		}
		controller, ok := out[entityID]
		if !ok {
			continue
		}
		control, ok := controller.Controls[teamID]
		if !ok {
			continue
		}
		control.Audit = append(control.Audit, access.ReleaseStamp{UserID: userID, Release: rel, Time: setAt.t})
		controller.Controls[teamID] = control
	}
	return rows.Err()
}

func scanWrites(rows pgx.Rows, out map[int64]*access.Controller) error {
	defer rows.Close()
	for rows.Next() {
		var (
			entityID  int64
			userID    int64
			writtenAt timeValue
		)
		if err := rows.Scan(&entityID, &userID, &writtenAt.t); err != nil {
			return errors.Wrap(err, "failed to scan write stamp row")
		}
		controller, ok := out[entityID]
		if !ok {
			controller = access.NewController()
			out[entityID] = controller
		}
		controller.Writes = append(controller.Writes, access.WriteStamp{UserID: userID, Time: writtenAt.t})
	}
	return rows.Err()
}
