// Package persistence carries the controlled repository protocol shared
// by every aggregate repository: redaction on read, authorisation gating
// on write, and control/write-stamp batching on flush.
package persistence

import (
	"context"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

// Tracked is a controlled aggregate whose mutations are recorded in a
// changelog the repository drains at flush time.
type Tracked interface {
	access.ControlledAggregate
	Changelog() *tracking.Changelog
	// ModelKey maps a tracked node id to its controlled-model key; ok is
	// false for nodes that are not controlled models (e.g. dataset
	// records).
	ModelKey(id int64) (access.Key, bool)
}

// AccessGate is the slice of the access service the guard consumes:
// controller lookups, control and write-stamp batching, and the acting
// user's resolved team context.
type AccessGate interface {
	UserContext() *access.UserContext
	DefaultRelease() access.Release
	GetControllers(ctx context.Context, label access.Label, ids []int64) (map[int64]*access.Controller, error)
	GetControllersForAggregate(ctx context.Context, agg access.ControlledAggregate) (access.ControllerMap, error)
	SetControls(ctx context.Context, keys []access.Key, teamIDs []int64, release access.Release, userID int64) error
	RecordWrites(ctx context.Context, keys []access.Key, userID int64) error
	DropControls(ctx context.Context, keys []access.Key) error
}

// Guard wires the access gate into the repository lifecycle.
type Guard struct {
	svc AccessGate
}

func NewGuard(svc AccessGate) *Guard {
	return &Guard{svc: svc}
}

// Redact applies the load-path redaction: fetch controllers for every
// contained controlled model and ask the aggregate for the viewer's
// copy. A nil aggregate (with nil error) means nothing is visible.
func (g *Guard) Redact(ctx context.Context, agg access.ControlledAggregate) (access.ControlledAggregate, error) {
	controllers, err := g.svc.GetControllersForAggregate(ctx, agg)
	if err != nil {
		return nil, err
	}
	userCtx := g.svc.UserContext()
	redacted, ok := agg.Redacted(controllers, userCtx.UserID, userCtx.TeamsFor(access.Read))
	if !ok {
		return nil, nil
	}
	return redacted, nil
}

// Flush runs the commit path for one tracked aggregate:
//
//  1. derive added/changed/removed controlled models from the changelog,
//  2. require CURATE on every changed or removed model,
//  3. run the repository's structural persist step (which reconciles
//     temporary ids),
//  4. set controls on added models using the caller's WRITE teams at the
//     service default release,
//  5. record write stamps for added and changed models,
//
// then resets the changelog.
func (g *Guard) Flush(ctx context.Context, agg Tracked, persist func(context.Context) error) error {
	log := agg.Changelog()
	userCtx := g.svc.UserContext()

	var gatedKeys []access.Key
	changedIDs := log.Changed()
	for id := range changedIDs {
		if key, ok := agg.ModelKey(id); ok {
			gatedKeys = append(gatedKeys, key)
		}
	}
	removedKeys := make([]access.Key, 0)
	for _, id := range log.Removed() {
		if key, ok := agg.ModelKey(id); ok {
			removedKeys = append(removedKeys, key)
		}
	}
	gatedKeys = append(gatedKeys, removedKeys...)

	if err := g.requireCurate(ctx, gatedKeys); err != nil {
		return err
	}

	if err := persist(ctx); err != nil {
		return err
	}

	if err := g.svc.DropControls(ctx, removedKeys); err != nil {
		return err
	}

	var addedKeys []access.Key
	for _, id := range log.Added() {
		if key, ok := agg.ModelKey(id); ok {
			addedKeys = append(addedKeys, key)
		}
	}
	if len(addedKeys) > 0 {
		writeTeams := userCtx.TeamsFor(access.Write)
		if len(writeTeams) == 0 {
			return serrors.Unauthorised("user %d has no write teams to control new entities", userCtx.UserID)
		}
		if err := g.svc.SetControls(ctx, addedKeys, writeTeams, g.svc.DefaultRelease(), userCtx.UserID); err != nil {
			return err
		}
	}

	stamped := addedKeys
	for id := range changedIDs {
		if key, ok := agg.ModelKey(id); ok {
			stamped = append(stamped, key)
		}
	}
	if err := g.svc.RecordWrites(ctx, stamped, userCtx.UserID); err != nil {
		return err
	}

	log.Reset()
	return nil
}

// DropControls removes control rows for entities deleted outside the
// flush path, e.g. whole-aggregate removal.
func (g *Guard) DropControls(ctx context.Context, keys []access.Key) error {
	return g.svc.DropControls(ctx, keys)
}

// EnsureRemovable gates the remove path: the aggregate must not be
// protected and the caller must hold CURATE on every contained model.
func (g *Guard) EnsureRemovable(ctx context.Context, agg access.ControlledAggregate) error {
	if reason := agg.Protected(); reason != "" {
		return serrors.Protected("%s", reason)
	}
	keys := make([]access.Key, 0)
	for _, model := range agg.ControlledModels() {
		keys = append(keys, access.Key{Label: model.Label(), ID: model.ID()})
	}
	return g.requireCurate(ctx, keys)
}

// EnsureAdmin gates entity-level control changes: the caller must hold
// ADMIN via the entity's existing controller, which is returned.
func (g *Guard) EnsureAdmin(ctx context.Context, key access.Key) (*access.Controller, error) {
	controllers, err := g.svc.GetControllers(ctx, key.Label, []int64{key.ID})
	if err != nil {
		return nil, err
	}
	controller, ok := controllers[key.ID]
	if !ok {
		return nil, serrors.InconsistentState("no controller for %s %d", key.Label, key.ID)
	}
	userCtx := g.svc.UserContext()
	if !controller.HasAccess(access.Admin, userCtx.UserID, userCtx.TeamsFor(access.Admin)) {
		return nil, serrors.Unauthorised("user %d lacks ADMIN on %s %d", userCtx.UserID, key.Label, key.ID)
	}
	return controller, nil
}

func (g *Guard) requireCurate(ctx context.Context, keys []access.Key) error {
	if len(keys) == 0 {
		return nil
	}
	byLabel := make(map[access.Label][]int64)
	for _, key := range keys {
		byLabel[key.Label] = append(byLabel[key.Label], key.ID)
	}
	userCtx := g.svc.UserContext()
	curateTeams := userCtx.TeamsFor(access.Curate)
	for label, ids := range byLabel {
		controllers, err := g.svc.GetControllers(ctx, label, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			controller, ok := controllers[id]
			if !ok {
				return serrors.InconsistentState("no controller for %s %d", label, id)
			}
			if !controller.HasAccess(access.Curate, userCtx.UserID, curateTeams) {
				return serrors.Unauthorised("user %d lacks CURATE on %s %d", userCtx.UserID, label, id)
			}
		}
	}
	return nil
}
