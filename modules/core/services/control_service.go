package services

import (
	"context"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

// GrantControl grants a team control of an entity at a release, or
// moves an existing control to that release.
type GrantControl struct {
	Label    access.Label
	EntityID int64
	TeamID   int64
	Release  access.Release
}

// ChangeRelease changes the release an existing controlling team holds.
type ChangeRelease struct {
	Label    access.Label
	EntityID int64
	TeamID   int64
	Release  access.Release
}

// RevokeControl drops a team's control of an entity.
type RevokeControl struct {
	Label    access.Label
	EntityID int64
	TeamID   int64
}

// ControlService changes the control rows of a single entity. Every
// mutation is gated on the caller holding ADMIN through the entity's
// existing controller.
type ControlService struct {
	access *AccessService
}

func NewControlService(accessService *AccessService) *ControlService {
	return &ControlService{access: accessService}
}

// GetController returns the entity's controller, or Unauthorised when
// the caller cannot read the entity at all.
func (s *ControlService) GetController(ctx context.Context, key access.Key) (*access.Controller, error) {
	var controller *access.Controller
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		controllers, err := s.access.GetControllers(txCtx, key.Label, []int64{key.ID})
		if err != nil {
			return err
		}
		found, ok := controllers[key.ID]
		if !ok {
			return serrors.NoResultFound("no controller for %s %d", key.Label, key.ID)
		}
		userCtx := s.access.UserContext()
		if !found.HasAccess(access.Read, userCtx.UserID, userCtx.TeamsFor(access.Read)) {
			return serrors.Unauthorised("%s %d is not visible", key.Label, key.ID)
		}
		controller = found
		return nil
	})
	return controller, err
}

// SetControl grants a team control of the entity at the given release,
// or moves an existing control to that release.
func (s *ControlService) SetControl(ctx context.Context, key access.Key, teamID int64, release access.Release) error {
	if teamID == 0 {
		return serrors.IllegalOperation("control requires a team")
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		if _, err := s.requireAdmin(txCtx, key); err != nil {
			return err
		}
		userCtx := s.access.UserContext()
		return s.access.SetControls(txCtx, []access.Key{key}, []int64{teamID}, release, userCtx.UserID)
	})
}

// SetRelease changes the release an existing controlling team holds.
// Unknown teams fail NoResultFound rather than silently granting.
func (s *ControlService) SetRelease(ctx context.Context, key access.Key, teamID int64, release access.Release) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		controller, err := s.requireAdmin(txCtx, key)
		if err != nil {
			return err
		}
		if _, ok := controller.Controls[teamID]; !ok {
			return serrors.NoResultFound("team %d does not control %s %d", teamID, key.Label, key.ID)
		}
		userCtx := s.access.UserContext()
		return s.access.SetControls(txCtx, []access.Key{key}, []int64{teamID}, release, userCtx.UserID)
	})
}

// RemoveControl drops a team's control. The last controlling team can
// never be removed; an entity without controls would be unreachable.
func (s *ControlService) RemoveControl(ctx context.Context, key access.Key, teamID int64) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		controller, err := s.requireAdmin(txCtx, key)
		if err != nil {
			return err
		}
		if _, ok := controller.Controls[teamID]; !ok {
			return serrors.NoResultFound("team %d does not control %s %d", teamID, key.Label, key.ID)
		}
		if len(controller.Controls) == 1 {
			return serrors.IllegalOperation("cannot remove the last control from %s %d", key.Label, key.ID)
		}
		return s.access.RemoveControls(txCtx, key.Label, []int64{key.ID}, []int64{teamID})
	})
}

func (s *ControlService) requireAdmin(ctx context.Context, key access.Key) (*access.Controller, error) {
	controllers, err := s.access.GetControllers(ctx, key.Label, []int64{key.ID})
	if err != nil {
		return nil, err
	}
	controller, ok := controllers[key.ID]
	if !ok {
		return nil, serrors.InconsistentState("no controller for %s %d", key.Label, key.ID)
	}
	userCtx := s.access.UserContext()
	if !controller.HasAccess(access.Admin, userCtx.UserID, userCtx.TeamsFor(access.Admin)) {
		return nil, serrors.Unauthorised("user %d lacks ADMIN on %s %d", userCtx.UserID, key.Label, key.ID)
	}
	return controller, nil
}
