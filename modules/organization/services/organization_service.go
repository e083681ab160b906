// Package services exposes the organization use cases: bootstrapping
// organizations, shaping the team tree, and the affiliation lifecycle.
package services

import (
	"context"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/modules/organization/domain"
	"github.com/cultivarhq/cultivar/modules/organization/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/eventbus"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

type CreateOrganization struct {
	Name string
}

type AddTeam struct {
	ParentID int64
	Name     string
	FullName string
}

type OrganizationService struct {
	repo      *persistence.OrganizationRepository
	publisher eventbus.EventBus
}

func NewOrganizationService(repo *persistence.OrganizationRepository, publisher eventbus.EventBus) *OrganizationService {
	return &OrganizationService{repo: repo, publisher: publisher}
}

// Create bootstraps an organization whose founder is the acting user.
func (s *OrganizationService) Create(ctx context.Context, name string) (*domain.Organization, error) {
	founderID, err := composables.UseAgent(ctx)
	if err != nil {
		return nil, err
	}
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = domain.New(name, founderID)
		if err != nil {
			return err
		}
		return s.repo.Create(txCtx, org)
	})
	if err != nil {
		return nil, err
	}
	s.publishAll(org)
	return org, nil
}

// Get returns the organization containing teamID, redacted to the acting
// user's view. A nil organization means nothing is visible.
func (s *OrganizationService) Get(ctx context.Context, teamID int64) (*domain.Organization, error) {
	viewerID, err := composables.UseAgent(ctx)
	if err != nil {
		return nil, err
	}
	var redacted *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		org, err := s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if r, ok := org.Redacted(viewerID); ok {
			redacted = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redacted, nil
}

// AddTeam places a new team beneath a parent. Only an admin of the
// parent may grow the tree there.
func (s *OrganizationService) AddTeam(ctx context.Context, parentID int64, name, fullName string) (int64, error) {
	actorID, err := composables.UseAgent(ctx)
	if err != nil {
		return 0, err
	}
	var teamID int64
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = s.repo.GetByTeamID(txCtx, parentID)
		if err != nil {
			return err
		}
		if err := requireAdmin(org, parentID, actorID); err != nil {
			return err
		}
		teamID, err = org.AddTeam(name, fullName, parentID)
		if err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, org); err != nil {
			return err
		}
		// Save rekeys the temporary id onto the stored one.
		teamID = org.Changelog().Rekeyed(teamID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.publishAll(org)
	return teamID, nil
}

func (s *OrganizationService) RenameTeam(ctx context.Context, teamID int64, name, fullName string) error {
	actorID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		org, err := s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := requireAdmin(org, teamID, actorID); err != nil {
			return err
		}
		if err := org.RenameTeam(teamID, name, fullName); err != nil {
			return err
		}
		return s.repo.Save(txCtx, org)
	})
}

// RemoveTeam deletes a team; children reattach to its parent.
func (s *OrganizationService) RemoveTeam(ctx context.Context, teamID int64) error {
	actorID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := requireAdmin(org, teamID, actorID); err != nil {
			return err
		}
		if err := org.RemoveTeam(teamID); err != nil {
			return err
		}
		return s.repo.Save(txCtx, org)
	})
	if err != nil {
		return err
	}
	s.publishAll(org)
	return nil
}

func (s *OrganizationService) MoveTeam(ctx context.Context, teamID, newParentID int64) error {
	actorID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		org, err := s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := requireAdmin(org, teamID, actorID); err != nil {
			return err
		}
		if err := requireAdmin(org, newParentID, actorID); err != nil {
			return err
		}
		if err := org.MoveTeam(teamID, newParentID); err != nil {
			return err
		}
		return s.repo.Save(txCtx, org)
	})
}

// RequestAffiliation records the acting user's request for an access
// level on a team.
func (s *OrganizationService) RequestAffiliation(ctx context.Context, teamID int64, level access.Access) error {
	userID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := org.RequestAffiliation(teamID, userID, level); err != nil {
			return err
		}
		return s.repo.Save(txCtx, org)
	})
	if err != nil {
		return err
	}
	s.publishAll(org)
	return nil
}

// AuthoriseAffiliation approves an affiliation; the acting user must
// administer the team.
func (s *OrganizationService) AuthoriseAffiliation(ctx context.Context, teamID, userID int64, level access.Access, heritable bool) error {
	adminID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := org.AuthoriseAffiliation(adminID, teamID, userID, level, heritable); err != nil {
			return err
		}
		return s.repo.Save(txCtx, org)
	})
	if err != nil {
		return err
	}
	s.publishAll(org)
	return nil
}

func (s *OrganizationService) RevokeAffiliation(ctx context.Context, teamID, userID int64, level access.Access) error {
	adminID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := org.RevokeAffiliation(adminID, teamID, userID, level); err != nil {
			return err
		}
		return s.repo.Save(txCtx, org)
	})
	if err != nil {
		return err
	}
	s.publishAll(org)
	return nil
}

func (s *OrganizationService) RemoveAffiliation(ctx context.Context, teamID, userID int64, level access.Access) error {
	actorID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := org.RemoveAffiliation(actorID, teamID, userID, level); err != nil {
			return err
		}
		return s.repo.Save(txCtx, org)
	})
	if err != nil {
		return err
	}
	s.publishAll(org)
	return nil
}

// Split severs a team into a standalone organization, promoting its
// effective admins onto the new root.
func (s *OrganizationService) Split(ctx context.Context, teamID int64) error {
	actorID, err := composables.UseAgent(ctx)
	if err != nil {
		return err
	}
	var org *domain.Organization
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		org, err = s.repo.GetByTeamID(txCtx, teamID)
		if err != nil {
			return err
		}
		if err := requireAdmin(org, teamID, actorID); err != nil {
			return err
		}
		split, err := org.Split(teamID)
		if err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, org); err != nil {
			return err
		}
		return s.repo.Save(txCtx, split)
	})
	if err != nil {
		return err
	}
	s.publishAll(org)
	return nil
}

func (s *OrganizationService) publishAll(org *domain.Organization) {
	if org == nil || s.publisher == nil {
		return
	}
	for _, event := range org.Events() {
		s.publisher.Publish(event)
	}
}

func requireAdmin(org *domain.Organization, teamID, userID int64) error {
	if org.IsAdmin(teamID, userID) {
		return nil
	}
	return serrors.Unauthorised("user %d is not an admin of team %d", userID, teamID)
}
