package main

import (
	"context"

	arrangementservices "github.com/cultivarhq/cultivar/modules/arrangement/services"
	blockservices "github.com/cultivarhq/cultivar/modules/block/services"
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	coreservices "github.com/cultivarhq/cultivar/modules/core/services"
	"github.com/cultivarhq/cultivar/modules/core/uow"
	datasetservices "github.com/cultivarhq/cultivar/modules/dataset/services"
	geographyservices "github.com/cultivarhq/cultivar/modules/geography/services"
	germplasmservices "github.com/cultivarhq/cultivar/modules/germplasm/services"
	ontologyservices "github.com/cultivarhq/cultivar/modules/ontology/services"
	organizationpersistence "github.com/cultivarhq/cultivar/modules/organization/infrastructure/persistence"
	organizationservices "github.com/cultivarhq/cultivar/modules/organization/services"
	"github.com/cultivarhq/cultivar/pkg/commandbus"
	"github.com/cultivarhq/cultivar/pkg/composables"
)

type engineServices struct {
	auth         *coreservices.AuthService
	controls     *coreservices.ControlService
	regions      *geographyservices.RegionService
	arrangements *arrangementservices.ArrangementService
	pedigrees    *germplasmservices.PedigreeService
	blocks       *blockservices.BlockService
	ontologies   *ontologyservices.OntologyService
	datasets     *datasetservices.DatasetService
	submissions  *datasetservices.SubmissionService
	files        *datasetservices.FileService
	orgRepo      *organizationpersistence.OrganizationRepository
}

// registerCommands binds every DTO command to its service inside one
// unit of work. The acting agent is read from the dispatch context; a
// missing agent dispatches anonymously.
func registerCommands(bus commandbus.CommandBus, manager *uow.Manager, svcs *engineServices) {
	run := func(ctx context.Context, fn func(ctx context.Context, u *uow.UnitOfWork) error) error {
		agent, err := composables.UseAgent(ctx)
		if err != nil {
			agent = 0
		}
		return manager.Run(ctx, agent, fn)
	}

	bus.Register(func(ctx context.Context, cmd organizationservices.CreateOrganization) error {
		return run(ctx, func(txCtx context.Context, u *uow.UnitOfWork) error {
			svc := organizationservices.NewOrganizationService(svcs.orgRepo, u.Publisher())
			_, err := svc.Create(txCtx, cmd.Name)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd organizationservices.AddTeam) error {
		return run(ctx, func(txCtx context.Context, u *uow.UnitOfWork) error {
			svc := organizationservices.NewOrganizationService(svcs.orgRepo, u.Publisher())
			_, err := svc.AddTeam(txCtx, cmd.ParentID, cmd.Name, cmd.FullName)
			return err
		})
	})

	bus.Register(func(ctx context.Context, cmd coreservices.GrantControl) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			key := access.Key{Label: cmd.Label, ID: cmd.EntityID}
			return svcs.controls.SetControl(txCtx, key, cmd.TeamID, cmd.Release)
		})
	})
	bus.Register(func(ctx context.Context, cmd coreservices.ChangeRelease) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			key := access.Key{Label: cmd.Label, ID: cmd.EntityID}
			return svcs.controls.SetRelease(txCtx, key, cmd.TeamID, cmd.Release)
		})
	})
	bus.Register(func(ctx context.Context, cmd coreservices.RevokeControl) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			key := access.Key{Label: cmd.Label, ID: cmd.EntityID}
			return svcs.controls.RemoveControl(txCtx, key, cmd.TeamID)
		})
	})

	bus.Register(func(ctx context.Context, cmd geographyservices.CreateRegion) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.regions.Create(txCtx, cmd)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd geographyservices.AddLocation) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.regions.AddLocation(txCtx, cmd)
			return err
		})
	})

	bus.Register(func(ctx context.Context, cmd arrangementservices.CreateArrangement) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.arrangements.Create(txCtx, cmd)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd arrangementservices.AddLayout) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.arrangements.AddLayout(txCtx, cmd)
			return err
		})
	})

	bus.Register(func(ctx context.Context, cmd germplasmservices.CreatePedigree) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.pedigrees.Create(txCtx, cmd)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd germplasmservices.AddEntry) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.pedigrees.AddEntry(txCtx, cmd)
			return err
		})
	})

	bus.Register(func(ctx context.Context, cmd blockservices.CreateBlock) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.blocks.Create(txCtx, cmd)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd blockservices.AddUnit) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.blocks.AddUnit(txCtx, cmd)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd blockservices.PositionUnit) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			return svcs.blocks.Position(txCtx, cmd)
		})
	})

	bus.Register(func(ctx context.Context, cmd ontologyservices.CreateOntology) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.ontologies.Create(txCtx, cmd)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd ontologyservices.AddTerm) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.ontologies.AddTerm(txCtx, cmd)
			return err
		})
	})

	bus.Register(func(ctx context.Context, cmd datasetservices.CreateDataset) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.datasets.Create(txCtx, cmd)
			return err
		})
	})
	bus.Register(func(ctx context.Context, cmd datasetservices.AddRecord) error {
		return run(ctx, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			_, err := svcs.datasets.AddRecord(txCtx, cmd)
			return err
		})
	})

	// Submissions arrive from outside the engine, so the command carries
	// its own credentials instead of reading the dispatch context.
	bus.Register(func(ctx context.Context, cmd datasetservices.SubmitDataset) error {
		agentID, err := svcs.auth.Authenticate(ctx, cmd.Identity, cmd.Token)
		if err != nil {
			return err
		}
		_, err = svcs.submissions.Submit(composables.WithAgent(ctx, agentID), agentID, cmd.SubmissionID, cmd.Payload)
		return err
	})

	bus.Register(func(ctx context.Context, cmd datasetservices.BeginUpload) error {
		agent, err := composables.UseAgent(ctx)
		if err != nil {
			agent = 0
		}
		return svcs.files.Begin(ctx, agent, cmd.UploadID, cmd.Filename)
	})
	bus.Register(func(ctx context.Context, cmd datasetservices.FinishUpload) error {
		if len(cmd.Errors) > 0 {
			return svcs.files.Fail(ctx, cmd.UploadID, cmd.Errors)
		}
		return svcs.files.Complete(ctx, cmd.UploadID, cmd.FileID)
	})
}
