package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	arrangementpersistence "github.com/cultivarhq/cultivar/modules/arrangement/infrastructure/persistence"
	arrangementservices "github.com/cultivarhq/cultivar/modules/arrangement/services"
	blockpersistence "github.com/cultivarhq/cultivar/modules/block/infrastructure/persistence"
	blockservices "github.com/cultivarhq/cultivar/modules/block/services"
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	corepersistence "github.com/cultivarhq/cultivar/modules/core/infrastructure/persistence"
	coreservices "github.com/cultivarhq/cultivar/modules/core/services"
	"github.com/cultivarhq/cultivar/modules/core/uow"
	datasetpersistence "github.com/cultivarhq/cultivar/modules/dataset/infrastructure/persistence"
	datasetservices "github.com/cultivarhq/cultivar/modules/dataset/services"
	geographypersistence "github.com/cultivarhq/cultivar/modules/geography/infrastructure/persistence"
	geographyservices "github.com/cultivarhq/cultivar/modules/geography/services"
	germplasmpersistence "github.com/cultivarhq/cultivar/modules/germplasm/infrastructure/persistence"
	germplasmservices "github.com/cultivarhq/cultivar/modules/germplasm/services"
	ontologypersistence "github.com/cultivarhq/cultivar/modules/ontology/infrastructure/persistence"
	ontologyservices "github.com/cultivarhq/cultivar/modules/ontology/services"
	organizationpersistence "github.com/cultivarhq/cultivar/modules/organization/infrastructure/persistence"
	"github.com/cultivarhq/cultivar/pkg/commandbus"
	"github.com/cultivarhq/cultivar/pkg/configuration"
	"github.com/cultivarhq/cultivar/pkg/eventbus"
	"github.com/cultivarhq/cultivar/pkg/statestore"
	"github.com/cultivarhq/cultivar/pkg/tokens"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	if err := migrate(conf); err != nil {
		panic(err)
	}

	redisOpts, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		panic(err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Errorf("failed to close redis client: %v", err)
		}
	}()
	store := statestore.NewRedisStore(redisClient, statestore.Options{
		SubmissionTTL:    conf.Retention.Submission,
		CompletedTTL:     conf.Retention.Completed,
		FileTTL:          conf.Retention.File,
		LockoutThreshold: conf.Lockout.Threshold,
		LockoutWindow:    conf.Lockout.Window,
		LockoutDuration:  conf.Lockout.Duration,
	})

	bus := eventbus.NewEventPublisher(logger, conf.Bus.EventWorkers, conf.Bus.EventQueueSize)
	defer bus.Close()

	defaultRelease, err := access.ParseRelease(conf.DefaultRelease)
	if err != nil {
		panic(err)
	}

	orgRepo := organizationpersistence.NewOrganizationRepository()
	accessService := coreservices.NewAccessService(orgRepo, defaultRelease)
	guard := corepersistence.NewGuard(accessService)

	regionRepo := geographypersistence.NewRegionRepository(guard)
	arrangementRepo := arrangementpersistence.NewArrangementRepository(guard)
	pedigreeRepo := germplasmpersistence.NewPedigreeRepository(guard)
	blockRepo := blockpersistence.NewBlockRepository(guard)
	ontologyRepo := ontologypersistence.NewOntologyRepository(guard)
	datasetRepo := datasetpersistence.NewDatasetRepository(guard)

	manager := uow.NewManager(pool, accessService, bus, uow.WithAcquireTimeout(conf.Database.AcquireTimeout))

	svcs := &engineServices{
		auth:         coreservices.NewAuthService(tokens.NewSigner(conf.Tokens), store),
		controls:     coreservices.NewControlService(accessService),
		regions:      geographyservices.NewRegionService(regionRepo),
		arrangements: arrangementservices.NewArrangementService(arrangementRepo),
		pedigrees:    germplasmservices.NewPedigreeService(pedigreeRepo),
		blocks:       blockservices.NewBlockService(blockRepo, arrangementRepo),
		ontologies:   ontologyservices.NewOntologyService(ontologyRepo),
		datasets:     datasetservices.NewDatasetService(datasetRepo, ontologyRepo),
		orgRepo:      orgRepo,
	}
	svcs.submissions = datasetservices.NewSubmissionService(store, svcs.datasets, bus)
	svcs.files = datasetservices.NewFileService(store)

	commands := commandbus.New(logger)
	registerCommands(commands, manager, svcs)

	bus.Subscribe(func(event datasetservices.SubmissionReceived) error {
		return manager.Run(context.Background(), event.AgentID, func(txCtx context.Context, _ *uow.UnitOfWork) error {
			return svcs.submissions.Process(txCtx, event.SubmissionID)
		})
	})

	logger.Info("engine up")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("engine shutting down")
	conf.Unload()
}

func migrate(conf *configuration.Configuration) error {
	db, err := goose.OpenDBWithDriver("pgx", conf.Database.Opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("failed to close migration connection: %v", err)
		}
	}()
	goose.SetTableName("goose_db_version")
	return goose.Up(db, conf.MigrationsDir)
}
