package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/arkvault/arkvault-backend/internal/db"
	"github.com/arkvault/arkvault-backend/internal/ipfs"
	"github.com/arkvault/arkvault-backend/internal/ledger"
	"github.com/arkvault/arkvault-backend/internal/pending"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/repos"
	"github.com/arkvault/arkvault-backend/internal/services"
)

type Repos struct {
	AssetVersion repos.AssetVersionRepo
	Audit        repos.AuditRepo
}

type Services struct {
	Audit        services.AuditService
	Recovery     services.RecoveryController
	Verification services.VerificationService
	Publish      services.PublishCoordinator
	Delete       services.DeleteService
	Transfer     services.TransferService
}

// App owns every adapter and service. Adapters are constructed once here
// and passed by interface into the services; nothing builds its own
// collaborators per call.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Content  ipfs.ContentStore
	Ledger   ledger.Client
	Pending  pending.Store
	Repos    Repos
	Services Services
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	content, err := ipfs.NewClient(log, cfg.IPFS)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init content store: %w", err)
	}
	chain, err := ledger.NewClient(log, cfg.Ledger)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init ledger client: %w", err)
	}
	staged, err := pending.NewFromEnv(log, cfg.PendingTTL)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init pending store: %w", err)
	}

	reposet := wireRepos(theDB, log)
	serviceset := wireServices(theDB, log, reposet, content, chain, staged)

	return &App{
		Log:      log,
		DB:       theDB,
		Cfg:      cfg,
		Content:  content,
		Ledger:   chain,
		Pending:  staged,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		AssetVersion: repos.NewAssetVersionRepo(db, log),
		Audit:        repos.NewAuditRepo(db, log),
	}
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	r Repos,
	content ipfs.ContentStore,
	chain ledger.Client,
	staged pending.Store,
) Services {
	log.Info("Wiring services...")
	audit := services.NewAuditService(log, r.Audit)
	recovery := services.NewRecoveryController(log, db, r.AssetVersion, content, audit)
	return Services{
		Audit:        audit,
		Recovery:     recovery,
		Verification: services.NewVerificationService(log, db, r.AssetVersion, chain, recovery),
		Publish:      services.NewPublishCoordinator(log, db, r.AssetVersion, content, chain, staged, audit),
		Delete:       services.NewDeleteService(log, db, r.AssetVersion, chain, audit),
		Transfer:     services.NewTransferService(log, db, r.AssetVersion, chain, audit),
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
