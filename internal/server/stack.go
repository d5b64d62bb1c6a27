package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"

	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/keyvault"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/config"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkvault/internal/server/services"
	"github.com/dmitrijs2005/chunkvault/internal/server/staging"
	"github.com/dmitrijs2005/chunkvault/internal/tokenbroker"
)

const remoteHTTPTimeout = 2 * time.Minute

// openDB is a seam for tests.
var openDB = repomanager.OpenDB

// Stack is the fully wired engine shared by the daemon and the CLI.
type Stack struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Vault    *keyvault.Vault
	Broker   *tokenbroker.Broker
	Files    *services.FileService
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Logger   logging.Logger
}

// NewStack opens the database, applies migrations and wires every
// component described by c.
func NewStack(ctx context.Context, c *config.Config, logger logging.Logger) (*Stack, error) {
	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	st, err := buildStack(ctx, db, repomanager.NewPostgresRepositoryManager(), c, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func buildStack(ctx context.Context, db *sql.DB, rm repomanager.RepositoryManager, c *config.Config, logger logging.Logger) (*Stack, error) {
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	appKey, err := keyvault.DeriveAppKey(c.AppSecret)
	if err != nil {
		return nil, err
	}
	cipher, err := cryptox.NewCipher(c.CipherAlgorithm)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	vault := keyvault.New(appKey, rm.UserKeys(db), logger)

	httpClient := &http.Client{Timeout: remoteHTTPTimeout}
	refresher := tokenbroker.NewOAuthRefresher(oauthConfigs(c), httpClient)
	broker := tokenbroker.New(rm.Accounts(db), vault, refresher, c.TokenSkew, m, logger)

	remotes, err := remoteStores(ctx, c, broker, httpClient)
	if err != nil {
		return nil, err
	}
	configured := make([]string, 0, len(remotes))
	for _, r := range remotes {
		configured = append(configured, r.Backend())
	}
	broker.SetConfigured(configured...)

	local, err := chunkstore.NewLocalStore(c.StoragePath)
	if err != nil {
		return nil, err
	}
	area, err := staging.New(c.StagingPath)
	if err != nil {
		return nil, err
	}

	files, err := services.NewFileService(db, rm, services.FileServiceDeps{
		Vault:    vault,
		Cipher:   cipher,
		Local:    local,
		Remotes:  remotes,
		Selector: broker,
		Staging:  area,
		Metrics:  m,
		Logger:   logger,
	}, services.FileServiceConfig{
		ChunkSize:      c.ChunkSize,
		RetryAttempts:  c.RetryAttempts,
		RetryBaseDelay: c.RetryBaseDelay,
	})
	if err != nil {
		return nil, err
	}

	return &Stack{
		DB:       db,
		Repos:    rm,
		Vault:    vault,
		Broker:   broker,
		Files:    files,
		Metrics:  m,
		Registry: reg,
		Logger:   logger,
	}, nil
}

// oauthConfigs returns the OAuth clients for every backend that has a
// client id configured.
func oauthConfigs(c *config.Config) map[string]*oauth2.Config {
	configs := map[string]*oauth2.Config{}
	if c.GoogleClientID != "" {
		configs[chunkstore.BackendGoogleDrive] = tokenbroker.GoogleConfig(c.GoogleClientID, c.GoogleClientSecret)
	}
	if c.MicrosoftClientID != "" {
		configs[chunkstore.BackendOneDrive] = tokenbroker.MicrosoftConfig(c.MicrosoftClientID, c.MicrosoftClientSecret, c.MicrosoftTenant)
	}
	return configs
}

// remoteStores builds the remote backends enabled in c. Drive and OneDrive
// take their bearer tokens from broker; S3 uses static credentials.
func remoteStores(ctx context.Context, c *config.Config, broker *tokenbroker.Broker, client *http.Client) ([]chunkstore.Store, error) {
	var stores []chunkstore.Store

	if c.GoogleClientID != "" {
		api := chunkstore.NewGoogleDriveAPI(client, "", c.GoogleDriveFolderID)
		stores = append(stores, chunkstore.NewRemoteStore(chunkstore.BackendGoogleDrive, api, broker))
	}
	if c.MicrosoftClientID != "" {
		api := chunkstore.NewOneDriveAPI(client, "")
		stores = append(stores, chunkstore.NewRemoteStore(chunkstore.BackendOneDrive, api, broker))
	}
	if c.S3Bucket != "" {
		api, err := chunkstore.NewS3API(ctx, chunkstore.S3Config{
			Region:       c.S3Region,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
			Prefix:       c.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 init: %w", err)
		}
		stores = append(stores, chunkstore.NewRemoteStore(chunkstore.BackendS3, api, nil))
	}
	return stores, nil
}

// Close releases the database handle.
func (s *Stack) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
