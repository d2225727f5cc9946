package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/fleetworks/api/internal/handlers"
	"github.com/fleetworks/api/internal/platform/auth"
	"github.com/fleetworks/api/internal/platform/config"
	pfirestore "github.com/fleetworks/api/internal/platform/firestore"
	"github.com/fleetworks/api/internal/platform/idempotency"
	"github.com/fleetworks/api/internal/platform/jobs"
	"github.com/fleetworks/api/internal/platform/observability"
	"github.com/fleetworks/api/internal/platform/secrets"
	platformstorage "github.com/fleetworks/api/internal/platform/storage"
	"github.com/fleetworks/api/internal/repositories"
	firestoreRepo "github.com/fleetworks/api/internal/repositories/firestore"
	"github.com/fleetworks/api/internal/services"
)

// exportDownloadTTL matches the signing cap enforced by the storage client.
const exportDownloadTTL = 15 * time.Minute

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	storageClient, err := gcs.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	reportsBucket, err := platformstorage.NewBucket(storageClient, cfg.Storage.ReportsBucket)
	if err != nil {
		logger.Fatal("failed to initialise reports bucket", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	workOrderRepo, err := firestoreRepo.NewWorkOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise work order repository", zap.Error(err))
	}
	catalogRepo, err := firestoreRepo.NewServiceCatalogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise service catalog repository", zap.Error(err))
	}
	reportRepo, err := firestoreRepo.NewTechnicalReportRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise report repository", zap.Error(err))
	}

	var events services.EventPublisher
	if topicName := strings.TrimSpace(cfg.Events.Topic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubReportEventPublisher(pubsubClient.Topic(topicName))
		if err != nil {
			logger.Fatal("failed to initialise report event publisher", zap.Error(err))
		}
		events = publisher
	} else {
		logger.Info("report event topic not configured; lifecycle events disabled")
	}

	imageService, err := services.NewImageService(services.ImageServiceDeps{
		Store:       reportsBucket,
		MaxBytes:    cfg.Reports.ImageMaxBytes,
		MaxPerRole:  cfg.Reports.ImagesPerRole,
		ExportPause: cfg.Reports.ExportImagePause,
	})
	if err != nil {
		logger.Fatal("failed to initialise image service", zap.Error(err))
	}

	reportService, err := services.NewReportService(services.ReportServiceDeps{
		Reports: reportRepo,
		Images:  imageService,
		Events:  events,
	})
	if err != nil {
		logger.Fatal("failed to initialise report service", zap.Error(err))
	}

	exportEngine, err := services.NewExportEngine(services.ExportEngineDeps{Images: imageService})
	if err != nil {
		logger.Fatal("failed to initialise export engine", zap.Error(err))
	}
	exportEngine = wrapWithExportArchive(logger, cfg, storageClient, exportEngine)

	workOrderLookup, err := services.NewWorkOrderLookup(services.WorkOrderLookupDeps{Repository: workOrderRepo})
	if err != nil {
		logger.Fatal("failed to initialise work order lookup", zap.Error(err))
	}
	consolidator, err := services.NewServiceConsolidator(services.ServiceConsolidatorDeps{Catalog: catalogRepo})
	if err != nil {
		logger.Fatal("failed to initialise service consolidator", zap.Error(err))
	}
	wizardService, err := services.NewWizardService(services.WizardServiceDeps{
		Lookup:       workOrderLookup,
		Consolidator: consolidator,
		Reports:      reportService,
		Images:       imageService,
	})
	if err != nil {
		logger.Fatal("failed to initialise wizard service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, storageClient, cfg)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	saveGuard := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)
	reportHandlers := handlers.NewReportHandlers(authenticator, reportService, imageService, exportEngine)
	wizardHandlers := handlers.NewWizardHandlers(authenticator, wizardService, saveGuard)
	workOrderHandlers := handlers.NewWorkOrderHandlers(authenticator, workOrderLookup)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithWizardRoutes(wizardHandlers.Routes),
		handlers.WithReportRoutes(reportHandlers.Routes),
		handlers.WithWorkOrderRoutes(workOrderHandlers.Routes),
		handlers.WithAdditionalRoutes(reportHandlers.CollectionRoutes),
	}

	// The /internal group stays unregistered unless a server-to-server guard
	// is configured; maintenance endpoints are never exposed unauthenticated.
	if internalGuards := buildInternalMiddlewares(logger.Named("auth"), cfg); len(internalGuards) > 0 {
		internalHandlers := handlers.NewInternalHandlers(
			handlers.WithIdempotencyCleanup(idempotencyStore.CleanupExpired, cfg.Idempotency.CleanupBatchSize),
		)
		opts = append(opts,
			handlers.WithInternalRoutes(internalHandlers.Routes),
			handlers.WithInternalMiddlewares(internalGuards...),
		)
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fleetworks api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// wrapWithExportArchive decorates the export engine with an exports-bucket
// archive when one is configured. Without a signer key the copy is still
// written, the response just carries no download link.
func wrapWithExportArchive(logger *zap.Logger, cfg config.Config, client *gcs.Client, engine services.ExportEngine) services.ExportEngine {
	bucketName := strings.TrimSpace(cfg.Storage.ExportsBucket)
	if bucketName == "" {
		return engine
	}

	exportsBucket, err := platformstorage.NewBucket(client, bucketName)
	if err != nil {
		logger.Warn("exports bucket init failed; export archive disabled", zap.Error(err))
		return engine
	}

	var signedURLClient *platformstorage.Client
	if signerKey := strings.TrimSpace(cfg.Storage.SignerKey); signerKey != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
		if err != nil {
			logger.Warn("storage signer key invalid; export links disabled", zap.Error(err))
		} else if signedURLClient, err = platformstorage.NewClient(signer); err != nil {
			logger.Warn("signed url client init failed; export links disabled", zap.Error(err))
			signedURLClient = nil
		}
	}

	archiveLogger := logger.Named("export")
	archived, err := services.NewArchivingExportEngine(services.ArchivingExportEngineDeps{
		Engine: engine,
		Archive: &exportArchive{
			bucket: exportsBucket,
			signed: signedURLClient,
			ttl:    exportDownloadTTL,
		},
		Logger: func(_ context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			archiveLogger.Warn("export archive log", zFields...)
		},
	})
	if err != nil {
		logger.Warn("export archive init failed; streaming exports only", zap.Error(err))
		return engine
	}
	return archived
}

type exportArchive struct {
	bucket *platformstorage.Bucket
	signed *platformstorage.Client
	ttl    time.Duration
}

func (a *exportArchive) Store(ctx context.Context, report services.TechnicalReport, result services.ExportResult) (string, error) {
	object, err := platformstorage.BuildObjectPath(platformstorage.PurposeReportExport, platformstorage.PathParams{
		AuthorID: report.Author,
		ReportID: report.ID,
		FileName: result.FileName,
	})
	if err != nil {
		return "", err
	}
	if _, err := a.bucket.Write(ctx, object, result.ContentType, result.Data); err != nil {
		return "", err
	}
	if a.signed == nil {
		return "", nil
	}

	signed, err := a.signed.SignedURL(ctx, a.bucket.Name(), object, platformstorage.SignedURLOptions{
		Download: &platformstorage.DownloadOptions{
			ExpiresIn:   a.ttl,
			Disposition: fmt.Sprintf("attachment; filename=%q", result.FileName),
			// The signed URL itself is the credential; no caller identity is
			// available once the document leaves the request path.
			AllowAnonymous: true,
		},
	})
	if err != nil {
		return "", err
	}
	return signed.URL, nil
}

func newSystemService(client *firestore.Client, storageClient *gcs.Client, cfg config.Config) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if storageClient != nil && strings.TrimSpace(cfg.Storage.ReportsBucket) != "" {
		bucket := storageClient.Bucket(cfg.Storage.ReportsBucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:    "storage",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{Health: repo})
}

// buildInternalMiddlewares assembles the guard chain for /internal: OIDC bearer
// tokens from configured issuers, HMAC request signatures, or both.
func buildInternalMiddlewares(logger *zap.Logger, cfg config.Config) []func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	var guards []func(http.Handler) http.Handler

	if audience := strings.TrimSpace(cfg.Security.OIDC.Audience); audience != "" && strings.TrimSpace(cfg.Security.OIDC.JWKSURL) != "" {
		adapter := observability.NewPrintfAdapter(logger)
		cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
		validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))
		guards = append(guards, validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers))
	}

	if secret := strings.TrimSpace(cfg.Security.HMAC.Secret); secret != "" {
		adapter := observability.NewPrintfAdapter(logger)
		provider := auth.SecretProviderFunc(func(context.Context, string) (string, error) {
			return secret, nil
		})
		validator := auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(),
			auth.WithHMACLogger(adapter),
			auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
			auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
			auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
		)
		guards = append(guards, validator.RequireHMAC("internal"))
	}

	return guards
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
