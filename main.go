package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
	"intelliconn/domain/repository"
	"intelliconn/infrastructure/cache"
	"intelliconn/infrastructure/clients/facebook"
	"intelliconn/infrastructure/clients/instagram"
	"intelliconn/infrastructure/clients/oauthrefresh"
	"intelliconn/infrastructure/clients/platform"
	"intelliconn/infrastructure/clients/threads"
	"intelliconn/infrastructure/clients/twitter"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/configuration"
	"intelliconn/infrastructure/logger"
	"intelliconn/infrastructure/persistence"
	"intelliconn/infrastructure/pubsub"
	"intelliconn/infrastructure/ratelimit"
	"intelliconn/infrastructure/realtime"
	"intelliconn/infrastructure/retry"
	"intelliconn/infrastructure/servicebus"
	httpHandler "intelliconn/interfaces/http"
	"intelliconn/server"
	"intelliconn/usecase"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"
)

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := configuration.C
	log := logger.GetLogger()

	psqlDb, err := persistence.NewPostgreSQLDB()
	if err != nil {
		log.WithField("error", err).Fatal("Cannot connect to PostgreSQL")
	}
	defer psqlDb.Close()
	if err := persistence.EnsureSchema(psqlDb); err != nil {
		log.WithField("error", err).Fatal("Failed ensuring schema")
	}

	checks := map[string]httpHandler.Pinger{"postgres": psqlDb.PingContext}

	credentials, mssqlDb, err := InitiateCredentialStore(psqlDb)
	if err != nil {
		log.WithField("error", err).Fatal("Credential store initialization failed")
	}
	if mssqlDb != nil {
		defer mssqlDb.Close()
		checks["mssql"] = mssqlDb.PingContext
	}

	analyticsDb, err := persistence.NewRepositories()
	if err != nil {
		log.WithField("error", err).Fatal("Cannot open analytics database")
	}
	if sqlDb, err := analyticsDb.DB(); err == nil {
		checks["analytics"] = sqlDb.PingContext
	}

	var archive repository.ISnapshotArchive
	if mongoClient := InitiateMongo(ctx); mongoClient != nil {
		defer mongoClient.Disconnect(context.Background())
		a := persistence.NewSnapshotArchive(mongoClient, cfg.Database.Mongo.Name)
		if err := a.EnsureIndexes(ctx); err != nil {
			log.WithField("error", err).Warn("Failed ensuring snapshot archive indexes")
		}
		archive = a
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
	}

	var containers repository.IContainerStore
	if cfg.RedisClient.Host != "" {
		redisClient := cache.NewRedisClient(cfg.RedisClient)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithField("error", err).Warn("Redis not reachable - container ids kept in memory")
			containers = cache.NewMemoryContainerStore()
		} else {
			log.Info("Redis client initialized successfully.")
			containers = cache.NewRedisContainerStore(redisClient)
			checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	} else {
		containers = cache.NewMemoryContainerStore()
	}

	hub := realtime.NewHub()
	events := usecase.FanOut{hub}
	if cfg.Pubsub.ProjectID != "" {
		pubSubClient, err := pubsub.NewPubSub(ctx, cfg.Pubsub.ProjectID)
		if err != nil {
			log.WithField("error", err).Error("Error while instantiate PubSub")
		} else {
			defer pubSubClient.Close()
			publisher := pubsub.NewEventPublisher(pubSubClient, cfg.Pubsub.TopicID,
				dto.EventPublishResult, dto.EventSyncFailed, dto.EventCredentialInvalid)
			if err := publisher.EnsureTopic(ctx); err != nil {
				log.WithField("error", err).Warn("Pub/Sub topic unavailable")
			}
			defer publisher.Stop()
			events = append(events, publisher)
		}
	}

	var notifier repository.INotifier
	if cfg.ServiceBus.Namespace != "" {
		sbClient, err := servicebus.NewServiceBus(ctx, cfg.ServiceBus.Namespace)
		if err != nil {
			log.WithField("error", err).Warn("Azure Service Bus not available - continuing without notifications")
		} else if n, err := servicebus.NewNotifier(sbClient, cfg.ServiceBus.Queue); err == nil {
			defer n.Close(context.Background())
			notifier = n
		}
	}

	clk := clock.New()
	adapters := InitiateAdapters(cfg, clk, containers)
	limiter := ratelimit.FromConfig(clk, cfg.Platforms)
	policy := retry.FromConfig(cfg.Retry)

	tokens := usecase.NewTokenStore(credentials, adapters,
		oauthrefresh.New(cfg.Platforms, clk, cfg.HTTP.Timeout),
		events, clk, cfg.Token.ValidateCooldown, cfg.Token.CASRetries)
	ledger := usecase.NewAnalyticsLedger(persistence.NewAnalyticsRepository(analyticsDb), archive, events)

	posts := persistence.NewPostRepository(psqlDb)
	publications := persistence.NewPublicationRepository(psqlDb)
	jobs := persistence.NewSyncJobRepository(psqlDb)

	syncUC := usecase.NewSyncUsecase(usecase.SyncDeps{
		Publications: publications,
		Jobs:         jobs,
		Tokens:       tokens,
		Adapters:     adapters,
		Ledger:       ledger,
		Limiter:      limiter,
		Notifier:     notifier,
		Events:       events,
		Clock:        clk,
	}, cfg.Sync, cfg.Platforms, policy)
	publishUC := usecase.NewPublishUsecase(posts, publications, jobs, tokens, adapters, limiter,
		retry.NewRetrier(policy, clk), events, syncUC, clk, cfg.Publish)

	router := server.InitiateRouter(
		httpHandler.NewPostHandler(publishUC),
		httpHandler.NewCredentialHandler(tokens),
		httpHandler.NewAnalyticsHandler(ledger, publishUC),
		httpHandler.NewHealthHandler(checks),
		hub,
		cfg.App.SecretKey,
		cfg.App.AllowOrigins,
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(map[string]interface{}{"port": cfg.App.Port, "tls": cfg.App.TLSEnabled}).Info("Starting application")
		return serve(httpServer, cfg.App)
	})
	g.Go(func() error { return syncUC.Run(gctx) })
	g.Go(func() error { return publishUC.RunDispatcher(gctx, cfg.Publish.ScheduledPollInterval) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Application shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
	log.Info("Application stopped")
}

func serve(srv *http.Server, app configuration.App) error {
	var err error
	if app.TLSEnabled && app.TLSCertFile != "" && app.TLSKeyFile != "" {
		logger.GetLogger().WithFields(map[string]interface{}{"cert": app.TLSCertFile, "key": app.TLSKeyFile}).Info("Serving HTTPS")
		err = srv.ListenAndServeTLS(app.TLSCertFile, app.TLSKeyFile)
	} else {
		if app.TLSEnabled {
			logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
		}
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// InitiateCredentialStore returns the credential repository for the
// configured driver. The MSSQL handle is returned so the caller can close it.
func InitiateCredentialStore(psqlDb *sql.DB) (repository.ICredential, *sql.DB, error) {
	if configuration.C.Database.Driver != "mssql" {
		return persistence.NewCredentialRepository(psqlDb), nil, nil
	}
	mssql, err := persistence.NewMSSQLDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Cannot connect to MSSQL")
		return nil, nil, err
	}
	if err := persistence.EnsureCredentialSchemaMSSQL(mssql); err != nil {
		mssql.Close()
		return nil, nil, err
	}
	return persistence.NewCredentialRepositoryMSSQL(mssql), mssql, nil
}

// InitiateMongo connects the optional snapshot archive. It returns nil when
// Mongo is not configured or not reachable.
func InitiateMongo(ctx context.Context) *mongo.Client {
	m := configuration.C.Database.Mongo
	if m.Host == "" {
		return nil
	}
	client, err := persistence.NewMongoDb(m.Host, m.Port, m.User, m.Password, m.Name)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - continuing without snapshot history")
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - continuing without snapshot history")
		_ = client.Disconnect(context.Background())
		return nil
	}
	logger.GetLogger().Info("MongoDB connected successfully")
	return client
}

// InitiateAdapters builds one adapter per supported platform.
func InitiateAdapters(cfg configuration.Config, clk clock.Clock, containers repository.IContainerStore) map[model.Platform]repository.IPlatformAdapter {
	timeout := platform.WithTimeout(cfg.HTTP.Timeout)
	p := cfg.Platforms
	return map[model.Platform]repository.IPlatformAdapter{
		model.PlatformFacebook:  facebook.New(p.Facebook.BaseURL, clk, timeout),
		model.PlatformInstagram: instagram.New(p.Instagram.BaseURL, clk, containers, timeout),
		model.PlatformThreads:   threads.New(p.Threads.BaseURL, clk, containers, timeout),
		model.PlatformTwitter: twitter.New(p.Twitter.BaseURL, clk, twitter.Config{
			ConsumerKey:    p.Twitter.ClientID,
			ConsumerSecret: p.Twitter.ClientSecret,
			WriteTiers:     p.Twitter.WriteTiers,
		}, timeout),
	}
}
