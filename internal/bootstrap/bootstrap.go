package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/fathima-sithara/identity-service/internal/brevo"
	"github.com/fathima-sithara/identity-service/internal/config"
	"github.com/fathima-sithara/identity-service/internal/database"
	"github.com/fathima-sithara/identity-service/internal/events"
	"github.com/fathima-sithara/identity-service/internal/handlers"
	"github.com/fathima-sithara/identity-service/internal/identity"
	"github.com/fathima-sithara/identity-service/internal/metrics"
	"github.com/fathima-sithara/identity-service/internal/middlewares"
	"github.com/fathima-sithara/identity-service/internal/repository"
	"github.com/fathima-sithara/identity-service/internal/routes"
	"github.com/fathima-sithara/identity-service/internal/server"
	"github.com/fathima-sithara/identity-service/internal/services"
	"github.com/fathima-sithara/identity-service/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type AppContext struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
	Mongo  *mongo.Client
	Redis  *redis.Client
	Events events.Publisher
	App    *fiber.App
}

type CleanupFn func(context.Context)

func Init(ctx context.Context, configPath string) (*AppContext, CleanupFn, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := utils.NewLogger(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, nil, err
	}
	sugar := logger.Sugar()

	app := &AppContext{Config: cfg, Logger: logger, Sugar: sugar}
	sugar.Infof("Starting service in %s environment", cfg.App.Env)

	db, mongoClient, err := database.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.ConnectTimeout, sugar)
	if err != nil {
		return nil, nil, err
	}
	app.Mongo = mongoClient

	userRepo, err := repository.NewMongoUserRepo(ctx, db, cfg.Mongo.UserCollection)
	if err != nil {
		_ = mongoClient.Disconnect(context.Background())
		return nil, nil, err
	}
	if n, err := userRepo.PurgeLinkedPasswords(ctx); err != nil {
		sugar.Warnf("Linked password sweep failed: %v", err)
	} else if n > 0 {
		sugar.Infof("Removed password hashes from %d linked accounts", n)
	}

	// Redis only backs the token-request limiter; without it the limiter is off.
	if cfg.Redis.Addr != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, sugar)
		if err != nil {
			sugar.Warnf("Redis unavailable, token request limiter disabled: %v", err)
		} else {
			app.Redis = rdb
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	admin := identity.NewAdminVerifier(identity.AdminConfig{
		ProjectID:         cfg.Firebase.ProjectID,
		CredentialsFile:   cfg.Firebase.CredentialsFile,
		CredentialsBase64: cfg.Firebase.CredentialsBase64,
	}, logger)
	lookup := identity.NewLookupVerifier(cfg.Firebase.LookupURL, cfg.Firebase.APIKey, cfg.Firebase.LookupTimeout, logger)
	if cfg.Firebase.APIKey == "" {
		sugar.Warn("Firebase API key not set. Token lookup fallback is disabled.")
	}
	verifier := identity.NewChainVerifier(admin, lookup, logger, m.Verification)

	var mailer services.Mailer
	bc := brevo.NewClient(cfg.Brevo.APIKey, cfg.Brevo.SenderEmail, cfg.Brevo.SenderName, logger)
	if bc.IsConfigured() {
		sugar.Info("Brevo client configured.")
		mailer = brevo.NewMailer(bc, cfg.App.BaseURL)
	} else {
		sugar.Warn("Brevo client not configured. Emails will only be logged.")
		mailer = services.NewLogMailer(logger, cfg.IsDevelopment())
	}

	if len(cfg.Kafka.Brokers) > 0 {
		app.Events = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sugar.Infof("Publishing account events to %s", cfg.Kafka.Topic)
	} else {
		app.Events = events.NoopPublisher{}
	}

	authSvc := services.NewAuthService(services.AuthServiceConfig{
		Users:           userRepo,
		Verifier:        verifier,
		Sync:            services.NewIdentitySync(admin, userRepo, m, logger),
		Hasher:          utils.NewPasswordHasher(cfg.Security.BcryptCost),
		Sessions:        utils.NewSessionIssuer(cfg.JWT.Secret, cfg.JWT.TTL, cfg.JWT.Issuer),
		Mailer:          mailer,
		Events:          app.Events,
		Metrics:         m,
		Logger:          logger,
		VerificationTTL: cfg.Security.VerificationTTL,
		ResetTTL:        cfg.Security.ResetTTL,
	})
	h := handlers.NewHandler(authSvc, userRepo, logger)

	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	ipLimiter := middlewares.NewIPRateLimiter(cfg.Security.IPRateLimitPerMinute, cfg.Security.IPRateLimitPerMinute/4+1, logger)
	go ipLimiter.Run(limiterCtx)

	mw := routes.Middlewares{
		IPLimiter: ipLimiter.Handler(),
		Session:   middlewares.SessionAuth(authSvc),
		Metrics:   metrics.Handler(reg),
	}
	if app.Redis != nil {
		rl := middlewares.NewRateLimiter(app.Redis, "rl:token", cfg.Security.TokenRequestsPerHour, time.Hour, logger)
		mw.TokenLimiter = rl.MiddlewareByKey(middlewares.ClientIP)
	}
	app.App = server.New(cfg, h, mw, logger)

	return app, func(ctx context.Context) {
		stopLimiter()

		if cerr := app.App.ShutdownWithContext(ctx); cerr != nil {
			sugar.Errorf("Fiber app shutdown error: %v", cerr)
		}

		if cerr := app.Events.Close(); cerr != nil {
			sugar.Errorf("Event publisher close error: %v", cerr)
		}

		if cerr := mongoClient.Disconnect(ctx); cerr != nil {
			sugar.Errorf("MongoDB disconnect error: %v", cerr)
		}

		if app.Redis != nil {
			if cerr := app.Redis.Close(); cerr != nil {
				sugar.Errorf("Redis client close error: %v", cerr)
			}
		}

		if cerr := logger.Sync(); cerr != nil {
			log.Printf("Logger sync error: %v", cerr)
		}
	}, nil
}
