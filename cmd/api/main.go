package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	personaOverrides := make(map[string]service.PersonaDefinition, len(cfg.Personas))
	for profile, persona := range cfg.Personas {
		personaOverrides[profile] = service.PersonaDefinition{Label: persona.Label, Instructions: persona.Instructions}
	}
	personas, err := service.NewPersonaCatalog(personaOverrides)
	if err != nil {
		log.Fatalf("invalid persona configuration: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	var history service.GradingHistoryService
	if cfg.HistoryEnabled() {
		db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := database.Migrate(db); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}

		var publisher service.EventPublisher
		if natsConn != nil {
			publisher = natsConn
		}
		history = service.NewGradingHistoryService(repository.NewGradingRunRepository(db), publisher, cfg.NATSSubjectPrefix, logger)
	}

	model, err := ai.NewModel(ai.ProviderConfig{
		Provider:    cfg.AIProvider,
		Model:       cfg.AIModel,
		BaseURL:     cfg.AIBaseURL,
		MaxTokens:   cfg.AIMaxTokens,
		Temperature: cfg.AITemperature,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to configure ai provider: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	evaluationService := service.NewEvaluationService(model, redisClient, cfg.GradingCacheTTL, logger)

	var dispatcher service.Dispatcher = service.NewLocalDispatcher(evaluationService)
	if cfg.GradingRemoteURL != "" {
		dispatcher = service.NewHTTPDispatcher(cfg.GradingRemoteURL, nil, logger)
	}

	var recorder service.RunRecorder
	if history != nil {
		recorder = history
	}
	gradingService := service.NewGradingService(
		service.NewInputCollector(cfg.UploadMaxSizeMB, logger),
		personas,
		dispatcher,
		recorder,
		service.GradingServiceConfig{Timeout: cfg.GradingTimeout, MatchEmptyIDs: cfg.GradingMatchEmptyIDs},
		logger,
	)

	deps := router.Dependencies{
		GradeHandler:   handler.NewGradeHandler(evaluationService, validate, logger),
		GradingHandler: handler.NewGradingHandler(service.NewGradingGate(gradingService), personas, logger),
		JWTMiddleware:  middleware.Optional(cfg.JWTSecret != "", middleware.JWTProtected(cfg.JWTSecret)),
	}
	if history != nil {
		deps.GradingHistoryHandler = handler.NewGradingHistoryHandler(history, logger)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (3*cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.GradingTimeout + 30*time.Second,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    cfg.AppEnv == "development",
	})
	router.Register(app, cfg, deps)

	logger.Info().
		Str("address", cfg.HTTPAddress()).
		Str("ai_provider", model.Name()).
		Bool("remote_dispatch", cfg.GradingRemoteURL != "").
		Bool("history", history != nil).
		Msg("starting grading service")

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
