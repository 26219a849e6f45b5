package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/config"
	"github.com/RubachokBoss/proctored-assessment/internal/database"
	"github.com/RubachokBoss/proctored-assessment/internal/delivery/httpd"
	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/internal/repository"
	"github.com/RubachokBoss/proctored-assessment/internal/service"
	"github.com/RubachokBoss/proctored-assessment/internal/service/executor"
	"github.com/RubachokBoss/proctored-assessment/internal/service/integration"
	"github.com/RubachokBoss/proctored-assessment/internal/service/scoring"
	"github.com/RubachokBoss/proctored-assessment/internal/worker"
	"github.com/RubachokBoss/proctored-assessment/internal/worker/queue"
	"github.com/RubachokBoss/proctored-assessment/pkg/rabbitmq"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type App struct {
	server          *http.Server
	logger          zerolog.Logger
	config          *config.Config
	db              *sql.DB
	publisher       integration.EventPublisher
	integrityWorker worker.IntegrityWorker
}

func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{logger: log, config: cfg}

	// Хранилище
	var (
		attemptRepo     repository.AttemptRepository
		applicationRepo repository.ApplicationRepository
	)
	switch cfg.Database.Driver {
	case "memory":
		store := repository.NewMemoryStore()
		for _, seed := range cfg.Database.SeedApplications {
			store.AddApplication(models.Application{
				ID:          uuid.NewString(),
				JobID:       seed.JobID,
				CandidateID: seed.CandidateID,
			})
		}
		attemptRepo, applicationRepo = store, store
		log.Warn().Int("applications", len(cfg.Database.SeedApplications)).Msg("Using in-memory storage, data is lost on restart")
	default:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		attemptRepo = repository.NewAttemptRepository(db, log)
		applicationRepo = repository.NewApplicationRepository(db, log)
		log.Info().Msg("Database connection established")
	}

	// Проверка
	def := scoring.DefaultDefinition()
	if cfg.Assessment.DefinitionPath != "" {
		loaded, err := scoring.LoadDefinition(cfg.Assessment.DefinitionPath)
		if err != nil {
			a.closeDB()
			return nil, err
		}
		def = loaded
	}

	runner := executor.NewMockRunner(cfg.Executor.SimulatedLatency)
	engine, err := scoring.NewEngine(scoring.NewRuleScorer(def, runner), scoring.Weights{
		Technical:    cfg.Assessment.TechnicalWeight,
		Psychometric: cfg.Assessment.PsychometricWeight,
	})
	if err != nil {
		a.closeDB()
		return nil, err
	}

	// Интеграции. Без брокера и хранилища ответов сервис работает, только не публикует события.
	var publisher integration.EventPublisher
	if cfg.RabbitMQ.Enabled {
		publisher, err = integration.NewRabbitMQClient(
			cfg.RabbitMQ.URL,
			cfg.RabbitMQ.Exchange,
			cfg.RabbitMQ.SubmittedRoutingKey,
			log,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create RabbitMQ client, submitted events will not be published")
			publisher = nil
		}
	}
	a.publisher = publisher

	var archive integration.AnswerArchive
	if cfg.Archive.Enabled {
		archive, err = integration.NewMinIOArchive(
			cfg.Archive.Endpoint,
			cfg.Archive.AccessKey,
			cfg.Archive.SecretKey,
			cfg.Archive.Bucket,
			cfg.Archive.UseSSL,
			log,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create MinIO client, answers will not be archived")
			archive = nil
		}
	}

	assessmentService := service.NewAssessmentService(
		attemptRepo,
		applicationRepo,
		engine,
		runner,
		publisher,
		archive,
		log,
	)

	if cfg.RabbitMQ.Enabled {
		iw, err := newIntegrityWorker(cfg, assessmentService, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create integrity ingest worker, queue ingestion disabled")
		} else {
			a.integrityWorker = iw
		}
	}

	handler := httpd.NewHandler(assessmentService, cfg.Auth.JWTSecret, log)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(httpd.RequestLogger(log))
	router.Use(httpd.Recovery(log))
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

func newIntegrityWorker(cfg *config.Config, svc service.AssessmentService, log zerolog.Logger) (worker.IntegrityWorker, error) {
	conn, err := rabbitmq.NewConnection(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	consumer, err := queue.NewRabbitMQConsumer(
		conn,
		rabbitmq.Binding{
			Exchange:   cfg.RabbitMQ.Exchange,
			Queue:      cfg.RabbitMQ.IntegrityQueue,
			RoutingKey: cfg.RabbitMQ.IntegrityRoutingKey,
		},
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	pool := worker.NewWorkerPool(cfg.Integrity.IngestWorkers, 0, log)
	return worker.NewIntegrityWorker(pool, consumer, svc, log), nil
}

// Run blocks until the HTTP server stops. http.ErrServerClosed after Shutdown is not an error.
func (a *App) Run(ctx context.Context) error {
	if a.integrityWorker != nil {
		if err := a.integrityWorker.Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to start integrity ingest worker")
			a.integrityWorker = nil
		}
	}

	a.logger.Info().Msgf("Starting assessment service on %s", a.config.Server.Address)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down assessment service...")

	// Сначала перестаём принимать запросы
	err := a.server.Shutdown(ctx)

	if a.integrityWorker != nil {
		if stopErr := a.integrityWorker.Stop(); stopErr != nil {
			a.logger.Error().Err(stopErr).Msg("Failed to stop integrity ingest worker")
		}
	}

	if a.publisher != nil {
		if closeErr := a.publisher.Close(); closeErr != nil {
			a.logger.Error().Err(closeErr).Msg("Failed to close RabbitMQ connection")
		}
	}

	a.closeDB()
	return err
}

func (a *App) closeDB() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close database connection")
	}
	a.db = nil
}
