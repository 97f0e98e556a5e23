package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"consultation-queue-server/internal/config"
	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/middleware"
	"consultation-queue-server/internal/models"
	"consultation-queue-server/internal/observability"
	"consultation-queue-server/internal/queue"
	"consultation-queue-server/internal/routes"
	"consultation-queue-server/internal/service"
	"consultation-queue-server/internal/store"
	"consultation-queue-server/internal/store/memory"
	"consultation-queue-server/internal/store/mysql"
	"consultation-queue-server/internal/utils"
)

func main() {
	// A missing .env is fine outside development.
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.InitLogger(cfg.ServiceName, cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file loaded")
	}

	shutdownTracing := observability.SetupTracing(cfg.ServiceName)

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}

	bus, err := openBus(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect event bus")
	}

	svc := service.New(st, bus, service.Options{
		Location: cfg.Queue.Location,
		Defaults: queue.Settings{
			AvgConsultationMinutes: cfg.Queue.AvgConsultationMinutes,
			WaitingRoomThreshold:   cfg.Queue.WaitingRoomThreshold,
		},
		Policy: messaging.Policy{AllowAfterCompletion: cfg.Messaging.AllowAfterCompletion},
	}, logger)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(logger), middleware.Logger(logger), middleware.Recovery(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader, "Idempotency-Key"}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, svc, cfg, logger)

	// WriteTimeout stays zero so event streams are not cut off.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	if err := bus.Close(); err != nil {
		logger.Error().Err(err).Msg("close event bus")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown tracing")
	}
}

func openStore(cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		st := memory.New()
		seedDemoUsers(st, cfg, logger)
		return st, nil
	}

	db, err := models.InitDB(models.DatabaseConfig{
		DSN:     cfg.Database.DSN,
		Verbose: cfg.Environment == "development",
	})
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, err
	}
	return mysql.New(db), nil
}

func openBus(cfg *config.Config, logger zerolog.Logger) (events.Bus, error) {
	if cfg.Redis.URL == "" {
		return events.NewMemoryBus(logger), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := events.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	return events.NewRedisBus(client, logger), nil
}

// seedDemoUsers gives the in-memory store a doctor and a patient and logs
// tokens for them, so the API can be tried without an identity service.
func seedDemoUsers(st *memory.Store, cfg *config.Config, logger zerolog.Logger) {
	doctor := st.PutUser(models.User{Email: "doctor@example.com", FirstName: "Demo", LastName: "Doctor", Role: models.RoleDoctor})
	patient := st.PutUser(models.User{Email: "patient@example.com", FirstName: "Demo", LastName: "Patient", Role: models.RolePatient})
	for _, u := range []models.User{doctor, patient} {
		token, err := utils.GenerateAccessToken(u.ID, u.Role, cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			logger.Error().Err(err).Str("user_id", u.ID).Msg("sign demo token")
			continue
		}
		logger.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Str("token", token).Msg("demo user")
	}
}
