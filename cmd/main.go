package main

import (
	"context"
	"net/http"
	"time"

	"github.com/examly/hallpass/config"
	"github.com/examly/hallpass/database"
	"github.com/examly/hallpass/internal/auth"
	"github.com/examly/hallpass/internal/bridge"
	sessionctrl "github.com/examly/hallpass/internal/controller/session"
	transferctrl "github.com/examly/hallpass/internal/controller/transfer"
	"github.com/examly/hallpass/internal/logger"
	"github.com/examly/hallpass/internal/model"
	"github.com/examly/hallpass/internal/repository"
	"github.com/examly/hallpass/internal/service"
	"github.com/examly/hallpass/internal/ws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// @title Hallpass Exam Session API
// @version 1.0
// @description Real-time session core for proctored exams: answer checkpointing, exam clock sync, and supervised workstation transfers.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
func main() {
	logger.Init()

	app := fx.New(
		// Core application components
		fx.Provide(
			config.NewConfig,
			database.NewDatabase,
			NewRedisClient,
			NewBridge,
			NewJWTManager,
			ws.NewManager,
			NewGinEngine,
		),

		// Repositories layer
		fx.Provide(
			repository.NewAttemptRepository,
			repository.NewAnswerRepository,
			repository.NewQuestionRepository,
			repository.NewTransferRepository,
			repository.NewAuditLogRepository,
			repository.NewUserRepository,
		),

		// Services layer
		fx.Provide(
			service.NewCheckpointService,
			func(
				transferRepo repository.TransferRepository,
				attemptRepo repository.AttemptRepository,
				answerRepo repository.AnswerRepository,
				auditRepo repository.AuditLogRepository,
				br bridge.Bridge,
				cfg *config.Config,
			) service.TransferService {
				return service.NewTransferService(transferRepo, attemptRepo, answerRepo, auditRepo, br, cfg.Session.TransferMinRemaining)
			},
		),

		// API controllers layer
		fx.Provide(
			sessionctrl.NewSessionController,
			transferctrl.NewTransferController,
		),

		fx.Invoke(RegisterRoutesAndStartServer),
		fx.Invoke(AutoMigrateDB),
		fx.Invoke(RegisterShutdownHooks),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	<-app.Done()
	log.Info().Msg("Application shutting down gracefully...")
}

func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func NewBridge(client *redis.Client) bridge.Bridge {
	return bridge.NewRedisBridge(client)
}

func NewJWTManager(cfg *config.Config) *auth.JWTManager {
	return auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenDuration)
}

func NewGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		log.Info().
			Str("client_ip", param.ClientIP).
			Str("method", param.Method).
			Str("path", param.Path).
			Int("status_code", param.StatusCode).
			Dur("latency", param.Latency).
			Str("user_agent", param.Request.UserAgent()).
			Str("error_message", param.ErrorMessage).
			Msg("gin_request")
		return ""
	}))
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	return r
}

// RegisterRoutesAndStartServer configures API routes and manages server lifecycle.
func RegisterRoutesAndStartServer(
	lc fx.Lifecycle,
	router *gin.Engine,
	cfg *config.Config,
	jwtManager *auth.JWTManager,
	sessionCtrl *sessionctrl.SessionController,
	transferCtrl *transferctrl.TransferController,
) {
	// Session sockets authenticate via a token query parameter after the
	// upgrade, so the websocket route sits outside the bearer middleware.
	router.GET("/ws/attempts/:attempt_id", sessionCtrl.Handle)

	api := router.Group("/api/v1")
	api.Use(auth.Middleware(jwtManager))
	{
		transfers := api.Group("/transfers")
		transfers.POST("", transferCtrl.RequestTransfer)
		transfers.GET("", transferCtrl.ListTransfers)
		transfers.GET("/:transfer_id", transferCtrl.GetTransfer)
		transfers.POST("/:transfer_id/approve", transferCtrl.ApproveTransfer)
		transfers.POST("/:transfer_id/reject", transferCtrl.RejectTransfer)
		transfers.GET("/:transfer_id/audit", transferCtrl.GetTransferAudit)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Msgf("Exam session server starting on port %s", cfg.Server.Port)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("Server ListenAndServe failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Server shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
}

// RegisterShutdownHooks drains in-flight session state before the
// process exits: pending debounced saves are committed and the bridge
// subscriptions are torn down.
func RegisterShutdownHooks(lc fx.Lifecycle, checkpoints service.CheckpointService, br bridge.Bridge) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			flushed := checkpoints.FlushPending()
			if flushed > 0 {
				log.Info().Int("count", flushed).Msg("Committed pending checkpoints on shutdown")
			}
			return br.Close()
		},
	})
}

func AutoMigrateDB(db *gorm.DB) error {
	log.Info().Msg("Running database migrations...")
	err := db.AutoMigrate(
		&model.User{},
		&model.Exam{},
		&model.Question{},
		&model.Attempt{},
		&model.Answer{},
		&model.Transfer{},
		&model.AuditLog{},
	)
	if err != nil {
		log.Error().Err(err).Msg("Database migration failed")
		return err
	}
	log.Info().Msg("Database migration completed successfully.")
	return nil
}
