package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/config"
	"github.com/iliyamo/renewal-portal/internal/database"
	"github.com/iliyamo/renewal-portal/internal/handler"
	"github.com/iliyamo/renewal-portal/internal/logger"
	"github.com/iliyamo/renewal-portal/internal/middleware"
	"github.com/iliyamo/renewal-portal/internal/queue"
	"github.com/iliyamo/renewal-portal/internal/repository"
	"github.com/iliyamo/renewal-portal/internal/router"
	"github.com/iliyamo/renewal-portal/internal/service"
	"github.com/iliyamo/renewal-portal/internal/storage"
	"github.com/iliyamo/renewal-portal/internal/tasks"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.Load()
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat, "renewal-portal")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.Open(context.Background(), cfg)
	if err != nil {
		lg.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		lg.Fatal("migrate database", zap.Error(err))
	}

	store, err := storage.NewS3Store(cfg.Storage)
	if err != nil {
		lg.Fatal("init object storage", zap.Error(err))
	}
	rdb := config.NewRedisClient(lg)
	if rdb != nil {
		defer rdb.Close()
	}

	// ---- Repositories ----
	users := repository.NewUserRepo(db)
	members := repository.NewMemberRepo(db)
	roles := repository.NewRoleRepo(db)
	projects := repository.NewProjectRepo(db)
	auditRepo := repository.NewAuditRepo(db)
	docRepo := repository.NewDocumentRepo(db)
	aptRepo := repository.NewApartmentRepo(db)
	voteRepo := repository.NewVoteRepo(db)
	msgRepo := repository.NewMessageRepo(db)

	// ---- Engines ----
	clock := service.SystemClock{}
	authz := service.NewAuthorizer(roles)
	scope := service.NewScopeResolver(service.ScopeConfig{SingleProjectMode: cfg.SingleProjectMode}, members, projects, lg)
	audit := service.NewAuditRecorder(auditRepo, clock, cfg.AuditTimeout, lg)
	docs := service.NewDocumentService(docRepo, aptRepo, members, store, clock, cfg.DownloadURLTTL, lg)
	apartments := service.NewApartmentService(aptRepo, members, lg)
	votes := service.NewVoteService(voteRepo, members, clock, lg)
	admin := service.NewAdminService(members, roles, lg)

	runner := tasks.New(tasks.Config{BaseDelay: cfg.TaskBaseDelay, MaxAttempts: cfg.TaskMaxAttempts}, lg)
	publisher := queue.NewPublisher(cfg.RabbitMQURL, lg)
	messages := service.NewMessageService(msgRepo, runner, publisher, audit, clock, cfg.TaskMaxAttempts, lg)
	runner.RegisterHandler(service.DispatchTaskName, messages.HandleDispatchTask)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := messages.ReschedulePending(bootCtx); err != nil {
		lg.Error("reschedule pending messages", zap.Error(err))
	} else {
		lg.Info("rescheduled pending messages", zap.Int("count", n))
	}
	cancelBoot()

	sweeper := service.NewMessageSweeper(messages, lg)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		lg.Fatal("start message sweeper", zap.Error(err))
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		queue.NewConsumer(cfg.RabbitMQURL, "", lg).Run(consumerCtx)
	}()

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(cfg.Production(), lg)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	authH := handler.NewAuthHandler(cfg, users, scope, audit)
	router.RegisterRoutes(e, db, authH)
	router.RegisterAPI(e, router.Handlers{
		Auth:       authH,
		Documents:  handler.NewDocumentHandler(docs),
		Apartments: handler.NewApartmentHandler(apartments),
		Votes:      handler.NewVoteHandler(votes),
		Messages:   handler.NewMessageHandler(messages),
		Admin:      handler.NewAdminHandler(admin, audit),
	}, router.Deps{
		DB:         db,
		JWTSecret:  cfg.JWTSecret,
		Principals: middleware.NewPrincipalLoader(users, lg),
		Guard:      middleware.NewGuard(authz, scope, audit, lg),
		RateLimit:  middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, lg),
	})

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env),
			zap.Bool("single_project_mode", cfg.SingleProjectMode))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", zap.Error(err))
	}
	sweeper.Stop()
	runner.Stop()
	if retained := runner.Retained(); len(retained) > 0 {
		lg.Warn("failed deferred tasks at shutdown", zap.Int("count", len(retained)))
	}
	audit.Wait()
	stopConsumer()
	<-consumerDone
}
