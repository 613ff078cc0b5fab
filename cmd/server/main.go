package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	httpapi "github.com/meshcall/core/internal/api/http"
	"github.com/meshcall/core/internal/api/ws"
	"github.com/meshcall/core/internal/callsignal"
	"github.com/meshcall/core/internal/chat"
	"github.com/meshcall/core/internal/config"
	"github.com/meshcall/core/internal/hub"
	"github.com/meshcall/core/internal/identity"
	"github.com/meshcall/core/internal/logging/slogpretty"
	"github.com/meshcall/core/internal/metrics"
	"github.com/meshcall/core/internal/recording"
	"github.com/meshcall/core/internal/repository"
	"github.com/meshcall/core/internal/repository/model"
	"github.com/meshcall/core/internal/sfu"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// workerDeathGrace is how long the process lingers after a media worker dies
// before aborting; a dead worker's routers and transports are unrecoverable.
const workerDeathGrace = 3 * time.Second

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		log.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	userRepo := repository.NewPostgresUserRepository(db)
	roomRepo := repository.NewPostgresRoomRepository(db)
	messageRepo := repository.NewPostgresMessageRepository(db)
	callRepo := repository.NewPostgresCallRepository(db)
	recordingRepo := repository.NewPostgresRecordingRepository(db)

	m := metrics.New(prometheus.DefaultRegisterer)

	presence := hub.NewPresence(rdb)
	registry := hub.NewRegistry(userRepo, presence, log)
	bridge := hub.NewBridge(rdb, log)
	fanout := hub.NewFanout(registry, roomRepo, bridge, log)

	chatSvc := chat.NewService(roomRepo, messageRepo, userRepo, registry, fanout, m, log)
	callSvc := callsignal.NewService(callRepo, registry, log)

	workers, err := sfu.NewWorkerPool(cfg.WebRTC.AnnouncedIP, cfg.WebRTC.PortMin, cfg.WebRTC.PortMax)
	if err != nil {
		log.Error("failed to create media workers", slog.Any("error", err))
		os.Exit(1)
	}
	orchestrator := sfu.NewOrchestrator(workers, registry, m, log)

	recorder := recording.NewController(cfg.Recording, callRepo, recordingRepo, m, log)
	orchestrator.SetObserver(recorder)

	tokens, err := identity.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiresIn)
	if err != nil {
		log.Error("failed to init token manager", slog.Any("error", err))
		os.Exit(1)
	}
	identitySvc := identity.NewService(db, tokens, log)

	supervisor := ws.NewSupervisor(registry, fanout, chatSvc, callSvc, orchestrator, recorder, log)

	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		log.Error("cannot create uploads dir", slog.Any("error", err))
		os.Exit(1)
	}

	router := httpapi.SetupRouter(httpapi.RouterDeps{
		Auth:       httpapi.NewAuthController(identitySvc),
		Admin:      httpapi.NewAdminController(userRepo),
		Upload:     httpapi.NewUploadController(cfg.Upload, chatSvc, log),
		Supervisor: supervisor,
		Tokens:     tokens,
		Users:      userRepo,
		UploadsDir: cfg.Upload.Dir,
		Health: map[string]httpapi.HealthCheck{
			"database": func() error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Ping()
			},
			"redis": func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return rdb.Ping(ctx).Err()
			},
		},
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go bridge.Run(rootCtx, fanout.ToRoomLocal)
	go watchWorkers(rootCtx, workers, log)

	srv := &http.Server{Addr: cfg.HTTP.Address, Handler: router}
	go func() {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", slog.Any("error", err))
	}
	orchestrator.Close(shutdownCtx)
	recorder.StopAll(shutdownCtx)
	_ = rdb.Close()
	log.Info("bye")
}

// watchWorkers aborts the process shortly after any media worker dies.
func watchWorkers(ctx context.Context, pool *sfu.WorkerPool, log *slog.Logger) {
	for _, w := range pool.Workers() {
		go func(w *sfu.Worker) {
			select {
			case <-ctx.Done():
			case <-w.Dead():
				log.Error("media worker died, aborting", slog.Int("worker", w.Index))
				time.Sleep(workerDeathGrace)
				os.Exit(1)
			}
		}(w)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&model.User{}, &model.Room{}, &model.Participant{},
		&model.Message{}, &model.MessageStatus{},
		&model.Call{}, &model.CallParticipant{}, &model.RecordingArtifact{},
	); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
