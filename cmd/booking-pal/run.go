package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Lilanga/booking-pal/internal/api"
	"github.com/Lilanga/booking-pal/internal/cache"
	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/connectivity"
	"github.com/Lilanga/booking-pal/internal/database"
	"github.com/Lilanga/booking-pal/internal/dispatch"
	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/events"
	"github.com/Lilanga/booking-pal/internal/google"
	"github.com/Lilanga/booking-pal/internal/logging"
	"github.com/Lilanga/booking-pal/internal/metrics"
	"github.com/Lilanga/booking-pal/internal/notify"
	"github.com/Lilanga/booking-pal/internal/queue"
	"github.com/Lilanga/booking-pal/internal/remote"
	"github.com/Lilanga/booking-pal/internal/repository"
	"github.com/Lilanga/booking-pal/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the kiosk backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
}

func (a *app) run(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger.With().Str("component", "main").Logger()
	loc := cfg.Calendar.Location()

	db, err := a.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	stateStore := initStateStore(db, redisClient, a.logger)

	bus := events.NewEventBus()

	prober := connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.Timeout)
	monitor := connectivity.NewMonitor(prober, stateStore, bus, cfg.Connectivity, logging.Component(a.logger, "connectivity"))
	if err := monitor.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Connection state not restored")
	}

	eventCache := cache.New(stateStore, logging.Component(a.logger, "cache"))
	if err := eventCache.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Event cache not restored")
	}

	offlineQueue := queue.New(db, bus, redisClient, cfg.Queue, logging.Component(a.logger, "queue"))

	calendarAPI, err := initCalendar(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	calendarAPI.SetLocation(loc)

	remoteClient := remote.NewClient(calendarAPI, cfg.Remote, monitor, logging.Component(a.logger, "remote"))
	remoteClient.SetLocation(loc)

	syncService := service.NewSyncService(monitor, offlineQueue, remoteClient, eventCache, bus, cfg, logging.Component(a.logger, "sync"))
	syncService.Subscribe(bus)

	kiosk := service.NewCalendarService(
		monitor, offlineQueue, remoteClient, eventCache, syncService,
		dispatch.NewManager(logging.Component(a.logger, "dispatch")),
		logging.Component(a.logger, "calendar"),
	)
	defer kiosk.Close()

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if notifier := initNotifier(cfg, a.logger); notifier != nil {
		notifier.Subscribe(bus)
		spawn(notifier.Start)
	}
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		spawn(func(ctx context.Context) { startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger) })
	}
	if cfg.Database.Snapshots.Enabled {
		snapshots := database.NewSnapshotService(db, cfg.Database.Snapshots, logging.Component(a.logger, "snapshots"))
		spawn(snapshots.Start)
	}

	spawn(monitor.Start)
	spawn(syncService.Start)

	if cfg.API.Enabled {
		if err := startAPI(ctx, cfg, kiosk, monitor, bus, loc, a.logger, spawn); err != nil {
			return err
		}
	}

	logger.Info().Str("room", cfg.Calendar.Title).Str("calendar_id", cfg.Calendar.ID).Msg("booking-pal started")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")
	wg.Wait()
	logger.Info().Msg("Shutdown complete")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, continuing with SQLite only")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("Redis connected")
	return redisClient
}

// initStateStore keeps SQLite as the durable copy and Redis, when present,
// as the primary read path.
func initStateStore(db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) domain.StateStore {
	if redisClient == nil {
		return db
	}
	return repository.NewFailoverStateStore(
		repository.NewRedisStateStore(redisClient),
		db,
		logging.Component(logger, "state-store"),
	)
}

func initCalendar(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*google.CalendarService, error) {
	calendarAPI, err := google.NewCalendarService(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize Google Calendar service")
		return nil, err
	}

	if email, err := google.ServiceAccountEmail(cfg.Calendar.CredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("Google Calendar credentials loaded")
	}

	if cfg.Calendar.Title == "" {
		// offline start is fine, the title is cosmetic
		title, err := calendarAPI.TestConnection(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Calendar title unavailable")
		} else {
			cfg.Calendar.Title = title
		}
	}
	return calendarAPI, nil
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) *notify.TelegramNotifier {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.AlertChatIDs) == 0 {
		return nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("Telegram alerts disabled")
		return nil
	}
	return notify.NewTelegramNotifier(botAPI, cfg.Telegram.AlertChatIDs, cfg.Calendar.Title, logging.Component(logger, "notify"))
}

func startAPI(
	ctx context.Context,
	cfg *config.Config,
	kiosk *service.CalendarService,
	monitor *connectivity.Monitor,
	bus *events.EventBus,
	loc *time.Location,
	logger *zerolog.Logger,
	spawn func(func(context.Context)),
) error {
	if cfg.API.HTTP.Enabled {
		httpServer := api.NewHTTPServer(cfg, kiosk, logger)
		httpServer.SetLocation(loc)
		spawn(func(ctx context.Context) {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("HTTP server stopped")
			}
		})
	}

	if cfg.API.GRPC.Enabled {
		grpcServer, err := api.NewGRPCServer(&cfg.API, logger)
		if err != nil {
			return fmt.Errorf("create grpc server: %w", err)
		}
		grpcServer.SetCalendarReachable(monitor.IsOnline())
		grpcServer.Subscribe(bus)
		spawn(func(ctx context.Context) {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				grpcServer.Shutdown(shutdownCtx)
			}()
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("gRPC server stopped")
			}
		})
	}
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
