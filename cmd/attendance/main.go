package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"factoryops/internal/access"
	"factoryops/internal/api"
	"factoryops/internal/attendance"
	"factoryops/internal/audit"
	"factoryops/internal/clock"
	"factoryops/internal/config"
	"factoryops/internal/database"
	"factoryops/internal/device"
	"factoryops/internal/events"
	"factoryops/internal/export"
	"factoryops/internal/metrics"
	"factoryops/internal/stats"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	loc, _ := cfg.Location()
	shiftStart, _ := cfg.ShiftStart()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path := cfg.Directory.EmployeesPath; path != "" {
		if err := syncEmployees(ctx, db, path, &logger); err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("failed to sync employee directory")
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	cache := stats.NewCache(rdb, cfg.StatsCacheTTL())

	bus := events.NewEventBus(func(ev events.Event, err error) {
		metrics.IncActivityDropped()
		logger.Warn().Err(err).
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Int64("employee_id", ev.EmployeeID).
			Msg("event handler failed")
	})
	bus.SubscribeAll(events.AttendanceTypes, func(ev events.Event) error {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.RecordActivity(writeCtx, ev)
	})
	if rdb != nil {
		bus.SubscribeAll(events.AttendanceTypes, cache.InvalidateOn())
	}

	policy := attendance.Policy{
		Location:        loc,
		ShiftStart:      shiftStart,
		LateGrace:       cfg.LateGrace(),
		HalfDayHours:    cfg.Attendance.HalfDayHours,
		ClockOutOnBreak: attendance.BreakPolicy(cfg.Attendance.ClockOutOnBreak),
	}
	clk := clock.Real{}
	tracker := attendance.NewService(db, db, clk, policy, bus, logger)

	aggregator := stats.NewAggregator(db, clk, loc, cfg.StandardHours(), logger)
	aggregator.UseCache(cache)

	classifier, err := newClassifier(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load factory network")
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	backup := database.NewBackupService(db, cfg.Backup, &logger)
	go backup.Start(ctx)

	if cfg.Audit.Enabled {
		auditSvc := audit.NewService(
			&audit.Config{Name: "factoryops"},
			db,
			func() audit.Workbook { return export.NewSheetWriter() },
			newAuditNotifier(cfg, &logger),
			audit.NewZerologLogger(logger.With().Str("component", "audit").Logger()),
		)
		auditSvc.Start()
		defer auditSvc.Stop()
	}

	server := api.NewHTTPServer(api.Config{
		Port:              cfg.ServerPort(),
		APIKey:            cfg.Server.APIKey,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, api.Deps{
		Tracker:    tracker,
		Access:     access.NewService(db, database.ErrNotFound, logger),
		Reporter:   aggregator,
		Exporter:   export.NewExporter(loc),
		Classifier: classifier,
		Clock:      clk,
	}, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	logger.Info().Str("timezone", loc.String()).Msg("Attendance service started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("API server error")
		stop()
	}

	bus.Wait()
	logger.Info().Msg("Attendance service stopped")
}

func syncEmployees(ctx context.Context, db *database.DB, path string, logger *zerolog.Logger) error {
	entries, err := config.LoadEmployees(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		emp := entry.Employee()
		if emp.PINHash, err = attendance.HashPIN(entry.PIN); err != nil {
			return err
		}
		if err := db.UpsertEmployee(ctx, &emp); err != nil {
			return err
		}
	}
	logger.Info().Int("count", len(entries)).Msg("Employee directory synced")
	return nil
}

func newClassifier(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*device.Classifier, error) {
	classifier, err := device.NewClassifier(nil, nil, net.DefaultResolver)
	if err != nil {
		return nil, err
	}
	path := cfg.FactoryNetwork.Path
	if path == "" {
		logger.Warn().Msg("No factory network configured, every device is treated as off-site")
		return classifier, nil
	}

	err = config.WatchFactoryNetwork(ctx, path, cfg.FactoryNetworkWatchInterval(), func(fn *config.FactoryNetwork) {
		if err := classifier.Update(fn.CIDRs, fn.HostnameSuffixes); err != nil {
			logger.Error().Err(err).Msg("Failed to apply factory network")
			return
		}
		logger.Info().Str("network", fn.String()).Msg("Factory network loaded")
	}, func(err error) {
		logger.Error().Err(err).Str("path", path).Msg("Factory network reload failed")
	})
	if err != nil {
		return nil, err
	}
	return classifier, nil
}

func newAuditNotifier(cfg *config.Config, logger *zerolog.Logger) audit.Notifier {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == 0 {
		return audit.NewDirNotifier(cfg.AuditDir())
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Telegram unavailable, audit reports go to the audit directory")
		return audit.NewDirNotifier(cfg.AuditDir())
	}
	return audit.NewTelegramNotifier(bot, cfg.Telegram.ChatID)
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
