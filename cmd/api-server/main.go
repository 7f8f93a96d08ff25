package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/teleconsult-booking/internal/api"
	"github.com/hackgods/teleconsult-booking/internal/appointment"
	"github.com/hackgods/teleconsult-booking/internal/config"
	"github.com/hackgods/teleconsult-booking/internal/db"
	"github.com/hackgods/teleconsult-booking/internal/logger"
	"github.com/hackgods/teleconsult-booking/internal/metrics"
	"github.com/hackgods/teleconsult-booking/internal/notify"
	redisclient "github.com/hackgods/teleconsult-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("prod", "api-server")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	applied, err := db.NewMigrator(pgPool, db.Migrations()).Up(rootCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("migration error")
	}
	log.Info().Int("applied", applied).Msg("schema up to date")

	// Without Redis the core still books; events are only logged.
	var publisher notify.Publisher = notify.LogPublisher{Logger: log}
	var redisPing api.PingFunc
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.WorkerInterval)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, notification events will only be logged")
	} else {
		defer closeRedis(log, rdb)
		publisher = redisclient.NewStreamPublisher(rdb, cfg.NotifyStream)
		redisPing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info().Str("stream", cfg.NotifyStream).Msg("connected to Redis")
	}

	svc := appointment.NewService(appointment.NewPgStore(pgPool),
		appointment.WithPolicy(appointment.PolicyFromConfig(cfg)),
		appointment.WithLocation(cfg.Location()),
		appointment.WithPublisher(publisher),
		appointment.WithNotifyTimeout(cfg.NotifyTimeout),
		appointment.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
		appointment.WithLogger(log.With().Str("component", "booking").Logger()),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		PostgresPing: pgPool.Ping,
		RedisPing:    redisPing,
		Gatherer:     prometheus.DefaultGatherer,
		Logger:       log,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			stop()
			os.Exit(1)
		}
	}

	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func closeRedis(log zerolog.Logger, rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis")
	}
}
