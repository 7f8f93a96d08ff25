package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/teleconsult-booking/internal/config"
	"github.com/hackgods/teleconsult-booking/internal/logger"
	"github.com/hackgods/teleconsult-booking/internal/notify"
	redisclient "github.com/hackgods/teleconsult-booking/internal/redis"
)

const (
	batchSize     = 16
	claimMinIdle  = time.Minute
	claimInterval = 30 * time.Second
	deliveredTTL  = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("prod", "notify-worker")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "notify-worker")
	log.Info().
		Str("stream", cfg.NotifyStream).
		Str("group", cfg.NotifyGroup).
		Dur("block", cfg.WorkerInterval).
		Msg("notify-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.WorkerInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	hostname, _ := os.Hostname()
	consumer := redisclient.NewStreamConsumer(rdb, cfg.NotifyStream, cfg.NotifyGroup, hostname+"-"+time.Now().Format("150405"))
	if err := consumer.EnsureGroup(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("consumer group setup error")
	}

	var email notify.EmailSender
	if cfg.SMTPHost != "" {
		email = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	} else {
		log.Warn().Msg("SMTP_HOST not set, email delivery disabled")
	}
	var sms notify.SMSSender
	if cfg.SMSGatewayURL != "" {
		sms = notify.NewHTTPSMSSender(cfg.SMSGatewayURL, cfg.SMSGatewayUser, cfg.SMSGatewayToken, cfg.SMSPrefix)
	} else {
		log.Warn().Msg("SMS_GATEWAY_URL not set, sms delivery disabled")
	}

	w := &worker{
		stream:     consumer,
		guard:      redisclient.NewDeliveryGuard(rdb, deliveredTTL),
		dispatcher: notify.NewDispatcher(email, sms, cfg.AppName, log),
		block:      cfg.WorkerInterval,
		log:        log,
	}
	w.run(rootCtx)
	log.Info().Msg("shutdown signal received, notify-worker stopped")
}
