package main

import (
	"context"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"roomcast/internal/announcements"
	"roomcast/internal/api"
	"roomcast/internal/cache"
	"roomcast/internal/config"
	"roomcast/internal/keepalive"
	"roomcast/internal/relay"
	"roomcast/internal/session"
	"roomcast/internal/subscriber"
	"roomcast/internal/ws"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conf, err := config.New()
	if err != nil {
		return err
	}

	var loggerOpts slog.HandlerOptions
	if conf.Env == config.EnvDev {
		loggerOpts = slog.HandlerOptions{Level: slog.LevelDebug}
	}

	jsonHandler := slog.NewJSONHandler(os.Stdout, &loggerOpts)
	logger := slog.New(jsonHandler)

	rel := relay.New(logger, relay.Options{MaxRoomNameLength: conf.MaxRoomNameLength})

	var sessionCache session.SessionCache = session.NopCache{}
	if conf.RedisEnabled {
		redisClient := redis.NewClient(&redis.Options{Addr: net.JoinHostPort(conf.RedisHost, conf.RedisPort)})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}()
		sessionCache = cache.NewRedisSessionCache(redisClient, conf.RedisSessionPrefix, conf.SessionTTL)

		multicaster := announcements.NewMulticaster(rel.Dispatcher, rel.Rooms)
		sub := subscriber.NewSubscriber(logger, redisClient, conf.RedisAnnouncementsChannel, multicaster)
		go func() {
			if err := sub.Start(ctx); err != nil {
				logger.Error("subscriber stopped with error", "error", err)
			}
		}()
	}

	if conf.KeepAliveURL != "" {
		go keepalive.NewClient(conf.KeepAliveURL, conf.KeepAliveInterval, logger).Run(ctx)
	}

	wsManager := ws.NewManager(ctx, logger, rel, sessionCache, ws.Options{
		SendBufferSize: conf.SendBufferSize,
		MaxMessageSize: conf.MaxMessageSize,
		RateLimit:      rate.Limit(conf.RateLimitPerSec),
		RateBurst:      conf.RateLimitBurst,
	})
	go wsManager.Start()
	defer wsManager.Shutdown()

	server := api.NewServer(conf, wsManager, logger)
	return server.Start(ctx)
}
