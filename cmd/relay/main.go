package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus/chat-app/internal/config"
	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/ratelimit"
	"github.com/nexus/chat-app/internal/relay"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logx.InitGlobalLogger(true)
		logx.Fatal(err, "failed to load config")
	}
	logx.InitGlobalLogger(cfg.IsDevelopment())

	serverCfg := relay.DefaultServerConfig()
	serverCfg.ListenAddr = cfg.RelayAddr
	serverCfg.Heartbeat.Interval = cfg.HeartbeatInterval
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			serverCfg.MaxConnections = n
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			serverCfg.WriteTimeout = d
		}
	}

	// Rate limiting is optional: without Redis the relay still runs.
	var limiter *ratelimit.Limiter
	var rdb *redis.Client
	if os.Getenv("RELAY_RATE_LIMIT") != "off" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logx.Warn("redis unavailable, rate limiting disabled", "redis_addr", cfg.RedisAddr, "error", err.Error())
			rdb.Close()
			rdb = nil
		} else {
			limiter = ratelimit.NewLimiter(rdb)
		}
	}

	logx.Info("nexus relay starting",
		"listen_addr", serverCfg.ListenAddr,
		"max_connections", serverCfg.MaxConnections,
		"write_timeout", serverCfg.WriteTimeout.String(),
		"heartbeat", serverCfg.Heartbeat.Interval.String(),
		"rate_limit", limiter != nil,
	)

	server := relay.NewServer(serverCfg, limiter)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logx.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logx.Error(err, "shutdown error")
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				logx.Error(err, "redis close error")
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logx.Fatal(err, "relay error")
	}
}
