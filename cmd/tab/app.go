package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nexus/chat-app/internal/auth"
	"github.com/nexus/chat-app/internal/bus"
	"github.com/nexus/chat-app/internal/config"
	"github.com/nexus/chat-app/internal/kv"
	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/messaging"
	"github.com/nexus/chat-app/internal/store"
)

var (
	memOnce sync.Once
	mem     *kv.Memory
)

// processMemory returns the in-memory store shared by every app in this
// process. The quota of the first caller wins.
func processMemory(quota int) *kv.Memory {
	memOnce.Do(func() { mem = kv.NewMemory(quota) })
	return mem
}

// stdin is shared by the password prompt and the chat loop so buffered input
// is never lost between them.
var stdin = bufio.NewScanner(os.Stdin)

// app is everything one tab process owns.
type app struct {
	cfg       *config.AppConfig
	storage   kv.Storage
	store     *store.Store
	auth      *auth.Service
	transport messaging.Transport
	closers   []func()
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if storageFlag != "" {
		cfg.Storage = strings.ToLower(storageFlag)
	}
	if transportFlag != "" {
		cfg.Transport = strings.ToLower(transportFlag)
	}
	if channelFlag != "" {
		cfg.ChannelName = channelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Component loggers copy the global logger, so output must be set first.
	logx.InitGlobalLogger(cfg.IsDevelopment())
	if err := initLog(logFile); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	switch cfg.Storage {
	case config.StorageRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		r, err := kv.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.StorageQuotaBytes)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w (start Redis, or pass --storage memory for a tab that keeps nothing after exit)", err)
		}
		a.storage = r
		a.closers = append(a.closers, func() { _ = r.Close() })
	default:
		a.storage = processMemory(cfg.StorageQuotaBytes)
	}

	a.store = store.New(a.storage, store.WithAlert(alert))
	a.auth = auth.NewService(a.store, cfg.OperatorName)
	return a, nil
}

// openTransport connects the bus transport. It is deferred until a user is
// known so that failed logins never touch the network.
func (a *app) openTransport() error {
	switch a.cfg.Transport {
	case config.TransportRelay:
		rc := messaging.DefaultRelayConfig()
		rc.URL = a.cfg.RelayURL
		a.transport = messaging.NewRelayClient(rc)
	default:
		nc := messaging.DefaultNATSConfig()
		nc.URL = a.cfg.NATSURL
		client, err := messaging.NewNATSClient(nc)
		if err != nil {
			return err
		}
		a.transport = client
		a.closers = append(a.closers, client.Close)
	}
	return nil
}

func (a *app) newBus() *bus.Bus {
	return bus.New(a.transport, a.store, a.cfg.ChannelName)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// alert shows store and session notices above the prompt.
func alert(msg string) {
	fmt.Printf("\n⚠️  %s\n", msg)
}

func initLog(path string) error {
	switch path {
	case "":
		logx.SetOutput(io.Discard)
	case "-":
		logx.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logx.SetOutput(f)
	}
	return nil
}

func readPassword(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Print("Password: ")
	if !stdin.Scan() {
		if err := stdin.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return stdin.Text(), nil
}
