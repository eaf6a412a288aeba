package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/hotkey-sync/internal/app/server"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/config"
	"github.com/mohammed-shakir/hotkey-sync/internal/logger"
	"github.com/mohammed-shakir/hotkey-sync/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "", "TCP listen address (overrides HOTKEY_ADDR)")
	adminAddr := flag.String("admin-addr", "", "admin HTTP address (overrides HOTKEY_ADMIN_ADDR)")
	minCount := flag.Int64("min-count", 0, "hot threshold per window (overrides HOTKEY_MIN_COUNT)")
	flag.Parse()

	cfg := config.ServerFromEnv()
	if *addr != "" {
		cfg.Addr = strings.TrimSpace(*addr)
	}
	if *adminAddr != "" {
		cfg.AdminAddr = strings.TrimSpace(*adminAddr)
	}
	if *minCount > 0 {
		cfg.MinCount = *minCount
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Component: "hotkey-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting hotkey server",
		"addr", cfg.Addr,
		"admin_addr", cfg.AdminAddr,
		"version", Version,
		"serializer", cfg.Serializer,
		"window", cfg.WindowSize.String(),
		"slots", cfg.WindowSlots,
		"min_count", cfg.MinCount,
		"redis_mirror", cfg.ResultRedis.Addr != "",
		"kafka_feed", cfg.Kafka.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	build := metrics.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	}
	if err := server.Run(ctx, cfg, appLog, build); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
