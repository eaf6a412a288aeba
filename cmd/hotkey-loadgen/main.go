package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
	"github.com/mohammed-shakir/hotkey-sync/internal/logger"
	"github.com/mohammed-shakir/hotkey-sync/internal/metrics"
	"github.com/mohammed-shakir/hotkey-sync/pkg/hotkey"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := hotkey.ConfigFromEnv()

	var w workload
	app := flag.String("app", "", "application name (overrides HOTKEY_APP)")
	servers := flag.String("servers", "", "comma separated server addresses (overrides HOTKEY_SERVERS)")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	every := flag.Duration("progress", 5*time.Second, "progress log interval")
	out := flag.String("out", "", "optional JSON summary path")
	flag.IntVar(&w.Keys, "keys", 10000, "distinct keys")
	flag.Float64Var(&w.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&w.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&w.Concurrency, "concurrency", 16, "concurrent workers")
	flag.DurationVar(&w.LoadLatency, "load-latency", 2*time.Millisecond, "simulated backing store latency")
	flag.Parse()

	if *app != "" {
		cfg.AppName = strings.TrimSpace(*app)
	}
	if *servers != "" {
		cfg.Servers = strings.Split(*servers, ",")
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		App:       cfg.AppName,
		Component: "hotkey-loadgen",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{Enabled: true, Role: "loadgen", Build: metrics.BuildInfo{Version: Version}})
	observability.Init(p.Registerer(), p.Enabled())

	client, err := hotkey.New(cfg, hotkey.WithLogger(appLog))
	if err != nil {
		appLog.Error("client setup failed", "err", err)
		return 1
	}
	cache := hotkey.NewCache(client, hotkey.CacheOptions[string]{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		appLog.Error("client start failed", "err", err)
		return 1
	}
	appLog.Info("loadgen start",
		"servers", cfg.Servers, "duration", duration.String(), "concurrency", w.Concurrency,
		"keys", w.Keys, "zipf_s", w.ZipfS, "zipf_v", w.ZipfV, "instance", client.InstanceID())

	w.Seed = time.Now().UnixNano()
	var c counters
	start := time.Now()
	go progress(ctx, *every, func() {
		s := c.summary(len(client.HotKeys()), time.Since(start))
		appLog.Info("progress", "gets", s.Gets, "loads", s.Loads, "hit_ratio", s.HitRatio, "hot_keys", s.HotKeys)
	})
	drive(ctx, w, cache, &c)

	s := c.summary(len(client.HotKeys()), time.Since(start))
	if err := client.Close(); err != nil {
		appLog.Warn("client close", "err", err)
	}
	appLog.Info("loadgen done",
		"gets", s.Gets, "loads", s.Loads, "errors", s.Errors, "hit_ratio", s.HitRatio, "hot_keys", s.HotKeys)

	if *out != "" {
		if err := writeSummary(*out, s); err != nil {
			appLog.Error("write summary", "err", err)
			return 1
		}
	}
	return 0
}

func progress(ctx context.Context, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

func writeSummary(path string, s summary) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
