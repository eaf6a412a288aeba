package server

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/config"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/metrics"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/store/redisstore"
	"github.com/mohammed-shakir/hotkey-sync/pkg/hotkey"
)

func testConfig(redisAddr string) config.ServerConfig {
	return config.ServerConfig{
		Addr:          "127.0.0.1:0",
		MaxFrameBytes: 1 << 20,
		Serializer:    "msgpack",
		WindowSize:    time.Second,
		WindowSlots:   10,
		MinCount:      3,
		DecayPeriod:   50 * time.Millisecond,
		HotKeyIdle:    time.Minute,
		Workers:       2,
		WorkerQueue:   64,
		ResultRedis:   config.RedisCfg{Addr: redisAddr, Prefix: "t:", TTL: time.Minute},
	}
}

func startServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(ctx, cfg, nil, metrics.BuildInfo{Version: "test"})
	if err != nil {
		cancel()
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Run did not stop")
		}
	})

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("server never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s
}

func newClient(t *testing.T, addr string) *hotkey.Client {
	t.Helper()
	c, err := hotkey.New(hotkey.Config{
		AppName:      "shop",
		Servers:      []string{addr},
		ReportPeriod: 20 * time.Millisecond,
		QueryPeriod:  time.Hour,
		QueryTimeout: time.Second,
		Heartbeat:    time.Hour,
	})
	if err != nil {
		t.Fatalf("hotkey.New: %v", err)
	}
	return c
}

func TestNew_RejectsUnknownSerializer(t *testing.T) {
	cfg := testConfig("")
	cfg.Serializer = "gob"
	if _, err := New(context.Background(), cfg, nil, metrics.BuildInfo{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_FailsWhenMirrorUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	if _, err := New(context.Background(), testConfig(addr), nil, metrics.BuildInfo{}); err == nil {
		t.Fatalf("expected error with redis down")
	}
}

func TestServer_RestoresMirroredResults(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rc, err := redisstore.New(ctx, mr.Addr(), "t:", time.Minute)
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	future := time.Now().Add(time.Hour).UnixMilli()
	if err := rc.Save(ctx, model.NewResult("shop", future, future, "sku:restored")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = rc.Close()

	s := startServer(t, testConfig(mr.Addr()))
	c := newClient(t, s.Addr().String())
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !c.IsHot("sku:restored") || c.View().Version("shop") != future {
		t.Fatalf("restored view missing: keys=%v version=%d", c.HotKeys(), c.View().Version("shop"))
	}
}

func TestServer_PromotionIsPushedAndMirrored(t *testing.T) {
	mr := miniredis.RunT(t)
	s := startServer(t, testConfig(mr.Addr()))

	c := newClient(t, s.Addr().String())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	for range 5 {
		c.Record("sku:9")
	}

	deadline := time.Now().Add(3 * time.Second)
	for !c.IsHot("sku:9") {
		if time.Now().After(deadline) {
			t.Fatalf("sku:9 never became hot on the client")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rc, err := redisstore.New(context.Background(), mr.Addr(), "t:", time.Minute)
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	defer func() { _ = rc.Close() }()
	deadline = time.Now().Add(3 * time.Second)
	for {
		r, err := rc.Load(context.Background(), "shop")
		if err == nil && r.Contains("sku:9") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("promotion not mirrored: %v %v", r, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_ShutdownMirrorsQueuedDetection(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, testConfig(mr.Addr()), nil, metrics.BuildInfo{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("server never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// a detection task still queued when shutdown begins
	ok := s.pool.Submit("shop", func(context.Context) {
		time.Sleep(100 * time.Millisecond)
		s.engine.IngestCounts("shop", time.Now().UnixMilli(), map[string]int64{"late": 5})
	})
	if !ok {
		t.Fatalf("task not accepted")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}

	rc, err := redisstore.New(context.Background(), mr.Addr(), "t:", time.Minute)
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	defer func() { _ = rc.Close() }()
	r, err := rc.Load(context.Background(), "shop")
	if err != nil || !r.Contains("late") {
		t.Fatalf("promotion from the last task was not mirrored: %v %v", r, err)
	}
}
