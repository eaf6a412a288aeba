package config

import (
	"reflect"
	"testing"
	"time"
)

func TestServerFromEnv_Defaults(t *testing.T) {
	cfg := ServerFromEnv()
	if cfg.Addr != ":8888" || cfg.MaxFrameBytes != 1<<20 {
		t.Fatalf("unexpected transport defaults: %+v", cfg)
	}
	if cfg.WindowSize != time.Second || cfg.WindowSlots != 30 || cfg.MinCount != 3 {
		t.Fatalf("unexpected window defaults: %+v", cfg)
	}
	if cfg.DecayPeriod != time.Second || cfg.HotKeyIdle != time.Minute {
		t.Fatalf("unexpected decay defaults: %+v", cfg)
	}
	if cfg.ResultRedis.Addr != "" || cfg.Kafka.Enabled {
		t.Fatalf("optional sinks must default off: %+v", cfg)
	}
}

func TestServerFromEnv_Overrides(t *testing.T) {
	t.Setenv("HOTKEY_MIN_COUNT", "10")
	t.Setenv("HOTKEY_IDLE", "5000")
	t.Setenv("HOTKEY_WINDOW_SIZE", "250ms")
	t.Setenv("HOTKEY_WINDOW_SLOTS", "-1")
	t.Setenv("HOTKEY_KAFKA_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")

	cfg := ServerFromEnv()
	if cfg.MinCount != 10 {
		t.Fatalf("MinCount=%d want 10", cfg.MinCount)
	}
	if cfg.HotKeyIdle != 5*time.Second {
		t.Fatalf("HotKeyIdle=%v want 5s (bare millis)", cfg.HotKeyIdle)
	}
	if cfg.WindowSize != 250*time.Millisecond {
		t.Fatalf("WindowSize=%v", cfg.WindowSize)
	}
	if cfg.WindowSlots != 30 {
		t.Fatalf("invalid slot count should fall back, got %d", cfg.WindowSlots)
	}
	if !cfg.Kafka.Enabled || !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("kafka cfg=%+v", cfg.Kafka)
	}
}

func TestClientFromEnv_Servers(t *testing.T) {
	t.Setenv("HOTKEY_APP", "orders")
	t.Setenv("HOTKEY_SERVERS", "a:1,b:2")

	cfg := ClientFromEnv()
	if cfg.AppName != "orders" || len(cfg.Servers) != 2 {
		t.Fatalf("unexpected client cfg: %+v", cfg)
	}
	if cfg.ReportPeriod != 500*time.Millisecond || cfg.QueryTimeout != 3*time.Second {
		t.Fatalf("unexpected periods: %+v", cfg)
	}
}
