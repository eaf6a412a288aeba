package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type LogCfg struct {
	Level   string
	Console bool
	SampleN int
}

type RedisCfg struct {
	Addr         string
	Prefix       string
	TTL          time.Duration
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
}

// ServerConfig drives the hot-key server process.
type ServerConfig struct {
	Addr           string
	AdminAddr      string
	MetricsEnabled bool
	MaxFrameBytes  int
	Serializer     string

	WindowSize  time.Duration
	WindowSlots int
	MinCount    int64
	DecayPeriod time.Duration
	HotKeyIdle  time.Duration

	Workers     int
	WorkerQueue int

	ResultRedis RedisCfg
	Kafka       KafkaCfg
	Log         LogCfg
}

// ClientConfig drives an embedded hot-key client.
type ClientConfig struct {
	AppName        string
	Servers        []string
	Serializer     string
	MaxFrameBytes  int
	ReportPeriod   time.Duration
	QueryPeriod    time.Duration
	QueryTimeout   time.Duration
	ConnectTimeout time.Duration
	Heartbeat      time.Duration
	ReportConns    int
	LocalCacheSize int
	LocalCacheTTL  time.Duration
	Log            LogCfg
}

func ServerFromEnv() ServerConfig {
	windowSlots := getint("HOTKEY_WINDOW_SLOTS", 30)
	if windowSlots <= 0 {
		windowSlots = 30
	}
	workers := getint("HOTKEY_WORKERS", 4)
	if workers <= 0 {
		workers = 4
	}

	return ServerConfig{
		Addr:           getenv("HOTKEY_ADDR", ":8888"),
		AdminAddr:      getenv("HOTKEY_ADMIN_ADDR", ":9090"),
		MetricsEnabled: getbool("HOTKEY_METRICS_ENABLED", true),
		MaxFrameBytes:  getint("HOTKEY_MAX_FRAME_BYTES", 1<<20),
		Serializer:     getenv("HOTKEY_SERIALIZER", "msgpack"),

		WindowSize:  getduration("HOTKEY_WINDOW_SIZE", time.Second),
		WindowSlots: windowSlots,
		MinCount:    getint64("HOTKEY_MIN_COUNT", 3),
		DecayPeriod: getduration("HOTKEY_DECAY_PERIOD", time.Second),
		HotKeyIdle:  getduration("HOTKEY_IDLE", time.Minute),

		Workers:     workers,
		WorkerQueue: getint("HOTKEY_WORKER_QUEUE", 1024),

		ResultRedis: RedisCfg{
			Addr:         getenv("HOTKEY_RESULT_REDIS_ADDR", ""),
			Prefix:       getenv("HOTKEY_RESULT_REDIS_PREFIX", "hotkey:result:"),
			TTL:          getduration("HOTKEY_RESULT_REDIS_TTL", 10*time.Minute),
			PoolSize:     getint("HOTKEY_RESULT_REDIS_POOL_SIZE", 8),
			DialTimeout:  getduration("HOTKEY_RESULT_REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getduration("HOTKEY_RESULT_REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: getduration("HOTKEY_RESULT_REDIS_WRITE_TIMEOUT", time.Second),
		},
		Kafka: KafkaCfg{
			Enabled: getbool("HOTKEY_KAFKA_ENABLED", false),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("HOTKEY_KAFKA_TOPIC", "hotkey-changes"),
			Queue:   getint("HOTKEY_KAFKA_QUEUE", 1024),
		},
		Log: logFromEnv(),
	}
}

func ClientFromEnv() ClientConfig {
	return ClientConfig{
		AppName:        getenv("HOTKEY_APP", "default"),
		Servers:        splitCSV(getenv("HOTKEY_SERVERS", "127.0.0.1:8888")),
		Serializer:     getenv("HOTKEY_SERIALIZER", "msgpack"),
		MaxFrameBytes:  getint("HOTKEY_MAX_FRAME_BYTES", 1<<20),
		ReportPeriod:   getduration("HOTKEY_REPORT_PERIOD", 500*time.Millisecond),
		QueryPeriod:    getduration("HOTKEY_QUERY_PERIOD", 30*time.Second),
		QueryTimeout:   getduration("HOTKEY_QUERY_TIMEOUT", 3*time.Second),
		ConnectTimeout: getduration("HOTKEY_CONNECT_TIMEOUT", 3*time.Second),
		Heartbeat:      getduration("HOTKEY_HEARTBEAT", 30*time.Second),
		ReportConns:    getint("HOTKEY_REPORT_CONNS", 2),
		LocalCacheSize: getint("HOTKEY_LOCAL_CACHE_SIZE", 10000),
		LocalCacheTTL:  getduration("HOTKEY_LOCAL_CACHE_TTL", 5*time.Minute),
		Log:            logFromEnv(),
	}
}

func logFromEnv() LogCfg {
	return LogCfg{
		Level:   getenv("LOG_LEVEL", "info"),
		Console: getbool("LOG_CONSOLE", false),
		SampleN: getint("LOG_SAMPLE_N", 0),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

// accepts Go durations ("1.5s") or bare integers as milliseconds
func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
