package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_reports_total",
			Help: "Access reports received by result.",
		},
		[]string{"result"},
	)

	reportKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotkey_report_keys_total",
			Help: "Key entries folded into sliding windows.",
		},
	)

	hotKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hotkey_hot_keys",
			Help: "Current number of hot keys per application.",
		},
		[]string{"app"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_transitions_total",
			Help: "Hot-key state transitions (promote, demote).",
		},
		[]string{"kind"},
	)

	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_push_events_total",
			Help: "Change events handled by the publisher (added, removed).",
		},
		[]string{"kind"},
	)

	pushSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_push_sent_total",
			Help: "Push frames written by delivery scope (app, global).",
		},
		[]string{"scope"},
	)

	publishQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotkey_publish_queue_depth",
			Help: "Events waiting in the change publisher queue.",
		},
	)

	queriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotkey_queries_total",
			Help: "Hot-key queries answered.",
		},
	)

	frameErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_frame_errors_total",
			Help: "Connections closed or messages dropped because of bad input.",
		},
		[]string{"reason"},
	)

	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotkey_connections",
			Help: "Open client connections.",
		},
	)

	workerDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotkey_worker_dropped_total",
			Help: "Tasks dropped because a worker queue was full.",
		},
	)

	workerPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotkey_worker_panics_total",
			Help: "Worker tasks that panicked and were recovered.",
		},
	)

	clientCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_client_cache_total",
			Help: "Client cache template outcomes (hit, miss, bypass, error).",
		},
		[]string{"outcome"},
	)

	clientLoadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotkey_client_load_seconds",
			Help:    "Origin loader latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	clientViewUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_client_view_updates_total",
			Help: "Client hot-key view updates by kind (snapshot, diff) and result (applied, stale).",
		},
		[]string{"kind", "result"},
	)

	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hotkey_store_op_seconds",
			Help:    "Latency of result mirror operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op", "result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hotkey_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Init registers the hot-key collectors on reg. With enabled=false or a nil
// registerer the helpers keep working but nothing is exported.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	cs := []prometheus.Collector{
		reportsTotal, reportKeysTotal, hotKeys, transitionsTotal,
		pushEventsTotal, pushSentTotal, publishQueueDepth, queriesTotal,
		frameErrorsTotal, connections, workerDroppedTotal, workerPanicsTotal,
		clientCacheTotal, clientLoadSeconds, clientViewUpdatesTotal, storeOpSeconds, buildInfo,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func IncReport(result string) { reportsTotal.WithLabelValues(result).Inc() }

func AddReportKeys(n int) {
	if n > 0 {
		reportKeysTotal.Add(float64(n))
	}
}

func SetHotKeys(app string, n int) { hotKeys.WithLabelValues(app).Set(float64(n)) }

func IncPromote() { transitionsTotal.WithLabelValues("promote").Inc() }

func AddDemote(n int) {
	if n > 0 {
		transitionsTotal.WithLabelValues("demote").Add(float64(n))
	}
}

func IncPushEvent(added bool) {
	if added {
		pushEventsTotal.WithLabelValues("added").Inc()
		return
	}
	pushEventsTotal.WithLabelValues("removed").Inc()
}

func AddPushSent(global bool, n int) {
	if n <= 0 {
		return
	}
	scope := "app"
	if global {
		scope = "global"
	}
	pushSentTotal.WithLabelValues(scope).Add(float64(n))
}

func SetPublishQueueDepth(n int) { publishQueueDepth.Set(float64(n)) }

func IncQuery() { queriesTotal.Inc() }

func IncFrameError(reason string) { frameErrorsTotal.WithLabelValues(reason).Inc() }

func ConnOpened() { connections.Inc() }
func ConnClosed() { connections.Dec() }

func IncWorkerDropped() { workerDroppedTotal.Inc() }
func IncWorkerPanic()   { workerPanicsTotal.Inc() }

func IncClientCache(outcome string) { clientCacheTotal.WithLabelValues(outcome).Inc() }

func ObserveClientLoad(seconds float64) { clientLoadSeconds.Observe(seconds) }

func IncViewUpdate(kind string, applied bool) {
	result := "stale"
	if applied {
		result = "applied"
	}
	clientViewUpdatesTotal.WithLabelValues(kind, result).Inc()
}

func ObserveStoreOp(op string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpSeconds.WithLabelValues(op, result).Observe(seconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
