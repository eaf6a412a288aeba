// Package server is the operator-facing HTTP API of the hot-key server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/health"
	middleware "github.com/mohammed-shakir/hotkey-sync/internal/core/middleware"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/window"
)

type Results interface {
	Get(app string) (*model.HotKeyResult, bool)
	Apps() []string
}

type Stats interface {
	Stat(app, key string) (window.AggregatedKeyStat, bool)
	Activity(app, key string) (model.HotKeyEntry, bool)
	TopKeys(app string, n int) []window.AggregatedKeyStat
}

type Deps struct {
	Addr    string
	Logger  *slog.Logger
	Metrics http.Handler
	Ready   health.ReadinessReporter
	Results Results
	Stats   Stats
}

func Router(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	a := &api{results: d.Results, stats: d.Stats}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	r.Method(http.MethodGet, "/metrics", d.Metrics)

	r.Route("/apps", func(r chi.Router) {
		r.Get("/", a.listApps)
		r.Get("/{app}/hotkeys", a.hotKeys)
		r.Get("/{app}/top", a.topKeys)
		r.Get("/{app}/keys/{key}/stat", a.keyStat)
	})
	return r
}

// Run serves the admin API until ctx is done.
func Run(ctx context.Context, d Deps) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              d.Addr,
		Handler:           Router(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin http listen", "addr", d.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type api struct {
	results Results
	stats   Stats
}

type appSummary struct {
	App              string `json:"app"`
	Version          int64  `json:"version"`
	LastUpdateMillis int64  `json:"lastUpdateMillis"`
	HotKeys          int    `json:"hotKeys"`
}

type hotKeyView struct {
	Key              string  `json:"key"`
	Score            int64   `json:"score"`
	LastActiveMillis int64   `json:"lastActiveMillis,omitempty"`
}

type keyStat struct {
	App              string  `json:"app"`
	Key              string  `json:"key"`
	Hot              bool    `json:"hot"`
	Total            int64   `json:"total"`
	Success          int64   `json:"success"`
	Fail             int64   `json:"fail"`
	AvgRTMillis      float64 `json:"avgRtMillis"`
	LastActiveMillis int64   `json:"lastActiveMillis,omitempty"`
}

func (a *api) listApps(w http.ResponseWriter, _ *http.Request) {
	apps := a.results.Apps()
	out := make([]appSummary, 0, len(apps))
	for _, app := range apps {
		res, ok := a.results.Get(app)
		if !ok {
			continue
		}
		out = append(out, appSummary{
			App: app, Version: res.Version, LastUpdateMillis: res.LastUpdateMillis, HotKeys: res.Len(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) hotKeys(w http.ResponseWriter, r *http.Request) {
	app := param(r, "app")
	res, ok := a.results.Get(app)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown app")
		return
	}
	keys := res.Keys()
	views := make([]hotKeyView, 0, len(keys))
	for _, k := range keys {
		v := hotKeyView{Key: k}
		if a.stats != nil {
			if e, ok := a.stats.Activity(app, k); ok {
				v.Score, v.LastActiveMillis = e.Score, e.LastActiveMillis
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, struct {
		appSummary
		Keys []hotKeyView `json:"keys"`
	}{
		appSummary: appSummary{App: app, Version: res.Version, LastUpdateMillis: res.LastUpdateMillis, HotKeys: len(keys)},
		Keys:       views,
	})
}

func (a *api) topKeys(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		writeError(w, http.StatusNotFound, "stats unavailable")
		return
	}
	n := 10
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = v
	}
	app := param(r, "app")
	top := a.stats.TopKeys(app, n)
	out := make([]keyStat, 0, len(top))
	for _, s := range top {
		out = append(out, a.statOf(app, s.Key, s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) keyStat(w http.ResponseWriter, r *http.Request) {
	app, key := param(r, "app"), param(r, "key")
	var s window.AggregatedKeyStat
	found := false
	if a.stats != nil {
		s, found = a.stats.Stat(app, key)
	}
	out := a.statOf(app, key, s)
	if !found && !out.Hot {
		writeError(w, http.StatusNotFound, "key not seen in window")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) statOf(app, key string, s window.AggregatedKeyStat) keyStat {
	out := keyStat{
		App: app, Key: key,
		Total: s.TotalCount, Success: s.SuccessCount, Fail: s.FailCount, AvgRTMillis: s.AvgRTMillis(),
	}
	if res, ok := a.results.Get(app); ok {
		out.Hot = res.Contains(key)
	}
	if a.stats != nil {
		if e, ok := a.stats.Activity(app, key); ok {
			out.LastActiveMillis = e.LastActiveMillis
		}
	}
	return out
}

func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
