package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/store"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/window"
)

type fakeStats struct {
	stats    map[string]window.AggregatedKeyStat
	activity map[string]model.HotKeyEntry
}

func (f fakeStats) Stat(app, key string) (window.AggregatedKeyStat, bool) {
	s, ok := f.stats[app+"|"+key]
	return s, ok
}

func (f fakeStats) Activity(app, key string) (model.HotKeyEntry, bool) {
	e, ok := f.activity[app+"|"+key]
	return e, ok
}

func (f fakeStats) TopKeys(app string, n int) []window.AggregatedKeyStat {
	var out []window.AggregatedKeyStat
	for k, s := range f.stats {
		if strings.HasPrefix(k, app+"|") && len(out) < n {
			out = append(out, s)
		}
	}
	return out
}

type readyStub bool

func (r readyStub) Readiness() (bool, map[string]int) { return bool(r), nil }

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewMemory()
	st.Put(model.NewResult("shop", 42, 1000, "sku:1", "sku/2"))
	stats := fakeStats{
		stats: map[string]window.AggregatedKeyStat{
			"shop|sku:1": {Key: "sku:1", TotalCount: 12, SuccessCount: 10, FailCount: 2, TotalRTMillis: 60},
			"shop|cold":  {Key: "cold", TotalCount: 1, SuccessCount: 1},
		},
		activity: map[string]model.HotKeyEntry{
			"shop|sku:1": {Key: "sku:1", Score: 12, LastActiveMillis: 990},
		},
	}
	return Router(Deps{Ready: readyStub(true), Results: st, Stats: stats})
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rr.Code == http.StatusOK {
		if err := json.NewDecoder(rr.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rr.Code
}

func TestAdmin_ListApps(t *testing.T) {
	h := newRouter(t)
	var apps []appSummary
	if code := get(t, h, "/apps", &apps); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(apps) != 1 || apps[0].App != "shop" || apps[0].Version != 42 || apps[0].HotKeys != 2 {
		t.Fatalf("apps=%+v", apps)
	}
}

func TestAdmin_HotKeys(t *testing.T) {
	h := newRouter(t)
	var body struct {
		App     string       `json:"app"`
		Version int64        `json:"version"`
		Keys    []hotKeyView `json:"keys"`
	}
	if code := get(t, h, "/apps/shop/hotkeys", &body); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if body.Version != 42 || len(body.Keys) != 2 || body.Keys[0].Key != "sku/2" || body.Keys[1].Score != 12 {
		t.Fatalf("body=%+v", body)
	}
	if code := get(t, h, "/apps/nope/hotkeys", nil); code != http.StatusNotFound {
		t.Fatalf("unknown app status=%d want 404", code)
	}
}

func TestAdmin_KeyStat(t *testing.T) {
	h := newRouter(t)

	var s keyStat
	if code := get(t, h, "/apps/shop/keys/sku:1/stat", &s); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if !s.Hot || s.Total != 12 || s.Fail != 2 || s.AvgRTMillis != 5 || s.LastActiveMillis != 990 {
		t.Fatalf("stat=%+v", s)
	}

	// escaped slash reaches the handler as one key
	s = keyStat{}
	if code := get(t, h, "/apps/shop/keys/sku%2F2/stat", &s); code != http.StatusOK || !s.Hot || s.Key != "sku/2" {
		t.Fatalf("escaped key: code=%d stat=%+v", code, s)
	}

	if code := get(t, h, "/apps/shop/keys/missing/stat", nil); code != http.StatusNotFound {
		t.Fatalf("missing key status=%d want 404", code)
	}
}

func TestAdmin_TopKeys(t *testing.T) {
	h := newRouter(t)
	var top []keyStat
	if code := get(t, h, "/apps/shop/top?n=5", &top); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(top) != 2 {
		t.Fatalf("top=%+v", top)
	}
	if code := get(t, h, "/apps/shop/top?n=zero", nil); code != http.StatusBadRequest {
		t.Fatalf("bad n status=%d want 400", code)
	}
}

func TestAdmin_Probes(t *testing.T) {
	h := newRouter(t)
	if code := get(t, h, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz=%d", code)
	}
	if code := get(t, h, "/readyz", nil); code != http.StatusOK {
		t.Fatalf("readyz=%d", code)
	}
	if code := get(t, h, "/metrics", nil); code != http.StatusOK {
		t.Fatalf("metrics=%d", code)
	}
}
