package remoting

import (
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
)

// ChannelManager tracks every open server-side connection and which of
// them asked for pushes of which application.
type ChannelManager struct {
	mu    sync.RWMutex
	all   map[*Conn]struct{}
	byApp map[string]map[*Conn]struct{}
	log   *slog.Logger
}

func NewChannelManager(log *slog.Logger) *ChannelManager {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelManager{
		all:   map[*Conn]struct{}{},
		byApp: map[string]map[*Conn]struct{}{},
		log:   log,
	}
}

func (m *ChannelManager) Add(c *Conn) {
	m.mu.Lock()
	m.all[c] = struct{}{}
	m.mu.Unlock()
}

// Register subscribes c to pushes for app.
func (m *ChannelManager) Register(app string, c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all[c] = struct{}{}
	subs := m.byApp[app]
	if subs == nil {
		subs = map[*Conn]struct{}{}
		m.byApp[app] = subs
	}
	subs[c] = struct{}{}
}

func (m *ChannelManager) Remove(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.all, c)
	for app, subs := range m.byApp {
		delete(subs, c)
		if len(subs) == 0 {
			delete(m.byApp, app)
		}
	}
}

func (m *ChannelManager) Subscribers(app string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.byApp[app]))
	for c := range m.byApp[app] {
		out = append(out, c)
	}
	return out
}

func (m *ChannelManager) All() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.all))
	for c := range m.all {
		out = append(out, c)
	}
	return out
}

func (m *ChannelManager) Counts() (conns, apps int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.all), len(m.byApp)
}

// Broadcast sends cmd to app's subscribers, or to every connection when
// app has none. It returns how many writes succeeded and whether the
// global fallback was used.
func (m *ChannelManager) Broadcast(app string, cmd protocol.Command) (sent int, global bool) {
	targets := m.Subscribers(app)
	if len(targets) == 0 {
		targets = m.All()
		global = true
	}
	for _, c := range targets {
		if err := c.Send(cmd); err != nil {
			m.log.Warn("push write failed", "app", app, "conn", c.ID(), "err", err)
			continue
		}
		sent++
	}
	return sent, global
}
