// Package handlers binds protocol commands to the detection engine, the
// result store and the push-channel registry.
package handlers

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
	"github.com/mohammed-shakir/hotkey-sync/internal/logger"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/store"
)

type Ingester interface {
	IngestCounts(app string, tsMillis int64, counts map[string]int64) []string
}

type Results interface {
	Get(app string) (*model.HotKeyResult, bool)
	Apps() []string
}

type Submitter interface {
	Submit(shardKey string, fn func(ctx context.Context)) bool
}

type Deps struct {
	Engine     Ingester
	Results    Results
	Pool       Submitter
	Serializer protocol.Serializer
	Logger     *slog.Logger
}

type handlers struct {
	Deps
	channels *remoting.ChannelManager
}

// Register installs the report, query, ping and push-registration
// handlers on srv.
func Register(srv *remoting.Server, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Serializer == nil {
		d.Serializer = protocol.MsgpackSerializer{}
	}
	h := &handlers{Deps: d, channels: srv.Channels()}
	srv.Handle(protocol.AccessReport, remoting.HandlerFunc(h.report))
	srv.Handle(protocol.HotKeyQuery, remoting.HandlerFunc(h.query))
	srv.Handle(protocol.AdminPing, remoting.HandlerFunc(h.ping))
	srv.Handle(protocol.PushChannelRegister, remoting.HandlerFunc(h.register))
}

// report hands one client report to the worker owning its application.
// Reports are one-way, so failures are only logged.
func (h *handlers) report(ctx context.Context, _ *remoting.Conn, cmd protocol.Command) {
	var p protocol.ReportPayload
	if err := h.Serializer.Unmarshal(cmd.Payload, &p); err != nil {
		observability.IncReport("decode_error")
		observability.IncFrameError("payload")
		h.Logger.WarnContext(ctx, "drop report: bad payload", "err", err)
		return
	}
	if p.AppName == "" || len(p.KeyAccessCounts) == 0 {
		observability.IncReport("empty")
		return
	}

	counts := make(map[string]int64, len(p.KeyAccessCounts))
	for k, n := range p.KeyAccessCounts {
		if k != "" && n > 0 {
			counts[k] = int64(n)
		}
	}
	ok := h.Pool.Submit(p.AppName, func(context.Context) {
		promoted := h.Engine.IngestCounts(p.AppName, p.Timestamp, counts)
		if len(promoted) > 0 {
			h.Logger.Debug("report promoted keys", "app", p.AppName, "keys", promoted)
		}
	})
	if !ok {
		observability.IncReport("dropped")
		h.Logger.WarnContext(ctx, "drop report: worker queue full", "app", p.AppName, "keys", len(counts))
		return
	}
	observability.IncReport("ok")
	h.Logger.DebugContext(logger.WithApp(ctx, p.AppName), "report accepted",
		"keys", len(counts), "instance", p.InstanceID)
}

// query answers with full snapshots of every application newer than the
// caller's versions.
func (h *handlers) query(ctx context.Context, c *remoting.Conn, cmd protocol.Command) {
	var req protocol.QueryRequest
	if len(cmd.Payload) > 0 {
		if err := h.Serializer.Unmarshal(cmd.Payload, &req); err != nil {
			observability.IncFrameError("payload")
			h.Logger.WarnContext(ctx, "drop query: bad payload", "err", err)
			return
		}
	}
	resp := Views(h.Results, req.LastVersions)
	b, err := h.Serializer.Marshal(resp)
	if err != nil {
		h.Logger.ErrorContext(ctx, "encode query response", "err", err)
		return
	}
	observability.IncQuery()
	if err := c.Send(cmd.Reply(b)); err != nil {
		h.Logger.WarnContext(ctx, "query reply failed", "err", err)
	}
}

// Views builds the query response body for last.
func Views(rs Results, last map[string]int64) protocol.ViewsPayload {
	out := protocol.ViewsPayload{Views: map[string]protocol.ViewEntry{}}
	for _, r := range store.NewerThan(rs, last) {
		out.Views[r.AppName] = protocol.ViewEntry{Version: r.Version, HotKeys: r.Keys()}
	}
	return out
}

func (h *handlers) ping(ctx context.Context, c *remoting.Conn, cmd protocol.Command) {
	if err := c.Send(cmd.Reply(nil)); err != nil {
		h.Logger.DebugContext(ctx, "ping reply failed", "err", err)
	}
}

func (h *handlers) register(ctx context.Context, c *remoting.Conn, cmd protocol.Command) {
	var p protocol.RegisterPayload
	if err := h.Serializer.Unmarshal(cmd.Payload, &p); err != nil || p.AppName == "" {
		observability.IncFrameError("payload")
		h.Logger.WarnContext(ctx, "drop push registration", "err", err)
		return
	}
	h.channels.Register(p.AppName, c)
	h.Logger.InfoContext(ctx, "push channel registered",
		"app", p.AppName, "instance", p.InstanceID, "remote", c.RemoteAddr())
	if err := c.Send(cmd.Reply(nil)); err != nil {
		h.Logger.WarnContext(ctx, "push registration ack failed", "err", err)
	}
}
