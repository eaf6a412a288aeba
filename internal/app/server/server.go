// Package server assembles the hot-key server process: TCP transport,
// detection, publishing, the optional Redis mirror and Kafka feed, and
// the admin HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/config"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
	admin "github.com/mohammed-shakir/hotkey-sync/internal/core/server"
	"github.com/mohammed-shakir/hotkey-sync/internal/metrics"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/detect"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/handlers"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/publish"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/publish/kafkasink"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/store"
	"github.com/mohammed-shakir/hotkey-sync/internal/server/store/redisstore"
	"github.com/mohammed-shakir/hotkey-sync/internal/worker"
)

type Server struct {
	cfg  config.ServerConfig
	log  *slog.Logger
	prov *metrics.Provider

	tcp     *remoting.Server
	engine  *detect.Engine
	results store.Store
	pub     *publish.Publisher
	pool    *worker.Pool

	mirror *store.WriteBehind
	redis  *redisstore.Client
	sink   *kafkasink.Sink
}

// New builds every component and restores mirrored results. Nothing
// listens until Run.
func New(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger, build metrics.BuildInfo) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ser, err := protocol.SerializerByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, log: logger}
	s.prov = metrics.Init(metrics.Config{Enabled: cfg.MetricsEnabled, Role: "server", Build: build})
	observability.Init(s.prov.Registerer(), s.prov.Enabled())
	observability.ExposeBuildInfo(build.Version)

	mem := store.NewMemory()
	s.results = mem
	var restored []*model.HotKeyResult
	if cfg.ResultRedis.Addr != "" {
		rc := cfg.ResultRedis
		s.redis, err = redisstore.New(ctx, rc.Addr, rc.Prefix, rc.TTL,
			redisstore.WithPoolSize(rc.PoolSize),
			redisstore.WithDialTimeout(rc.DialTimeout),
			redisstore.WithReadTimeout(rc.ReadTimeout),
			redisstore.WithWriteTimeout(rc.WriteTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("result mirror: %w", err)
		}
		restored, err = s.redis.LoadAll(ctx)
		if err != nil {
			logger.Warn("result mirror restore failed; starting empty", "err", err)
		}
		s.mirror = store.NewWriteBehind(mem, s.redis, cfg.WorkerQueue, logger.With("component", "mirror"))
		s.results = s.mirror
	}

	var observers []publish.Observer
	if cfg.Kafka.Enabled {
		s.sink, err = kafkasink.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Queue, logger.With("component", "kafkasink"))
		if err != nil {
			s.closeSinks()
			return nil, err
		}
		observers = append(observers, s.sink)
	}

	s.tcp = remoting.NewServer(remoting.ServerOptions{
		Logger:        logger.With("component", "remoting"),
		MaxFrameBytes: cfg.MaxFrameBytes,
	})
	s.pub = publish.New(s.tcp.Channels(), ser, publish.Options{
		Logger:    logger.With("component", "publisher"),
		Observers: observers,
	})
	s.engine = detect.NewEngine(detect.Config{
		WindowSize:  cfg.WindowSize,
		WindowSlots: cfg.WindowSlots,
		MinCount:    cfg.MinCount,
		HotKeyIdle:  cfg.HotKeyIdle,
	}, s.results, s.pub, detect.Options{Logger: logger.With("component", "detect")})
	if len(restored) > 0 {
		s.engine.Restore(restored)
		logger.Info("restored hot-key results", "apps", len(restored))
	}

	s.pool = worker.New(cfg.Workers, cfg.WorkerQueue, logger.With("component", "worker"))
	handlers.Register(s.tcp, handlers.Deps{
		Engine:     s.engine,
		Results:    s.results,
		Pool:       s.pool,
		Serializer: ser,
		Logger:     logger.With("component", "handlers"),
	})
	return s, nil
}

// Addr is the TCP listener address once Run is serving.
func (s *Server) Addr() net.Addr { return s.tcp.Addr() }

func (s *Server) Engine() *detect.Engine { return s.engine }

// Run serves until ctx is done or a component fails. Shutdown goes
// inputs first: listeners and the decay timer stop, the worker pool runs
// its queued tasks, and only then do the publisher and the result mirror
// drain and the sinks close.
func (s *Server) Run(ctx context.Context) error {
	outCtx, stopOutputs := context.WithCancel(context.WithoutCancel(ctx))
	defer stopOutputs()
	var outputs errgroup.Group
	outputs.Go(func() error { return s.pub.Run(outCtx) })
	if s.mirror != nil {
		outputs.Go(func() error { return s.mirror.Run(outCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	s.pool.Start(gctx)

	g.Go(func() error { return s.tcp.ListenAndServe(gctx, s.cfg.Addr) })
	g.Go(func() error { return s.engine.RunDecay(gctx, s.cfg.DecayPeriod, s.pool) })
	if s.cfg.AdminAddr != "" {
		g.Go(func() error {
			return admin.Run(gctx, admin.Deps{
				Addr:    s.cfg.AdminAddr,
				Logger:  s.log.With("component", "admin"),
				Metrics: s.prov.Handler(),
				Ready:   s.tcp,
				Results: s.results,
				Stats:   s.engine,
			})
		})
	}

	err := g.Wait()
	s.pool.Stop()
	stopOutputs()
	if oerr := outputs.Wait(); err == nil {
		err = oerr
	}
	s.closeSinks()
	return err
}

func (s *Server) closeSinks() {
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.log.Warn("kafka sink close", "err", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("result mirror close", "err", err)
		}
	}
}

func Run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger, build metrics.BuildInfo) error {
	s, err := New(ctx, cfg, logger, build)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
