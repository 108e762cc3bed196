package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"telemetry/pkg/api"
	"telemetry/pkg/bridge/foxglove"
	"telemetry/pkg/config"
	"telemetry/pkg/engine"
	"telemetry/pkg/logging"
	"telemetry/pkg/metrics"
	"telemetry/pkg/protocol"
	"telemetry/pkg/store"
	"telemetry/pkg/transport"
)

const (
	dialTimeout       = 3 * time.Second
	serialReadTimeout = 100 * time.Millisecond
	shutdownTimeout   = 5 * time.Second
)

// pipeline is the receive path shared by serve and watch:
// link -> session -> hub, plus the optional recorder, HTTP API and foxglove
// bridge hanging off the hub.
type pipeline struct {
	cfg config.Config

	registry  *prometheus.Registry
	collector *metrics.Collector
	hub       *engine.Hub
	session   *engine.Session
	listener  *transport.Listener
	frames    chan transport.Chunk
	recorder  *store.Store
}

func newPipeline(cfg config.Config) *pipeline {
	p := &pipeline{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		hub:      engine.NewHub(),
		frames:   make(chan transport.Chunk, 256),
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p.collector = metrics.New(p.registry)
	p.session = engine.NewSession(p.hub, p,
		engine.WithDecoderOptions(protocol.WithMaxPacketLength(cfg.Link.MaxPacket)),
		engine.WithObserver(p.collector),
		engine.WithSessionLogger(logging.New("session")),
	)
	return p
}

// Write sends set commands over whichever link is currently open.
func (p *pipeline) Write(b []byte) (int, error) {
	if p.listener == nil {
		return 0, transport.ErrNotConnected
	}
	return p.listener.Write(b)
}

func dialerFor(link config.LinkConfig) (transport.Dialer, string) {
	if link.Kind == config.LinkSerial {
		return transport.SerialDialer(link.Port, link.Baud, serialReadTimeout), link.Port
	}
	return transport.TCPDialer(link.Addr, dialTimeout), link.Addr
}

// start launches every enabled component on g. Components stop when ctx is
// done.
func (p *pipeline) start(ctx context.Context, g *errgroup.Group) error {
	log := logging.New("pipeline")

	g.Go(func() error {
		p.hub.Run(ctx)
		return nil
	})

	if p.cfg.Recorder.Enabled {
		path := p.cfg.RecorderPath()
		rec, err := store.Open(path, store.WithLogger(logging.New("recorder")))
		if err != nil {
			return err
		}
		p.recorder = rec
		sub := p.hub.Subscribe()
		g.Go(func() error {
			rec.Consume(ctx, sub)
			return nil
		})
		log.Info().Str("path", path).Msg("recording samples")
	}

	dial, target := dialerFor(p.cfg.Link)
	p.listener = transport.StartListener(ctx, dial, p.frames,
		transport.WithReconnectInterval(p.cfg.ReconnectInterval()),
		transport.WithReconnectMax(p.cfg.ReconnectMaxInterval()),
		transport.WithBufferSize(p.cfg.Link.ReadBuf),
		transport.WithLogger(logging.New("link")),
		transport.WithErrorHandler(p.collector.LinkError),
		transport.WithConnectHandler(p.collector.LinkConnected),
	)
	log.Info().Str("kind", p.cfg.Link.Kind).Str("target", target).Msg("link started")

	g.Go(func() error {
		if err := p.session.Run(ctx, p.frames); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if p.cfg.API.Enabled {
		opts := []api.Option{
			api.WithGatherer(p.registry),
			api.WithSetObserver(p.collector.SetCommand),
			api.WithLinkStatus(p.listener.Connected),
			api.WithLogger(logging.New("api")),
		}
		if p.recorder != nil {
			opts = append(opts, api.WithHistory(p.recorder))
		}
		srv := api.NewServer(p.session, opts...).HTTPServer(p.cfg.API.Addr)
		serveHTTP(ctx, g, srv)
		log.Info().Str("addr", p.cfg.API.Addr).Msg("http api listening")
	}

	if p.cfg.Foxglove.Enabled {
		fox := foxglove.NewServer(foxglove.Config{
			WSAddr:      p.cfg.Foxglove.WSAddr,
			Name:        p.cfg.Foxglove.Name,
			TopicPrefix: p.cfg.Foxglove.TopicPrefix,
		}, p.hub, p.session, foxglove.WithLogger(logging.New("foxglove")))
		g.Go(func() error {
			return fox.Run(ctx)
		})
	}
	return nil
}

func (p *pipeline) close() error {
	if p.recorder == nil {
		return nil
	}
	return p.recorder.Close()
}

func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server) {
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
