// Package server implements the TCP inference server: a listener accept
// loop feeding per-connection handlers that decode line-oriented requests
// and run them on the worker pool.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pvp-ml/inference-server/internal/catalog"
	"github.com/pvp-ml/inference-server/internal/model"
	"github.com/pvp-ml/inference-server/internal/processor"
	"github.com/pvp-ml/inference-server/internal/telemetry"
)

// Config carries the startup surface of the inference server.
type Config struct {
	Host      string
	Port      int
	ModelsDir string
	PoolSize  int
	Processor processor.Kind
	Device    string

	// Loader overrides the model loader; nil means the ONNX loader.
	Loader model.Loader
	// Telemetry, when set, records per-model prediction stats.
	Telemetry *telemetry.Recorder
}

// Server owns the listening socket, the worker pool, and the model
// catalog.
type Server struct {
	cfg     Config
	catalog *catalog.Catalog
	proc    processor.Processor
	lis     net.Listener
	tracer  trace.Tracer

	mu         sync.Mutex
	stopped    bool
	acceptDone chan struct{}
}

// New creates a server. Start brings it up.
func New(cfg Config) *Server {
	if cfg.Processor == "" {
		cfg.Processor = processor.KindThread
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.Loader == nil {
		cfg.Loader = model.Load
	}
	return &Server{
		cfg:        cfg,
		tracer:     otel.Tracer("pvp-inference"),
		acceptDone: make(chan struct{}),
	}
}

// Start scans the catalog, builds the worker pool, warms every catalog
// entry into the cache, and begins accepting connections. On failure the
// caller should still Stop to release whatever came up.
func (s *Server) Start(ctx context.Context) error {
	cat, err := catalog.Scan(s.cfg.ModelsDir)
	if err != nil {
		return err
	}
	s.catalog = cat

	proc, err := processor.New(s.cfg.Processor, s.cfg.PoolSize, s.cfg.Device, s.cfg.Loader)
	if err != nil {
		return err
	}
	s.proc = proc

	if err := s.warmUp(ctx); err != nil {
		return fmt.Errorf("model warm-up failed: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.lis = lis

	go s.acceptLoop(ctx)

	log.Printf("TCP inference server started on %s", lis.Addr())
	log.Printf("Available models: %v", s.catalog.Names())
	return nil
}

// warmUp issues one preload per (pool slot, catalog entry) pair and waits
// for all of them. The shared cache means only the first preload per
// location performs a real load; the rest observe it loaded.
func (s *Server) warmUp(ctx context.Context) error {
	if s.catalog.Len() == 0 {
		return nil
	}

	log.Printf("Preloading %d models on %d workers", s.catalog.Len(), s.proc.PoolSize())
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.proc.PoolSize(); i++ {
		for _, location := range s.catalog.Locations() {
			location := location
			g.Go(func() error {
				err := s.proc.Preload(ctx, location)
				if err == nil {
					return nil
				}
				if ctx.Err() != nil {
					return err
				}
				// A model that fails to preload stays absent and is
				// retried on first request; it must not keep the rest
				// of the catalog from serving.
				log.Printf("Warning: failed to preload %s: %v", location, err)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Printf("Models preloaded successfully")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.acceptDone)
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			// Listener closed during Stop, or a fatal accept error.
			return
		}
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the bound listener address, for callers that started with
// port 0.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Stop closes the listener first, then drains and closes the worker pool.
// Safe to call once even if Start partially failed.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.lis != nil {
		if err := s.lis.Close(); err != nil {
			log.Printf("Error closing listener: %v", err)
		}
		<-s.acceptDone
		log.Printf("TCP inference server stopped")
	}

	if s.proc != nil {
		if err := s.proc.Close(); err != nil {
			// Shutdown still completes; the pool error is informational.
			log.Printf("Error closing worker pool: %v", err)
		}
	}

	return nil
}
