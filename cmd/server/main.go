package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/pvp-ml/inference-server/internal/config"
	"github.com/pvp-ml/inference-server/internal/metrics"
	"github.com/pvp-ml/inference-server/internal/processor"
	"github.com/pvp-ml/inference-server/internal/server"
	"github.com/pvp-ml/inference-server/internal/telemetry"
)

const serviceName = "pvp-inference"

func main() {
	// Parse command-line flags
	host := flag.String("host", "", "TCP server host (default: 127.0.0.1)")
	port := flag.Int("port", 0, "TCP server port (default: 9999)")
	modelsDir := flag.String("models", "", "Path to the models directory (default: models)")
	poolSize := flag.Int("pool-size", 0, "Number of inference workers (default: 1)")
	processorKind := flag.String("processor", "", "Processor kind (default: thread)")
	device := flag.String("device", "", "Compute device (default: cpu)")
	metricsPort := flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	redisAddr := flag.String("redis", "", "Redis address for telemetry (default: disabled)")
	configFile := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	// Load configuration from file and environment
	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadWithConfigFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override with flags if provided
	if *host != "" {
		cfg.Host = *host
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *modelsDir != "" {
		cfg.ModelsDir = *modelsDir
	}
	if *poolSize > 0 {
		cfg.PoolSize = *poolSize
	}
	if *processorKind != "" {
		cfg.Processor = *processorKind
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *metricsPort > 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *redisAddr != "" {
		cfg.Redis = *redisAddr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting %s...", serviceName)
	log.Printf("Configuration: host=%s, port=%d, models=%s, pool_size=%d, processor=%s, device=%s, metrics=%d",
		cfg.Host, cfg.Port, cfg.ModelsDir, cfg.PoolSize, cfg.Processor, cfg.Device, cfg.MetricsPort)

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = initTracer(cfg.OTELEndpoint)
		if err != nil {
			log.Printf("Warning: Failed to initialize tracer: %v", err)
		} else {
			log.Printf("OpenTelemetry tracing enabled (endpoint: %s)", cfg.OTELEndpoint)
		}
	}

	// Connect the Redis telemetry recorder (optional)
	var recorder *telemetry.Recorder
	if cfg.Redis != "" {
		log.Printf("Connecting to Redis at %s...", cfg.Redis)
		recorder, err = telemetry.New(cfg.Redis)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v (continuing without telemetry)", err)
			recorder = nil
		} else {
			defer recorder.Close()
			log.Printf("Redis connected successfully")
		}
	}

	// Start HTTP server for metrics and health checks
	var ready atomic.Bool
	httpServer := startHTTPServer(cfg.MetricsPort, &ready)

	srv := server.New(server.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		ModelsDir: cfg.ModelsDir,
		PoolSize:  cfg.PoolSize,
		Processor: processor.Kind(cfg.Processor),
		Device:    cfg.Device,
		Telemetry: recorder,
	})

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		srv.Stop()
		log.Fatalf("Failed to start inference server: %v", err)
	}

	ready.Store(true)
	metrics.SetHealthy()
	log.Printf("%s is ready to accept requests", serviceName)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	ready.Store(false)
	metrics.SetUnhealthy()

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping inference server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	if tracerShutdown != nil {
		tracerShutdown(shutdownCtx)
	}

	log.Printf("Server shutdown complete")
}

func startHTTPServer(port int, ready *atomic.Bool) *http.Server {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service Unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness check (same as healthz for now)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	addr := fmt.Sprintf(":%d", port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		log.Printf("HTTP server listening on %s (metrics, health)", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return httpServer
}

func initTracer(endpoint string) (func(context.Context) error, error) {
	// The stdout exporter keeps tracing dependency-free in development;
	// production deployments point OTEL_EXPORTER_OTLP_ENDPOINT at a
	// collector and swap in an OTLP exporter.
	if endpoint != "" {
		log.Printf("Note: Using stdout trace exporter (OTLP endpoint: %s)", endpoint)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
