package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/config"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/plugin"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/server"
)

// version is set at build time by GoReleaser via -ldflags.
var version = "dev"

// lazyAnalysisServer returns Unavailable until the real server is set.
type lazyAnalysisServer struct {
	server.UnimplementedAnalysisServiceServer
	server atomic.Pointer[server.AnalysisServiceServer]
}

func (l *lazyAnalysisServer) setServer(srv server.AnalysisServiceServer) {
	l.server.Store(&srv)
}

func (l *lazyAnalysisServer) load() (server.AnalysisServiceServer, error) {
	srv := l.server.Load()
	if srv == nil {
		return nil, status.Error(codes.Unavailable, "analysis service is initializing, please retry in a moment")
	}
	return *srv, nil
}

func (l *lazyAnalysisServer) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	srv, err := l.load()
	if err != nil {
		return nil, err
	}
	return srv.Analyze(ctx, in)
}

func (l *lazyAnalysisServer) Lookup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	srv, err := l.load()
	if err != nil {
		return nil, err
	}
	return srv.Lookup(ctx, in)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loadResult, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loadResult.Config

	logger := newLogger(cfg.LogLevel)
	for _, warn := range loadResult.Warnings {
		logger.Warn(warn)
	}

	logger.Info("starting adapter",
		"adapter", "vad-silero-analysis",
		"version", version,
		"engine_config", cfg.Engine,
		"store", cfg.Store,
		"listen_addr", cfg.ListenAddr,
		"threshold", cfg.Threshold,
		"min_speech_duration_ms", cfg.MinSpeechDurationMs,
		"min_silence_duration_ms", cfg.MinSilenceDurationMs,
		"speech_pad_ms", cfg.SpeechPadMs,
	)

	// Bind before the engine probe and store open so the host sees the port early.
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind listener", "error", err)
		os.Exit(1)
	}
	defer lis.Close()
	logger.Info("listener bound, port ready", "addr", lis.Addr().String())

	grpcServer := grpc.NewServer(grpc.MaxRecvMsgSize(server.MaxRequestBytes))
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	lazyService := &lazyAnalysisServer{}
	server.RegisterAnalysisServiceServer(grpcServer, lazyService)

	serverErr := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serverErr <- err
		}
	}()
	logger.Info("gRPC server started (NOT_SERVING while initializing)")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsSrv := startMetrics(cfg.MetricsAddr, reg, logger, serverErr)

	p := plugin.New(
		plugin.WithLogger(logger),
		plugin.WithRegisterer(reg),
	)
	if err := p.Initialize(ctx, cfg); err != nil {
		logger.Error("plugin initialization failed, cannot start", "error", err)
		if cfg.Engine == "auto" {
			logger.Error("hint: set NUPI_DEV_MODE=1 to allow fallback to stub engine")
		}
		grpcServer.Stop()
		os.Exit(1)
	}
	defer func() {
		if err := p.Cleanup(); err != nil {
			logger.Warn("plugin cleanup failed", "error", err)
		}
	}()

	lazyService.setServer(server.New(p, cfg, logger))
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_SERVING)
	logger.Info("adapter ready to serve requests", "engine", p.EngineName())

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("shutdown requested, stopping gRPC server")
		healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = metricsSrv.Shutdown(shutdownCtx)
			cancel()
		}
		close(shutdownDone)
	}()

	select {
	case err := <-serverErr:
		logger.Error("server terminated with error", "error", err)
		grpcServer.Stop()
		_ = p.Cleanup()
		os.Exit(1)
	case <-shutdownDone:
	}

	logger.Info("adapter stopped")
}

// startMetrics serves reg on addr at /metrics. An empty addr disables it.
func startMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger, errs chan<- error) *http.Server {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	logger.Info("metrics endpoint started", "addr", addr)
	return srv
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
