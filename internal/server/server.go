// Package server exposes the analysis plugin over gRPC as
// nupi.vad.analysis.v1.AnalysisService. Messages are protobuf Structs so the
// service needs no generated code; Client wraps the wire form in typed calls.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/analysis"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/audio"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/config"
)

// MaxRequestBytes limits incoming messages. Requests carry a path and a few
// numbers, never audio.
const MaxRequestBytes = 64 * 1024

// Executor runs and looks up analyses. *plugin.Plugin implements it.
type Executor interface {
	ExecuteWith(ctx context.Context, path string, params analysis.Params, force bool) (cache.Outcome, error)
	Lookup(ctx context.Context, path string, params analysis.Params) (cache.Entry, bool, error)
}

// Server implements AnalysisServiceServer. Each request gets its own copy
// of the default config with the request's overrides applied.
type Server struct {
	UnimplementedAnalysisServiceServer

	exec     Executor
	defaults config.Config
	log      *slog.Logger
}

// New returns a Server that fills unset request parameters from defaults.
func New(exec Executor, defaults config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		exec:     exec,
		defaults: defaults,
		log:      logger.With("component", "server"),
	}
}

// Analyze implements the unary Analyze RPC.
func (s *Server) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := parseAnalyzeRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	cfg := s.defaults
	if err := req.Params.Apply(&cfg); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid params: %v", err)
	}

	start := time.Now()
	out, err := s.exec.ExecuteWith(ctx, req.Path, cfg.Params(), req.Force)
	if err != nil {
		return nil, s.toStatus(err, req.Path)
	}
	s.log.Debug("analyze served",
		"source", req.Path,
		"key", out.Key.Short(),
		"resolution", string(out.Resolution),
		"ranges", len(out.Result.Ranges),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return encodeOutcome(out), nil
}

// Lookup implements the unary Lookup RPC. A missing entry is a successful
// response with found=false.
func (s *Server) Lookup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := parseLookupRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	cfg := s.defaults
	if err := req.Params.Apply(&cfg); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid params: %v", err)
	}
	e, found, err := s.exec.Lookup(ctx, req.Path, cfg.Params())
	if err != nil {
		return nil, s.toStatus(err, req.Path)
	}
	return encodeLookup(e, found), nil
}

// toStatus maps plugin errors onto gRPC codes.
func (s *Server) toStatus(err error, path string) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, cache.ErrInvalidParams):
		code = codes.InvalidArgument
	case errors.Is(err, audio.ErrSourceNotFound):
		code = codes.NotFound
	case errors.Is(err, cache.ErrCorrupt):
		code = codes.DataLoss
	case errors.Is(err, cache.ErrStorage):
		code = codes.Unavailable
	case errors.Is(err, cache.ErrAnalysis):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	if code != codes.Canceled && code != codes.NotFound && code != codes.InvalidArgument {
		s.log.Warn("request failed", "source", path, "code", code.String(), "error", err)
	}
	return status.Error(code, err.Error())
}
