package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
)

// Client calls AnalysisService over a gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Analyze calls the Analyze RPC.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest, opts ...grpc.CallOption) (AnalyzeResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, analyzeMethod, req.toStruct(), out, opts...); err != nil {
		return AnalyzeResponse{}, err
	}
	key, createdAt, res, err := decodeResult(out)
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("server: decode analyze response: %w", err)
	}
	resolution, err := stringValue("resolution", out.GetFields()["resolution"])
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("server: decode analyze response: %w", err)
	}
	return AnalyzeResponse{
		Key:        key,
		Resolution: cache.Resolution(resolution),
		CreatedAt:  createdAt,
		Result:     res,
	}, nil
}

// Lookup calls the Lookup RPC.
func (c *Client) Lookup(ctx context.Context, req LookupRequest, opts ...grpc.CallOption) (LookupResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, lookupMethod, req.toStruct(), out, opts...); err != nil {
		return LookupResponse{}, err
	}
	found, err := boolValue("found", out.GetFields()["found"])
	if err != nil {
		return LookupResponse{}, fmt.Errorf("server: decode lookup response: %w", err)
	}
	if !found {
		return LookupResponse{}, nil
	}
	key, createdAt, res, err := decodeResult(out)
	if err != nil {
		return LookupResponse{}, fmt.Errorf("server: decode lookup response: %w", err)
	}
	return LookupResponse{Found: true, Key: key, CreatedAt: createdAt, Result: res}, nil
}
