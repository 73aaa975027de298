package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Model service RPCs. Messages are google.protobuf.Struct so the Python
// side needs no shared generated code.
const (
	modelServiceName = "debias.v1.ModelService"
	classifyMethod   = "/" + modelServiceName + "/Classify"
	renderMethod     = "/" + modelServiceName + "/RenderDocument"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMissingLabel             = errors.New("classify response has no label")
	errScoreOutOfRange          = errors.New("classify score outside [0, 1]")
	errMissingDocument          = errors.New("render response has no document")
)

// ModelClient talks to the Python model service over gRPC. It serves both
// the bias classifier and the PDF renderer.
type ModelClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// ModelClientConfig holds configuration for the gRPC client.
type ModelClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultModelClientConfig returns default configuration.
func DefaultModelClientConfig() ModelClientConfig {
	return ModelClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewModelClient connects to the model service at addr. Extra dial options
// are appended after the defaults.
func NewModelClient(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*ModelClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultModelClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model service at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first upload.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model service", "address", cfg.Address)

	return &ModelClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *ModelClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health asks the standard gRPC health service whether the model service is serving.
func (c *ModelClient) Health(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: modelServiceName})
	if err != nil {
		return wrapRPCError("health check", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check: %w: status %s", ErrUnavailable, resp.GetStatus())
	}
	return nil
}

// Classify labels one sentence.
func (c *ModelClient) Classify(ctx context.Context, text string) (Classification, error) {
	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return Classification{}, fmt.Errorf("build classify request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, classifyMethod, req, resp); err != nil {
		return Classification{}, wrapRPCError("classify", err)
	}

	fields := resp.GetFields()
	label := fields["label"].GetStringValue()
	if label == "" {
		label = fields["category"].GetStringValue()
	}
	if label == "" {
		return Classification{}, errMissingLabel
	}

	score := fields["score"].GetNumberValue()
	if _, ok := fields["score"]; !ok {
		score = fields["confidence"].GetNumberValue()
	}
	if !(score >= 0 && score <= 1) {
		return Classification{}, fmt.Errorf("%w: %v", errScoreOutOfRange, score)
	}

	return Classification{Label: label, Score: score}, nil
}

// Render regenerates a PDF on the model service with substitutions applied.
func (c *ModelClient) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	subs := make([]any, 0, len(req.Substitutions))
	for _, s := range req.Substitutions {
		subs = append(subs, map[string]any{
			"original_text": s.OriginalText,
			"final_text":    s.FinalText,
			"was_modified":  s.WasModified,
		})
	}

	in, err := structpb.NewStruct(map[string]any{
		"document_b64":  base64.StdEncoding.EncodeToString(req.Document),
		"output_name":   req.OutputName,
		"substitutions": subs,
	})
	if err != nil {
		return RenderResult{}, fmt.Errorf("build render request: %w", err)
	}

	c.logger.Debug("Rendering document via model service",
		"output_name", req.OutputName,
		"substitutions", len(req.Substitutions))

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, renderMethod, in, out); err != nil {
		return RenderResult{}, wrapRPCError("render", err)
	}

	fields := out.GetFields()
	encoded := fields["document_b64"].GetStringValue()
	if encoded == "" {
		return RenderResult{}, errMissingDocument
	}
	doc, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return RenderResult{}, fmt.Errorf("decode rendered document: %w", err)
	}

	var details []RenderDetail
	for _, v := range fields["details"].GetListValue().GetValues() {
		d := v.GetStructValue().GetFields()
		details = append(details, RenderDetail{
			OriginalText: d["original_text"].GetStringValue(),
			FinalText:    d["final_text"].GetStringValue(),
			Applied:      d["applied"].GetBoolValue(),
			Note:         d["note"].GetStringValue(),
		})
	}

	return RenderResult{
		Document:    doc,
		ContentType: req.ContentType,
		Details:     details,
	}, nil
}

// wrapRPCError marks transport-level unavailability with ErrUnavailable so
// callers can tell "not reachable" from "call failed".
func wrapRPCError(op string, err error) error {
	if status.Code(err) == codes.Unavailable {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
