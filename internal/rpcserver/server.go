// Package rpcserver exposes the shape model solver over gRPC. Messages are
// google.protobuf.Struct values so clients in any language can call the
// service without generated stubs.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/shapemodel/internal/config"
	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/monitoring"
	"github.com/banshee-data/shapemodel/internal/ssm"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "shapemodel.v1.Solver"

// Large models ship their mean and basis in one message.
const maxMsgSize = 16 * 1024 * 1024

// ModelSource resolves stored models by ID. *editor.Manager implements it.
type ModelSource interface {
	Model(id string) (*ssm.ShapeModel, error)
}

// SolverServer is the handler interface registered with grpc.
type SolverServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ComputePosterior(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sample(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ModelInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Ensure Server implements the gRPC interface.
var _ SolverServer = (*Server)(nil)

// Server implements the Solver service.
type Server struct {
	models ModelSource
	cfg    *config.SolverConfig
}

// NewServer creates a Server. A nil cfg uses the defaults.
func NewServer(models ModelSource, cfg *config.SolverConfig) *Server {
	if cfg == nil {
		cfg = config.EmptySolverConfig()
	}
	return &Server{models: models, cfg: cfg}
}

// Register adds the service to a grpc.Server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// ListenAndServe serves the Solver service on addr until ctx is done, then
// stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	s.Register(gs)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			gs.GracefulStop()
		case <-done:
		}
	}()
	defer close(done)

	monitoring.Opsf("[gRPC] %s listening on %s", ServiceName, lis.Addr())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	monitoring.Opsf("[gRPC] %s stopped", ServiceName)
	return nil
}

func (s *Server) model(req *structpb.Struct) (*ssm.ShapeModel, error) {
	id := stringField(req, "model_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "model_id is required")
	}
	model, err := s.models.Model(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return model, nil
}

// Evaluate returns mean + basisScaled·coefficients.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	model, err := s.model(req)
	if err != nil {
		return nil, err
	}
	alpha, err := floatsField(req, "coefficients")
	if err != nil {
		return nil, err
	}
	shape, err := ssm.Evaluate(model, alpha)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]*structpb.Value{
		"coefficients": floatsValue(alpha),
		"shape":        floatsValue(shape),
	}), nil
}

// ComputePosterior conditions the model on the request's observations.
// Observations are given as "points" ([{point, x, y, z}]) or as flat
// "indices" and "values".
func (s *Server) ComputePosterior(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	model, err := s.model(req)
	if err != nil {
		return nil, err
	}
	obs, err := observations(req, model.Dim())
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.GetMaxObservedPoints(); limit > 0 && obs.Len()/3 > limit {
		return nil, status.Errorf(codes.InvalidArgument, "%d observed points exceeds limit %d", obs.Len()/3, limit)
	}
	if boolField(req, "regularize") {
		model = model.Regularized(s.cfg.GetRegularizationEpsilon())
	}

	if timeout := s.cfg.GetSolveTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var post ssm.Posterior
	select {
	case res := <-ssm.SolveAsync(model, obs, s.cfg.SolverOptions()):
		post, err = res.Posterior, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]*structpb.Value{
		"coefficients":    floatsValue(post.Coefficients),
		"shape":           floatsValue(post.Shape),
		"observed_points": structpb.NewNumberValue(float64(post.Points)),
		"rcond":           structpb.NewNumberValue(post.RCond),
	}), nil
}

// Sample draws coefficients with the requested mode ("zero" or "random")
// and returns them with the resulting shape. A zero seed is time-seeded.
func (s *Server) Sample(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	model, err := s.model(req)
	if err != nil {
		return nil, err
	}
	mode, err := ssm.ParseCoefficientMode(stringField(req, "mode"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	seed := int64(numberField(req, "seed"))
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	alpha := ssm.GenerateCoefficients(model, mode, rand.New(rand.NewSource(seed)))
	shape, err := ssm.Evaluate(model, alpha)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]*structpb.Value{
		"coefficients": floatsValue(alpha),
		"shape":        floatsValue(shape),
	}), nil
}

// ModelInfo reports the model's dimensions and variance spectrum.
func (s *Server) ModelInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	model, err := s.model(req)
	if err != nil {
		return nil, err
	}
	fraction, cumulative := model.ExplainedVariance()
	return newStruct(map[string]*structpb.Value{
		"model_id":            structpb.NewStringValue(stringField(req, "model_id")),
		"point_count":         structpb.NewNumberValue(float64(model.PointCount())),
		"mode_count":          structpb.NewNumberValue(float64(model.ModeCount())),
		"variance":            floatsValue(model.Variance()),
		"explained_variance":  floatsValue(fraction),
		"cumulative_variance": floatsValue(cumulative),
	}), nil
}

// toStatus maps package errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ssm.ErrDimensionMismatch),
		errors.Is(err, ssm.ErrInvalidModel),
		errors.Is(err, ssm.ErrInvalidObservation),
		errors.Is(err, ssm.ErrIndexOutOfRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ssm.ErrSingularBasis), errors.Is(err, ssm.ErrSingularSystem):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	monitoring.Opsf("[gRPC] internal error: %v", err)
	return status.Error(codes.Internal, err.Error())
}
