package rpcserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Solver service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn), conn, nil
}

// ModelInfo is the decoded ModelInfo response.
type ModelInfo struct {
	ModelID           string
	PointCount        int
	ModeCount         int
	Variance          []float64
	ExplainedVariance []float64
	Cumulative        []float64
}

// ShapeResult is the decoded Evaluate, Sample or ComputePosterior response.
type ShapeResult struct {
	Coefficients   []float64
	Shape          []float64
	ObservedPoints int
	RCond          float64
}

func (c *Client) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeShape(s *structpb.Struct) (*ShapeResult, error) {
	alpha, err := floatsField(s, "coefficients")
	if err != nil {
		return nil, err
	}
	shape, err := floatsField(s, "shape")
	if err != nil {
		return nil, err
	}
	return &ShapeResult{
		Coefficients:   alpha,
		Shape:          shape,
		ObservedPoints: int(numberField(s, "observed_points")),
		RCond:          numberField(s, "rcond"),
	}, nil
}

// ModelInfo fetches the dimensions and variance spectrum of a model.
func (c *Client) ModelInfo(ctx context.Context, modelID string) (*ModelInfo, error) {
	out, err := c.call(ctx, ModelInfoMethod, newStruct(map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(modelID),
	}))
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{
		ModelID:    stringField(out, "model_id"),
		PointCount: int(numberField(out, "point_count")),
		ModeCount:  int(numberField(out, "mode_count")),
	}
	if info.Variance, err = floatsField(out, "variance"); err != nil {
		return nil, err
	}
	if info.ExplainedVariance, err = floatsField(out, "explained_variance"); err != nil {
		return nil, err
	}
	if info.Cumulative, err = floatsField(out, "cumulative_variance"); err != nil {
		return nil, err
	}
	return info, nil
}

// Evaluate returns the shape for the given coefficients.
func (c *Client) Evaluate(ctx context.Context, modelID string, alpha []float64) (*ShapeResult, error) {
	out, err := c.call(ctx, EvaluateMethod, newStruct(map[string]*structpb.Value{
		"model_id":     structpb.NewStringValue(modelID),
		"coefficients": floatsValue(alpha),
	}))
	if err != nil {
		return nil, err
	}
	return decodeShape(out)
}

// ComputePosterior conditions the model on points held at fixed positions.
func (c *Client) ComputePosterior(ctx context.Context, modelID string, points map[int][3]float64) (*ShapeResult, error) {
	list := make([]*structpb.Value, 0, len(points))
	for p, pos := range points {
		list = append(list, structpb.NewStructValue(newStruct(map[string]*structpb.Value{
			"point": structpb.NewNumberValue(float64(p)),
			"x":     structpb.NewNumberValue(pos[0]),
			"y":     structpb.NewNumberValue(pos[1]),
			"z":     structpb.NewNumberValue(pos[2]),
		})))
	}
	out, err := c.call(ctx, ComputePosteriorMethod, newStruct(map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(modelID),
		"points":   structpb.NewListValue(&structpb.ListValue{Values: list}),
	}))
	if err != nil {
		return nil, err
	}
	return decodeShape(out)
}

// Sample draws coefficients in mode ("zero" or "random") from seed.
func (c *Client) Sample(ctx context.Context, modelID, mode string, seed int64) (*ShapeResult, error) {
	out, err := c.call(ctx, SampleMethod, newStruct(map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(modelID),
		"mode":     structpb.NewStringValue(mode),
		"seed":     structpb.NewNumberValue(float64(seed)),
	}))
	if err != nil {
		return nil, err
	}
	return decodeShape(out)
}
