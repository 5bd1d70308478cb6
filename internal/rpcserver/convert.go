package rpcserver

import (
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/shapemodel/internal/ssm"
)

func newStruct(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}

func floatsValue(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func numberField(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// floatsField reads a list of numbers. A missing key yields nil.
func floatsField(s *structpb.Struct, key string) ([]float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a list of numbers", key)
	}
	out := make([]float64, len(list.ListValue.GetValues()))
	for i, e := range list.ListValue.GetValues() {
		n, ok := e.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s[%d] is not a number", key, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func intsField(s *structpb.Struct, key string) ([]int, error) {
	fs, err := floatsField(s, key)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(fs))
	for i, f := range fs {
		if f != float64(int(f)) {
			return nil, status.Errorf(codes.InvalidArgument, "%s[%d]=%g is not an integer", key, i, f)
		}
		out[i] = int(f)
	}
	return out, nil
}

// observations reads either "points" or "indices"/"values" from req.
func observations(req *structpb.Struct, dim int) (ssm.ObservationSet, error) {
	indices, err := intsField(req, "indices")
	if err != nil {
		return ssm.ObservationSet{}, err
	}
	values, err := floatsField(req, "values")
	if err != nil {
		return ssm.ObservationSet{}, err
	}
	points := req.GetFields()["points"].GetListValue().GetValues()

	var obs ssm.ObservationSet
	switch {
	case len(points) > 0 && (len(indices) > 0 || len(values) > 0):
		return obs, status.Error(codes.InvalidArgument, "give either points or indices/values")
	case len(points) > 0:
		m := make(map[int][3]float64, len(points))
		for _, p := range points {
			f := p.GetStructValue()
			if f == nil {
				return obs, status.Error(codes.InvalidArgument, "points must be objects")
			}
			p := numberField(f, "point")
			if p != math.Trunc(p) {
				return obs, status.Errorf(codes.InvalidArgument, "point=%g is not an integer", p)
			}
			m[int(p)] = [3]float64{numberField(f, "x"), numberField(f, "y"), numberField(f, "z")}
		}
		obs, err = ssm.ObservePoints(dim, m)
	case len(indices) > 0 || len(values) > 0:
		obs, err = ssm.NewObservationSet(dim, indices, values)
	}
	if err != nil {
		return obs, toStatus(err)
	}
	return obs, nil
}
