package testutil

import (
	"io"
	"net/http"
	"testing"

	"github.com/banshee-data/shapemodel/internal/ssm"
)

func TestTwoPointModel_Posterior(t *testing.T) {
	model := TwoPointModel(t)
	if model.PointCount() != 2 || model.ModeCount() != 2 {
		t.Fatalf("unexpected dimensions %d points, %d modes", model.PointCount(), model.ModeCount())
	}

	obs, err := ssm.ObservePoints(model.Dim(), map[int][3]float64{0: {2, -1, 0}})
	if err != nil {
		t.Fatalf("ObservePoints failed: %v", err)
	}
	post, err := ssm.ComputePosterior(model, obs)
	if err != nil {
		t.Fatalf("ComputePosterior failed: %v", err)
	}
	if d := post.Coefficients[0] - 2; d > 1e-4 || d < -1e-4 {
		t.Errorf("alpha[0] = %v, want ≈2", post.Coefficients[0])
	}
	if d := post.Coefficients[1] + 1; d > 1e-4 || d < -1e-4 {
		t.Errorf("alpha[1] = %v, want ≈-1", post.Coefficients[1])
	}
}

func TestDoJSON(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(body)
	})

	w := DoJSON(t, h, http.MethodPost, "/echo", map[string]int{"index": 3})
	AssertStatusCode(t, w.Code, http.StatusAccepted)

	var got map[string]int
	DecodeJSON(t, w, &got)
	if got["index"] != 3 {
		t.Errorf("echoed body = %v", got)
	}

	w = DoJSON(t, h, http.MethodGet, "/echo", nil)
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body for nil request, got %q", w.Body.String())
	}
}
