// Package testutil provides shared test fixtures: small shape models with
// known posteriors and helpers for exercising JSON handlers.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/shapemodel/internal/ssm"
)

// TwoPointData is a 2-point, 2-mode model at the origin whose modes move
// point 0 along x and y with unit variance. Observing point 0 at (a, b, 0)
// gives posterior coefficients ≈ (a, b).
func TwoPointData() ssm.ModelData {
	basis := make([]float64, 12)
	basis[0*2+0] = 1
	basis[1*2+1] = 1
	return ssm.ModelData{
		Mean:     make([]float64, 6),
		Basis:    basis,
		Rows:     6,
		Cols:     2,
		Variance: []float64{1, 1},
	}
}

// TwoPointModel loads TwoPointData.
func TwoPointModel(t testing.TB) *ssm.ShapeModel {
	t.Helper()
	model, err := ssm.LoadData(TwoPointData())
	if err != nil {
		t.Fatalf("failed to load two-point model: %v", err)
	}
	return model
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// DoJSON sends body encoded as JSON to h and records the response. A nil
// body sends an empty request.
func DoJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes the recorded response body into v.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}
