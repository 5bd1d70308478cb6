package report

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shapemodel/internal/fsutil"
	"github.com/banshee-data/shapemodel/internal/ssm"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestModesFor(t *testing.T) {
	cum := []float64{0.6, 0.85, 0.93, 0.97, 1}
	assert.Equal(t, 1, ModesFor(cum, 0.5))
	assert.Equal(t, 3, ModesFor(cum, 0.9))
	assert.Equal(t, 4, ModesFor(cum, 0.95))
	assert.Equal(t, 5, ModesFor(cum, 1))
	assert.Equal(t, 0, ModesFor(nil, 0.9))
}

func TestWriteSpectrum(t *testing.T) {
	model, err := ssm.Synthetic(20, 6, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	mfs := fsutil.NewMemoryFileSystem()
	w := NewWriter(mfs)
	files, err := w.WriteSpectrum("/out/sphere", SpectrumFromModel("sphere", model))
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/sphere/scree.png", "/out/sphere/cumulative.png", "/out/sphere/summary.json"}, files)

	for _, f := range files[:2] {
		data, err := mfs.ReadFile(f)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", f)
	}

	data, err := mfs.ReadFile("/out/sphere/summary.json")
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "sphere", summary.Name)
	assert.Equal(t, 6, summary.Modes)
	assert.Equal(t, 20, summary.PointCount)
	assert.InDelta(t, 1.0, summary.Cumulative[5], 1e-12)
	assert.LessOrEqual(t, summary.ModesFor90, summary.ModesFor95)
}

func TestWriteSpectrum_NoModes(t *testing.T) {
	w := NewWriter(fsutil.NewMemoryFileSystem())
	_, err := w.WriteSpectrum("/out", Spectrum{Name: "empty"})
	assert.Error(t, err)
}

func TestWriteShape(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	w := NewWriter(mfs)

	shape := []float64{0, 0, 0, 1, 0, 0, 0, 1, 0}
	out, err := w.WriteShape("/out", "mean", shape, []int{1})
	require.NoError(t, err)
	assert.Equal(t, "/out/mean.png", out)

	data, err := mfs.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))

	_, err = w.WriteShape("/out", "bad", []float64{1, 2}, nil)
	assert.ErrorIs(t, err, ssm.ErrDimensionMismatch)
}

func TestWriteShape_Subdirectory(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	w := NewWriter(mfs)
	shape := []float64{0, 0, 0, 1, 1, 0}

	out, err := w.WriteShape("/out", "samples/sample-000", shape, nil)
	require.NoError(t, err)
	assert.Equal(t, "/out/samples/sample-000.png", out)
	assert.True(t, mfs.Exists("/out/samples"))

	_, err = w.WriteShape("/out", "../escape", shape, nil)
	assert.Error(t, err)
	assert.False(t, mfs.Exists("/escape.png"))
}
