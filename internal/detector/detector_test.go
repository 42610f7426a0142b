package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"cpu", BackendCPU, false},
		{"GPU", BackendGPU, false},
		{" gpu ", BackendGPU, false},
		{"tpu", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, BackendGPU, opts.Backend)
	assert.Equal(t, 0.5, opts.ScoreThreshold)
	assert.Equal(t, 5, opts.MaxResults)
	assert.Equal(t, ModeStream, opts.Mode)
}

func TestFilterDetections(t *testing.T) {
	dets := []Detection{
		{Label: "kaleng", Score: 0.4},
		{Label: "botol", Score: 0.9},
		{Label: "kardus", Score: 0.5},
		{Label: "baterai", Score: 0.7},
		{Label: "kertas", Score: 0.6},
	}

	t.Run("threshold is inclusive", func(t *testing.T) {
		got := filterDetections(dets, Options{ScoreThreshold: 0.5})
		require.Len(t, got, 4)
		assert.Equal(t, "kardus", got[3].Label)
	})

	t.Run("sorted by score and capped", func(t *testing.T) {
		got := filterDetections(dets, Options{ScoreThreshold: 0.0, MaxResults: 2})
		require.Len(t, got, 2)
		assert.Equal(t, "botol", got[0].Label)
		assert.Equal(t, "baterai", got[1].Label)
	})

	t.Run("zero max results means unlimited", func(t *testing.T) {
		got := filterDetections(dets, Options{})
		assert.Len(t, got, len(dets))
	})

	t.Run("empty input", func(t *testing.T) {
		got := filterDetections(nil, DefaultOptions())
		assert.Empty(t, got)
	})
}

func TestBoundingBox_Size(t *testing.T) {
	b := BoundingBox{Left: 10, Top: 20, Right: 110, Bottom: 70}

	assert.Equal(t, 100.0, b.Width())
	assert.Equal(t, 50.0, b.Height())
}

func TestLoadLabels(t *testing.T) {
	t.Run("skips blanks and comments", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "labels.txt")
		content := "# waste classes\nbotol\n\n  kaleng  \nbaterai\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		labels, err := LoadLabels(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"botol", "kaleng", "baterai"}, labels)
	})

	t.Run("empty path", func(t *testing.T) {
		labels, err := LoadLabels("")
		require.NoError(t, err)
		assert.Nil(t, labels)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadLabels(filepath.Join(t.TempDir(), "nope.txt"))
		assert.Error(t, err)
	})
}

func TestDNNEngine_OpenErrors(t *testing.T) {
	engine := NewDNNEngine()

	t.Run("no model path", func(t *testing.T) {
		_, err := engine.Open(t.Context(), DefaultOptions())
		assert.Error(t, err)
	})

	t.Run("missing model file", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
		_, err := engine.Open(t.Context(), opts)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
