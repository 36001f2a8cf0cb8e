package mllr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/soundswallower/soundswallower-go/internal/model"
	"github.com/soundswallower/soundswallower-go/internal/s3file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTransform(t *testing.T, a []float32, nClass, dim int, b []float32) string {
	t.Helper()
	w := s3file.NewWriter(false)
	w.SetHeader("version", "1.0")
	w.WriteArray([]int{nClass, dim, dim}, a)
	w.WriteArray([]int{nClass, dim}, b)
	path := filepath.Join(t.TempDir(), "mllr")
	require.NoError(t, os.WriteFile(path, w.Bytes(), 0o644))
	return path
}

func TestLoadParsesShapes(t *testing.T) {
	// One class, 2-dim identity rotation plus a +1 shift on each component.
	a := []float32{1, 0, 0, 1}
	b := []float32{1, 1}
	path := writeTransform(t, a, 1, 2, b)

	tr, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.NClass)
	assert.Equal(t, 2, tr.Dim)
	assert.Equal(t, []float32{1, 0}, tr.A[0][0])
	assert.Equal(t, []float32{0, 1}, tr.A[0][1])
	assert.Equal(t, []float32{1, 1}, tr.B[0])
}

func TestLoadRejectsNonSquareA(t *testing.T) {
	// writeTransform always writes A as n_class x dim x dim, so the
	// non-square 1 x 2 x 3 A is written directly.
	w := s3file.NewWriter(false)
	w.SetHeader("version", "1.0")
	w.WriteArray([]int{1, 2, 3}, []float32{1, 0, 0, 0, 1, 0})
	w.WriteArray([]int{1, 2}, []float32{0, 0})
	path := filepath.Join(t.TempDir(), "mllr")
	require.NoError(t, os.WriteFile(path, w.Bytes(), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyShiftsMeansByIdentityPlusBias(t *testing.T) {
	a := []float32{1, 0, 0, 1}
	b := []float32{2, -3}
	path := writeTransform(t, a, 1, 2, b)
	tr, err := Load(path)
	require.NoError(t, err)

	cb := model.NewCodebook(1, 2, []float32{10, 10}, []float32{1, 1})
	mgau := model.NewMgau(nil, []*model.Codebook{cb}, []int{0}, [][]int32{{0}}, 1)

	require.NoError(t, tr.Apply(mgau))
	assert.Equal(t, []float32{12, 7}, mgau.Codebooks[0].Means)
}

func TestApplyRejectsDimensionMismatch(t *testing.T) {
	path := writeTransform(t, []float32{1, 0, 0, 1}, 1, 2, []float32{0, 0})
	tr, err := Load(path)
	require.NoError(t, err)

	cb := model.NewCodebook(1, 3, []float32{0, 0, 0}, []float32{1, 1, 1})
	mgau := model.NewMgau(nil, []*model.Codebook{cb}, []int{0}, [][]int32{{0}}, 1)

	assert.Error(t, tr.Apply(mgau))
}

func TestApplyRejectsUnknownClassMapping(t *testing.T) {
	path := writeTransform(t, []float32{1, 0, 0, 1}, 1, 2, []float32{0, 0})
	tr, err := Load(path)
	require.NoError(t, err)
	tr.Cb2Class = []int{5}

	cb := model.NewCodebook(1, 2, []float32{0, 0}, []float32{1, 1})
	mgau := model.NewMgau(nil, []*model.Codebook{cb}, []int{0}, [][]int32{{0}}, 1)

	assert.Error(t, tr.Apply(mgau))
}
