// Package mllr implements speaker-adaptive model-space linear
// transforms: regression-class rotation matrices and biases loaded from
// an S3 binary file, applied once at load time by pre-rotating an
// Mgau's Gaussian means in place.
package mllr

import (
	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/model"
	"github.com/soundswallower/soundswallower-go/internal/s3file"
)

// Transform holds the A (rotation) and b (bias) parameters of an MLLR
// transform, one regression class at a time, plus the codebook->class
// mapping used to pick which class applies to a given codebook.
type Transform struct {
	NClass, Dim int
	A           [][][]float32 // [class][row][col], Dim x Dim
	B           [][]float32   // [class][row]
	Cb2Class    []int         // codebook idx -> class idx; a missing entry (index out of range) defaults to class 0
}

// Load reads an MLLR transform from path: an S3 container holding a 3D
// array "mllr_a" (n_class x dim x dim) and a 2D array "mllr_b" (n_class x
// dim), following the same binary container internal/s3file already
// implements for acoustic-model parameters.
func Load(path string) (*Transform, error) {
	f, err := s3file.Open(path)
	if err != nil {
		return nil, err
	}
	aFlat, nClass, dim1, dim2, err := f.ReadArray3D()
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "mllr: read A", err)
	}
	if dim1 != dim2 {
		return nil, errs.New(errs.InvalidModel, "mllr: A must be square per class")
	}
	bFlat, nClassB, dimB, err := f.ReadArray2D()
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "mllr: read b", err)
	}
	if nClassB != nClass || dimB != dim1 {
		return nil, errs.New(errs.InvalidModel, "mllr: A/b shape mismatch")
	}

	t := &Transform{NClass: nClass, Dim: dim1}
	t.A = make([][][]float32, nClass)
	t.B = make([][]float32, nClass)
	for c := 0; c < nClass; c++ {
		rows := make([][]float32, dim1)
		for r := 0; r < dim1; r++ {
			row := make([]float32, dim1)
			copy(row, aFlat[(c*dim1+r)*dim1:(c*dim1+r+1)*dim1])
			rows[r] = row
		}
		t.A[c] = rows
		t.B[c] = append([]float32(nil), bFlat[c*dim1:(c+1)*dim1]...)
	}
	return t, nil
}

func (t *Transform) classFor(cb int) int {
	if cb >= 0 && cb < len(t.Cb2Class) {
		return t.Cb2Class[cb]
	}
	return 0
}

// Apply pre-rotates every codebook's Gaussian means in mgau in place:
// mean' = A[class] * mean + b[class], for the class assigned to that
// codebook. Scoring logic downstream is unaware this happened, matching
// spec's "otherwise unchanged."
func (t *Transform) Apply(mgau *model.Mgau) error {
	for cbIdx, cb := range mgau.Codebooks {
		if cb.Dim != t.Dim {
			return errs.New(errs.InvalidModel, "mllr: dimension mismatch with acoustic model")
		}
		class := t.classFor(cbIdx)
		if class >= t.NClass {
			return errs.New(errs.InvalidModel, "mllr: cb2class references unknown class")
		}
		a, b := t.A[class], t.B[class]
		for g := 0; g < cb.NDensity; g++ {
			base := g * cb.Dim
			orig := make([]float32, cb.Dim)
			copy(orig, cb.Means[base:base+cb.Dim])
			for row := 0; row < cb.Dim; row++ {
				var acc float32
				for col := 0; col < cb.Dim; col++ {
					acc += a[row][col] * orig[col]
				}
				cb.Means[base+row] = acc + b[row]
			}
		}
	}
	return nil
}
