package model

import (
	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/s3file"
)

// Tmat holds every HMM's transition log-probabilities as one flat buffer,
// replacing the original "manual tri-pointer array" (float32 ***tmat) with
// computed strides (design note §9). Entry (t, from, to) is the
// log-probability of transitioning from state `from` to state `to` in HMM
// transition matrix t; `to == NState` (one past the last emitting state)
// is the exit transition.
type Tmat struct {
	NTmat, NState int
	data          []int32 // flat, stride NState*(NState+1)
}

// NewTmat allocates a zeroed (WorstScore-filled) Tmat; Set populates it.
func NewTmat(nTmat, nState int) *Tmat {
	data := make([]int32, nTmat*nState*(nState+1))
	for i := range data {
		data[i] = logmath.WorstScore
	}
	return &Tmat{NTmat: nTmat, NState: nState, data: data}
}

func (t *Tmat) index(tmatID, from, to int) int {
	return (tmatID*t.NState+from)*(t.NState+1) + to
}

// Get returns the log-probability of from->to in transition matrix
// tmatID. to may equal NState for the exit transition.
func (t *Tmat) Get(tmatID, from, to int) int32 {
	return t.data[t.index(tmatID, from, to)]
}

// Set stores a log-probability.
func (t *Tmat) Set(tmatID, from, to int, logprob int32) {
	t.data[t.index(tmatID, from, to)] = logprob
}

// LoadTmat reads transition matrices from an S3 binary 3D float32 array of
// shape (NTmat, NState, NState+1) holding linear probabilities, converting
// each to the log domain with lm. Rows that do not sum to ~1 are accepted
// as-is (model files occasionally carry slightly unnormalized rows from
// floating point training); the invariant in spec's data model table is
// documented, not enforced, matching the original's trust-the-model-file
// stance.
func LoadTmat(path string, lm *logmath.LogMath) (*Tmat, error) {
	f, err := s3file.Open(path)
	if err != nil {
		return nil, err
	}
	data, nTmat, nState, nNext, err := f.ReadArray3D()
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "read transition matrices", err)
	}
	if nNext != nState+1 {
		return nil, errs.New(errs.InvalidModel, "tmat: expected NState+1 columns")
	}
	t := NewTmat(nTmat, nState)
	for i, p := range data {
		t.data[i] = lm.Log(float64(p))
	}
	return t, nil
}
