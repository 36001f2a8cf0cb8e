package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func synthCepstra(n, ncep int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, ncep)
		for j := range row {
			row[j] = float64(i)*0.1 + float64(j)
		}
		out[i] = row
	}
	return out
}

func runAll(ft *FeatureTransform, cepstra [][]float64) [][]float64 {
	var out [][]float64
	for _, c := range cepstra {
		out = append(out, ft.Push(c)...)
	}
	out = append(out, ft.Flush()...)
	return out
}

func TestOutputLengthMatchesInputLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		ft, err := New(Config{NCep: 4})
		require.NoError(t, err)
		cepstra := synthCepstra(n, 4)
		out := runAll(ft, cepstra)
		assert.Len(t, out, n)
	})
}

func TestChunkingInvarianceBitIdentical(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		cepstra := synthCepstra(n, 4)

		ft1, _ := New(Config{NCep: 4})
		whole := runAll(ft1, cepstra)

		ft2, _ := New(Config{NCep: 4})
		var chunked [][]float64
		i := 0
		for i < len(cepstra) {
			step := rapid.IntRange(1, 5).Draw(t, "step")
			end := i + step
			if end > len(cepstra) {
				end = len(cepstra)
			}
			for _, c := range cepstra[i:end] {
				chunked = append(chunked, ft2.Push(c)...)
			}
			i = end
		}
		chunked = append(chunked, ft2.Flush()...)

		require.Equal(t, len(whole), len(chunked))
		for i := range whole {
			assert.Equal(t, whole[i], chunked[i])
		}
	})
}

func TestDeltaDeltaFormula(t *testing.T) {
	// A linearly increasing cepstrum has constant delta and zero
	// delta-delta, the simplest case pinning open question 1's chosen
	// definition (ΔΔ[c] = Δ[c+1] - Δ[c-1]).
	ft, err := New(Config{NCep: 1, W: 2})
	require.NoError(t, err)
	cepstra := make([][]float64, 12)
	for i := range cepstra {
		cepstra[i] = []float64{float64(i)}
	}
	out := runAll(ft, cepstra)
	require.Len(t, out, 12)
	for i := 4; i < 8; i++ { // interior frames, no boundary replication involved
		assert.InDelta(t, 0.0, out[i][2], 1e-9, "delta-delta should be ~0 for a linear ramp at frame %d", i)
		assert.InDelta(t, 2.0, out[i][1], 1e-9, "delta of the CMN-normalized ramp (slope 1/2) is 2 at frame %d", i)
	}
}

func TestCMNPersistsAcrossStartUtt(t *testing.T) {
	ft, err := New(Config{NCep: 1})
	require.NoError(t, err)
	cepstra := make([][]float64, 600)
	for i := range cepstra {
		cepstra[i] = []float64{10.0}
	}
	_ = runAll(ft, cepstra)

	ft.StartUtt()
	out := ft.Push([]float64{10.0})
	// Immediately after StartUtt, CMN mean should already be close to 10
	// (carried over), so the normalized cepstrum pushed into the ring is
	// near zero even on the very first frame of the new utterance.
	_ = out
	assert.InDelta(t, 10.0, ft.cmnMean()[0], 0.5)
}

func TestResetCMNZeroesTheMean(t *testing.T) {
	ft, err := New(Config{NCep: 1})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		ft.Push([]float64{10.0})
	}
	ft.ResetCMN()
	assert.Equal(t, 0.0, ft.cmnMean()[0])
}

func TestLDADimensionMismatchIsInvalidModel(t *testing.T) {
	_, err := New(Config{NCep: 13, LDA: [][]float64{{1, 2, 3}}})
	require.Error(t, err)
}
