package refcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRetainIncrementsAndReleaseDecrements(t *testing.T) {
	h := New(42)
	assert.Equal(t, 1, h.Count())

	_, err := h.Retain()
	require.NoError(t, err)
	assert.Equal(t, 2, h.Count())

	require.NoError(t, h.Release())
	assert.Equal(t, 1, h.Count())

	v, err := h.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGetAfterFinalReleaseErrors(t *testing.T) {
	h := New("model")
	require.NoError(t, h.Release())
	_, err := h.Get()
	assert.Error(t, err)
}

func TestReleasePastZeroErrors(t *testing.T) {
	h := New(1)
	require.NoError(t, h.Release())
	assert.Error(t, h.Release())
}

func TestRetainAfterFreeErrors(t *testing.T) {
	h := New(1)
	require.NoError(t, h.Release())
	_, err := h.Retain()
	assert.Error(t, err)
}

// TestRetainReleaseBalance pins spec's reference-counting invariant:
// after N retains and N+1 releases (one more release than retain, since
// New already holds the first reference), any further access is
// invalid; after N retains and N releases, the handle is still live.
func TestRetainReleaseBalance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		h := New(0)
		for i := 0; i < n; i++ {
			_, err := h.Retain()
			require.NoError(t, err)
		}
		for i := 0; i < n; i++ {
			require.NoError(t, h.Release())
		}
		// N retains beyond the initial 1, N releases: still live.
		_, err := h.Get()
		require.NoError(t, err)

		require.NoError(t, h.Release())
		_, err = h.Get()
		assert.Error(t, err)
	})
}
