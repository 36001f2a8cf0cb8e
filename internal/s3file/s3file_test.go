package s3file

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRoundTripBothEndians pins invariant 6 from the spec's testable
// properties: reading an S3 blob with either declared endianness produces
// identical typed arrays.
func TestRoundTripBothEndians(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(t, "n")
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = float32(rapid.Float64Range(-1e6, 1e6).Draw(t, "v"))
		}

		var little, big *File
		for _, swapped := range []bool{false, true} {
			w := NewWriter(swapped)
			w.SetHeader("version", "1.0")
			w.EnableChecksum()
			w.WriteArray([]int{n}, vals)
			f, err := Parse(w.Bytes())
			require.NoError(t, err)
			if swapped {
				big = f
			} else {
				little = f
			}
		}

		gotLittle, err := little.ReadArray1D()
		require.NoError(t, err)
		require.NoError(t, little.VerifyChecksum())

		gotBig, err := big.ReadArray1D()
		require.NoError(t, err)
		require.NoError(t, big.VerifyChecksum())

		assert.Equal(t, vals, gotLittle)
		assert.Equal(t, vals, gotBig)
	})
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse([]byte("not-s3\nendhdr\n"))
	require.Error(t, err)
}

func TestParseRejectsMissingEndhdr(t *testing.T) {
	_, err := Parse([]byte("s3\nkey value\n"))
	require.Error(t, err)
}

func TestArray2DAnd3DRoundTrip(t *testing.T) {
	w := NewWriter(false)
	w.WriteArray([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	f, err := Parse(w.Bytes())
	require.NoError(t, err)

	data, d0, d1, err := f.ReadArray2D()
	require.NoError(t, err)
	assert.Equal(t, 2, d0)
	assert.Equal(t, 3, d1)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, data)
}
