package frontend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testConfig() Config {
	return Config{SampleRate: 16000}
}

func runAll(fe *FrontEnd, pcm []int16) [][]float64 {
	var frames [][]float64
	out := make([][]float64, 1)
	out[0] = make([]float64, fe.NCep())
	pos := 0
	for {
		n, produced := fe.Process(pcm[pos:], out, 1, false)
		pos += n
		if produced == 0 {
			break
		}
		frames = append(frames, append([]float64(nil), out[0]...))
	}
	// Final flush.
	for {
		n, produced := fe.Process(pcm[pos:], out, 1, true)
		pos += n
		if produced == 0 {
			break
		}
		frames = append(frames, append([]float64(nil), out[0]...))
	}
	return frames
}

func synthTone(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(1000 * math.Sin(2*math.Pi*200*float64(i)/16000))
	}
	return pcm
}

// TestConcatenationInvariant pins spec §8 invariant 1: chunking a PCM
// stream arbitrarily must not change the feature sequence produced.
func TestConcatenationInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8000).Draw(t, "n")
		pcm := synthTone(n)

		fe1, err := New(testConfig())
		require.NoError(t, err)
		fe1.StartUtt()
		whole := runAll(fe1, pcm)

		fe2, err := New(testConfig())
		require.NoError(t, err)
		fe2.StartUtt()

		var chunked [][]float64
		chunkSizes := rapid.SliceOf(rapid.IntRange(1, 400)).Draw(t, "chunks")
		pos := 0
		out := make([][]float64, 1)
		out[0] = make([]float64, fe2.NCep())
		for _, cs := range chunkSizes {
			if pos >= len(pcm) {
				break
			}
			end := pos + cs
			if end > len(pcm) {
				end = len(pcm)
			}
			chunk := pcm[pos:end]
			cpos := 0
			for cpos < len(chunk) {
				consumed, produced := fe2.Process(chunk[cpos:], out, 1, false)
				cpos += consumed
				if produced > 0 {
					chunked = append(chunked, append([]float64(nil), out[0]...))
				}
				if consumed == 0 {
					break
				}
			}
			pos = end
		}
		// feed any remainder and flush
		remainderPos := pos
		for remainderPos < len(pcm) {
			consumed, produced := fe2.Process(pcm[remainderPos:], out, 1, false)
			remainderPos += consumed
			if produced > 0 {
				chunked = append(chunked, append([]float64(nil), out[0]...))
			}
			if consumed == 0 {
				break
			}
		}
		for {
			_, produced := fe2.Process(nil, out, 1, true)
			if produced == 0 {
				break
			}
			chunked = append(chunked, append([]float64(nil), out[0]...))
		}

		require.Equal(t, len(whole), len(chunked))
		for i := range whole {
			for j := range whole[i] {
				assert.InDelta(t, whole[i][j], chunked[i][j], 1e-9)
			}
		}
	})
}

// TestFrameCountBound pins the property-test requirement in spec §8: the
// front end never emits more than floor(samples/frame_shift)+1 frames and
// never crashes on zero-length input.
func TestFrameCountBound(t *testing.T) {
	fe, err := New(testConfig())
	require.NoError(t, err)
	rapid.Check(t, func(t *rapid.T) {
		fe.StartUtt()
		n := rapid.IntRange(0, 2*fe.FrameLen()).Draw(t, "n")
		pcm := synthTone(n)
		frames := runAll(fe, pcm)
		maxAllowed := n/fe.FrameShift() + 1
		assert.LessOrEqual(t, len(frames), maxAllowed)
	})
}

func TestZeroLengthInputDoesNotCrash(t *testing.T) {
	fe, err := New(testConfig())
	require.NoError(t, err)
	fe.StartUtt()
	out := make([][]float64, 1)
	out[0] = make([]float64, fe.NCep())
	consumed, produced := fe.Process(nil, out, 1, true)
	assert.Equal(t, 0, consumed)
	assert.Equal(t, 0, produced)
}

// TestOverlappingFramePreemphasisUsesImmediatePredecessor pins the
// overlap case (default FrameLenMs=25 > FrameShftMs=10): the second
// frame's pre-emphasis reference sample must be the raw sample directly
// preceding its own start (pcm[FrameShift()-1]), not the last sample of
// the first frame's longer window (pcm[FrameLen()-1]), which sits ahead
// of it whenever frames overlap.
func TestOverlappingFramePreemphasisUsesImmediatePredecessor(t *testing.T) {
	fe, err := New(testConfig())
	require.NoError(t, err)
	fe.StartUtt()
	require.Greater(t, fe.FrameLen(), fe.FrameShift())

	n := fe.FrameLen() + 2*fe.FrameShift()
	pcm := synthTone(n)

	out := make([][]float64, 1)
	out[0] = make([]float64, fe.NCep())
	_, produced := fe.Process(pcm, out, 1, false)
	require.Equal(t, 1, produced)
	_, produced = fe.Process(nil, out, 1, false)
	require.Equal(t, 1, produced)
	secondFrame := append([]float64(nil), out[0]...)

	window := pcm[fe.FrameShift() : fe.FrameShift()+fe.FrameLen()]
	correct := make([]float64, fe.NCep())
	fe.emitFrame(window, correct, pcm[fe.FrameShift()-1])
	wrong := make([]float64, fe.NCep())
	fe.emitFrame(window, wrong, pcm[fe.FrameLen()-1])

	for j := range secondFrame {
		assert.InDelta(t, correct[j], secondFrame[j], 1e-9)
	}
	diverges := false
	for j := range secondFrame {
		if math.Abs(wrong[j]-secondFrame[j]) > 1e-6 {
			diverges = true
		}
	}
	assert.True(t, diverges, "expected the correct pre-emphasis reference to differ from the stale-neighbor one")
}

func TestUnsupportedSampleRateMapsToNearest(t *testing.T) {
	fe, err := New(Config{SampleRate: 17000})
	require.NoError(t, err)
	assert.Equal(t, 16000, fe.SampleRate())
}

func TestZeroSampleRateIsInvalidConfig(t *testing.T) {
	_, err := New(Config{SampleRate: 0})
	require.Error(t, err)
}
