// Package frontend implements the acoustic front end: framing,
// pre-emphasis, windowing, FFT, Mel filterbank, and the DCT that turns raw
// 16-bit PCM into cepstral frames (spec §4.1).
package frontend

import (
	"math"

	"github.com/soundswallower/soundswallower-go/internal/errs"
	"gonum.org/v1/gonum/fourier"
)

// supportedRates are the sample rates spec §4.1 names explicitly; any
// other rate is mapped to the nearest of these.
var supportedRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000}

// Config configures one FrontEnd. Zero-valued fields take the spec's
// documented defaults.
type Config struct {
	SampleRate  int     // Hz
	FrameLenMs  float64 // window length, default 25ms
	FrameShftMs float64 // hop, default 10ms
	PreemphAlpha float64 // default 0.97
	NFilt       int     // Mel filters, default 40
	NCep        int     // cepstral coefficients kept, default 13
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FrameLenMs == 0 {
		out.FrameLenMs = 25
	}
	if out.FrameShftMs == 0 {
		out.FrameShftMs = 10
	}
	if out.PreemphAlpha == 0 {
		out.PreemphAlpha = 0.97
	}
	if out.NFilt == 0 {
		out.NFilt = 40
	}
	if out.NCep == 0 {
		out.NCep = 13
	}
	return out
}

// nearestSupportedRate maps an arbitrary sample rate to the closest entry
// in supportedRates, matching spec §4.1's "odd rates are mapped to the
// nearest supported Mel filterbank."
func nearestSupportedRate(rate int) int {
	best := supportedRates[0]
	bestDiff := abs(rate - best)
	for _, r := range supportedRates[1:] {
		if d := abs(rate - r); d < bestDiff {
			best, bestDiff = r, d
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// FrontEnd is the stateful PCM->cepstra pipeline for one channel. It is
// not safe for concurrent use (spec §5).
type FrontEnd struct {
	cfg Config

	frameLen, frameShift int // samples
	fftSize               int
	window                []float64
	melFB                 [][]float64 // NFilt x (fftSize/2+1)
	dct                   [][]float64 // NCep x NFilt

	fft *fourier.FFT

	tail       []int16 // samples not yet covered by an emitted frame, carried from the previous call
	prevSample int16   // raw sample immediately preceding tail[0]/the next frame, for pre-emphasis continuity across overlapping frames
}

// New validates cfg and builds a FrontEnd.
func New(cfg Config) (*FrontEnd, error) {
	c := cfg.withDefaults()
	if c.SampleRate <= 0 {
		return nil, errs.New(errs.InvalidConfig, "sample rate must be positive")
	}
	mapped := nearestSupportedRate(c.SampleRate)
	c.SampleRate = mapped

	fe := &FrontEnd{cfg: c}
	fe.frameLen = int(math.Round(c.FrameLenMs * float64(c.SampleRate) / 1000.0))
	fe.frameShift = int(math.Round(c.FrameShftMs * float64(c.SampleRate) / 1000.0))
	if fe.frameLen < 2 || fe.frameShift < 1 {
		return nil, errs.New(errs.InvalidConfig, "frame length/shift too small for sample rate")
	}

	fe.fftSize = nextPow2(fe.frameLen)
	fe.fft = fourier.NewFFT(fe.fftSize)

	fe.window = hammingWindow(fe.frameLen)
	fe.melFB = buildMelFilterbank(c.NFilt, fe.fftSize, c.SampleRate)
	fe.dct = buildDCTMatrix(c.NCep, c.NFilt)

	return fe, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// hzToMel / melToHz use the standard O'Shaughnessy formula.
func hzToMel(hz float64) float64  { return 2595.0 * math.Log10(1.0+hz/700.0) }
func melToHz(mel float64) float64 { return 700.0 * (math.Pow(10, mel/2595.0) - 1.0) }

func buildMelFilterbank(nFilt, fftSize, sampleRate int) [][]float64 {
	nBins := fftSize/2 + 1
	loMel := hzToMel(0)
	hiMel := hzToMel(float64(sampleRate) / 2)
	points := make([]float64, nFilt+2)
	for i := range points {
		points[i] = melToHz(loMel + (hiMel-loMel)*float64(i)/float64(nFilt+1))
	}
	bin := make([]int, nFilt+2)
	for i, hz := range points {
		bin[i] = int(math.Floor((float64(fftSize) + 1) * hz / float64(sampleRate)))
	}

	fb := make([][]float64, nFilt)
	for m := 0; m < nFilt; m++ {
		row := make([]float64, nBins)
		left, center, right := bin[m], bin[m+1], bin[m+2]
		for k := left; k < center && k < nBins; k++ {
			if center != left {
				row[k] = float64(k-left) / float64(center-left)
			}
		}
		for k := center; k < right && k < nBins; k++ {
			if right != center {
				row[k] = float64(right-k) / float64(right-center)
			}
		}
		fb[m] = row
	}
	return fb
}

// buildDCTMatrix builds the DCT-II basis used to turn log Mel energies
// into cepstral coefficients.
func buildDCTMatrix(nCep, nFilt int) [][]float64 {
	mat := make([][]float64, nCep)
	for c := 0; c < nCep; c++ {
		row := make([]float64, nFilt)
		for n := 0; n < nFilt; n++ {
			row[n] = math.Cos(math.Pi * float64(c) * (float64(n) + 0.5) / float64(nFilt))
		}
		mat[c] = row
	}
	return mat
}

// FrameLen and FrameShift expose the computed sample counts, used by
// FeatureTransform and by callers sizing buffers.
func (fe *FrontEnd) FrameLen() int    { return fe.frameLen }
func (fe *FrontEnd) FrameShift() int  { return fe.frameShift }
func (fe *FrontEnd) NCep() int        { return fe.cfg.NCep }
func (fe *FrontEnd) SampleRate() int  { return fe.cfg.SampleRate }

// StartUtt resets per-utterance state (the leftover sample tail and
// pre-emphasis continuity), matching the FrontEnd lifecycle in spec §3
// ("per-utterance start/end").
func (fe *FrontEnd) StartUtt() {
	fe.tail = nil
	fe.prevSample = 0
}

// Process frames the audio held over from the previous call followed by
// pcmIn, producing up to maxFrames frames (writing them into cepOut, which
// must have len(cepOut) >= maxFrames and each row len NCep), and returns
// (samplesConsumed, framesProduced). Every sample of pcmIn is taken, so
// samplesConsumed is always len(pcmIn): samples not yet covered by an
// emitted frame are kept in the internal tail and framed by the next call.
// Input is not held back once maxFrames is reached; the whole unframed
// remainder, however long, waits in the tail. When end is true and insufficient
// samples remain to fill a whole frame, it zero-pads to emit one final
// frame iff at least one sample of unconsumed audio exists.
func (fe *FrontEnd) Process(pcmIn []int16, cepOut [][]float64, maxFrames int, end bool) (consumed, produced int) {
	buf := append(fe.tail, pcmIn...)
	pos := 0

	for produced < maxFrames && produced < len(cepOut) {
		remaining := len(buf) - pos
		if remaining >= fe.frameLen {
			fe.emitFrame(buf[pos:pos+fe.frameLen], cepOut[produced], fe.prevSampleAt(buf, pos))
			pos += fe.frameShift
			produced++
			continue
		}
		if end && remaining > 0 {
			frame := make([]int16, fe.frameLen)
			copy(frame, buf[pos:])
			fe.emitFrame(frame, cepOut[produced], fe.prevSampleAt(buf, pos))
			pos = len(buf)
			produced++
		}
		break
	}

	if pos > 0 {
		fe.prevSample = buf[pos-1]
	}
	if pos < len(buf) {
		fe.tail = append([]int16(nil), buf[pos:]...)
	} else {
		fe.tail = nil
	}

	// Every sample of pcmIn is now either framed or held in fe.tail, so the
	// caller must not feed any of it again.
	consumed = len(pcmIn)
	return consumed, produced
}

// prevSampleAt returns the raw sample pre-emphasis should treat as
// preceding buf[pos]: buf[pos-1] when that index is part of this call's
// buffer, or the single sample persisted from before this call when
// pos is 0 (buf[0] is unchanged from the previous call's leftover tail
// in that case, so the persisted value still applies).
func (fe *FrontEnd) prevSampleAt(buf []int16, pos int) int16 {
	if pos > 0 {
		return buf[pos-1]
	}
	return fe.prevSample
}

// emitFrame runs pre-emphasis, windowing, FFT, Mel filterbank, log, and
// DCT over one frameLen-sample window, writing NCep coefficients into
// out. prevSample is the raw sample immediately preceding frame[0]
// (0 at utterance start), used as pre-emphasis's initial reference so
// overlapping frames don't re-derive it from the wrong neighbor.
func (fe *FrontEnd) emitFrame(frame []int16, out []float64, prevSample int16) {
	x := make([]float64, len(frame))
	prev := float64(prevSample)
	for i, s := range frame {
		cur := float64(s)
		x[i] = cur - fe.cfg.PreemphAlpha*prev
		prev = cur
	}

	for i := range x {
		x[i] *= fe.window[i]
	}

	padded := make([]float64, fe.fftSize)
	copy(padded, x)

	spectrum := fe.fft.Coefficients(nil, padded)
	nBins := fe.fftSize/2 + 1
	power := make([]float64, nBins)
	for k := 0; k < nBins; k++ {
		power[k] = real(spectrum[k])*real(spectrum[k]) + imag(spectrum[k])*imag(spectrum[k])
	}

	logMel := make([]float64, len(fe.melFB))
	for m, row := range fe.melFB {
		var e float64
		for k, w := range row {
			e += w * power[k]
		}
		const floor = 1e-5
		if e < floor {
			e = floor
		}
		logMel[m] = math.Log(e)
	}

	for c, row := range fe.dct {
		var acc float64
		for n, w := range row {
			acc += w * logMel[n]
		}
		out[c] = acc
	}
}
