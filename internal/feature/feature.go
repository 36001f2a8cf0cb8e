// Package feature implements spec §4.2's FeatureTransform: delta /
// delta-delta computation, live cepstral mean normalization, and optional
// LDA projection, over a small ring buffer of cepstral frames.
//
// The ring buffer is grounded on the teacher's src/rrbb.go idiom (a
// fixed-capacity array of frames with a monotonically advancing "newest"
// index, used there to hold demodulated bits awaiting HDLC framing; used
// here to hold cepstral frames awaiting enough lookahead to take a
// derivative).
package feature

import "github.com/soundswallower/soundswallower-go/internal/errs"

// ring is a fixed-capacity buffer of frames indexed by an ever-increasing
// absolute position; Get clamps out-of-range indices to the nearest
// materialized frame, which is exactly spec §4.2's "replicate the
// boundary frame" rule made mechanical.
type ring struct {
	buf    [][]float64
	newest int // absolute index of the most recently pushed frame, -1 if empty
}

func newRing(capacity int) *ring {
	return &ring{buf: make([][]float64, capacity), newest: -1}
}

func (r *ring) push(f []float64) {
	r.newest++
	r.buf[r.newest%len(r.buf)] = f
}

func (r *ring) get(i int) []float64 {
	if i < 0 {
		i = 0
	}
	if i > r.newest {
		i = r.newest
	}
	return r.buf[i%len(r.buf)]
}

func (r *ring) reset() {
	for i := range r.buf {
		r.buf[i] = nil
	}
	r.newest = -1
}

// Config configures a FeatureTransform.
type Config struct {
	NCep  int       // cepstral coefficients per frame (matches FrontEnd.NCep())
	W     int        // delta window half-width; default 2
	CMNWindow int     // frames over which the live CMN mean is computed; default 500
	LDA   [][]float64 // optional out_dim x (3*NCep) projection matrix
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.W == 0 {
		out.W = 2
	}
	if out.CMNWindow == 0 {
		out.CMNWindow = 500
	}
	return out
}

// FeatureTransform turns a stream of cepstral frames into a stream of
// (cep, delta, delta-delta) feature vectors, optionally LDA-projected,
// with live CMN applied to the cepstral part before derivatives are
// taken. It is not safe for concurrent use.
type FeatureTransform struct {
	cfg Config

	cepRing   *ring // capacity 2*W+1
	deltaRing *ring // capacity 3 (delta-delta always looks +-1 around a delta)

	// cmnSum/cmnCount/cmnHist implement the running mean over the last
	// CMNWindow frames; this state survives StartUtt (spec §4.2: "an
	// implementation MUST preserve mean across utterances unless
	// explicitly reset").
	cmnHist  [][]float64
	cmnPos   int
	cmnFull  bool
	cmnSum   []float64
	priorMean []float64

	pendingDeltaCenter int // next cep center to compute delta for
	pendingDDCenter    int // next delta center to compute delta-delta for
	outDim             int
}

// New validates cfg and builds a FeatureTransform.
func New(cfg Config) (*FeatureTransform, error) {
	c := cfg.withDefaults()
	if c.NCep <= 0 {
		return nil, errs.New(errs.InvalidConfig, "NCep must be positive")
	}
	if c.LDA != nil {
		for _, row := range c.LDA {
			if len(row) != 3*c.NCep {
				return nil, errs.New(errs.InvalidModel, "LDA matrix column count must equal 3*NCep")
			}
		}
	}
	ft := &FeatureTransform{
		cfg:       c,
		cepRing:   newRing(2*c.W + 1),
		deltaRing: newRing(3),
		cmnHist:   make([][]float64, c.CMNWindow),
		cmnSum:    make([]float64, c.NCep),
		priorMean: make([]float64, c.NCep),
	}
	ft.outDim = 3 * c.NCep
	if c.LDA != nil {
		ft.outDim = len(c.LDA)
	}
	ft.resetUtteranceState()
	return ft, nil
}

func (ft *FeatureTransform) resetUtteranceState() {
	ft.cepRing.reset()
	ft.deltaRing.reset()
	ft.pendingDeltaCenter = 0
	ft.pendingDDCenter = 0
}

// StartUtt resets the per-utterance ring buffers but preserves the CMN
// running mean, per spec §4.2.
func (ft *FeatureTransform) StartUtt() {
	ft.resetUtteranceState()
}

// ResetCMN clears the CMN running mean back to zero, for callers that
// explicitly want a fresh start rather than the default carry-over.
func (ft *FeatureTransform) ResetCMN() {
	for i := range ft.cmnHist {
		ft.cmnHist[i] = nil
	}
	ft.cmnPos = 0
	ft.cmnFull = false
	for i := range ft.cmnSum {
		ft.cmnSum[i] = 0
		ft.priorMean[i] = 0
	}
}

// OutDim reports the dimensionality of feature vectors this transform
// produces (3*NCep, or the LDA output dimension if configured).
func (ft *FeatureTransform) OutDim() int { return ft.outDim }

func (ft *FeatureTransform) cmnMean() []float64 {
	n := ft.cmnPos
	if ft.cmnFull {
		n = len(ft.cmnHist)
	}
	if n == 0 {
		return ft.priorMean
	}
	mean := make([]float64, ft.cfg.NCep)
	for i := range mean {
		mean[i] = ft.cmnSum[i] / float64(n)
	}
	return mean
}

func (ft *FeatureTransform) applyCMN(cep []float64) []float64 {
	mean := ft.cmnMean()
	out := make([]float64, len(cep))
	for i := range cep {
		out[i] = cep[i] - mean[i]
	}

	evicted := ft.cmnHist[ft.cmnPos]
	if evicted != nil {
		for i, v := range evicted {
			ft.cmnSum[i] -= v
		}
	}
	ft.cmnHist[ft.cmnPos] = append([]float64(nil), cep...)
	for i, v := range cep {
		ft.cmnSum[i] += v
	}
	ft.cmnPos++
	if ft.cmnPos == len(ft.cmnHist) {
		ft.cmnPos = 0
		ft.cmnFull = true
	}
	copy(ft.priorMean, ft.cmnMean())
	return out
}

func vecSub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// deltaAt computes Δ[c] = cep[c+2] - cep[c-2] directly from the cepstral
// ring, clamping out-of-range offsets to replicate the boundary frame.
func (ft *FeatureTransform) deltaAt(c int) []float64 {
	w := ft.cfg.W
	return vecSub(ft.cepRing.get(c+w), ft.cepRing.get(c-w))
}

// assemble builds the final (cep, delta, delta-delta) vector for center c,
// applying the LDA projection if configured.
func (ft *FeatureTransform) assemble(c int, delta, dd []float64) []float64 {
	cep := ft.cepRing.get(c)
	concat := make([]float64, 0, 3*ft.cfg.NCep)
	concat = append(concat, cep...)
	concat = append(concat, delta...)
	concat = append(concat, dd...)
	if ft.cfg.LDA == nil {
		return concat
	}
	out := make([]float64, len(ft.cfg.LDA))
	for i, row := range ft.cfg.LDA {
		var acc float64
		for j, w := range row {
			acc += w * concat[j]
		}
		out[i] = acc
	}
	return out
}

// Push feeds one raw cepstral frame (length NCep) into the transform.
// Because delta/delta-delta need lookahead, pushing a frame emits zero or
// more feature vectors for *earlier* centers that just became computable
// — in steady state, exactly one. Call Flush at utterance end to drain
// the final few frames via boundary replication.
func (ft *FeatureTransform) Push(cep []float64) [][]float64 {
	normalized := ft.applyCMN(cep)
	ft.cepRing.push(normalized)

	var out [][]float64
	w := ft.cfg.W
	for ft.pendingDeltaCenter <= ft.cepRing.newest-w {
		c := ft.pendingDeltaCenter
		delta := ft.deltaAt(c)
		ft.deltaRing.push(delta)
		ft.pendingDeltaCenter++
		out = append(out, ft.drainDeltaDelta()...)
	}
	return out
}

// drainDeltaDelta computes delta-delta(and assembles full feature
// vectors) for every delta center that has become ready given the
// current deltaRing state.
func (ft *FeatureTransform) drainDeltaDelta() [][]float64 {
	var out [][]float64
	for ft.pendingDDCenter <= ft.deltaRing.newest-1 {
		cprime := ft.pendingDDCenter
		dd := vecSub(ft.deltaRing.get(cprime+1), ft.deltaRing.get(cprime-1))
		out = append(out, ft.assemble(cprime, ft.deltaRing.get(cprime), dd))
		ft.pendingDDCenter++
	}
	return out
}

// Flush drains every remaining buffered center at utterance end, using
// boundary replication for the lookahead that will never arrive — spec
// §4.2's "last W frames ... emitted by replicating the boundary frame."
func (ft *FeatureTransform) Flush() [][]float64 {
	var out [][]float64
	for ft.pendingDeltaCenter <= ft.cepRing.newest {
		c := ft.pendingDeltaCenter
		delta := ft.deltaAt(c)
		ft.deltaRing.push(delta)
		ft.pendingDeltaCenter++
		out = append(out, ft.drainDeltaDelta()...)
	}
	out = append(out, ft.drainFinalDeltaDelta()...)
	return out
}

func (ft *FeatureTransform) drainFinalDeltaDelta() [][]float64 {
	var out [][]float64
	for ft.pendingDDCenter <= ft.deltaRing.newest {
		cprime := ft.pendingDDCenter
		dd := vecSub(ft.deltaRing.get(cprime+1), ft.deltaRing.get(cprime-1))
		out = append(out, ft.assemble(cprime, ft.deltaRing.get(cprime), dd))
		ft.pendingDDCenter++
	}
	return out
}
