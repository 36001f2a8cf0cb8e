package model

import (
	"math"

	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/s3file"
)

// Codebook is one tied-mixture Gaussian codebook: NDensity diagonal
// Gaussians over a Dim-dimensional feature stream, in the "ptm" / PocketSphinx
// semi-continuous style (spec §4.3).
type Codebook struct {
	NDensity, Dim int
	Means, Vars   []float32 // flat, NDensity*Dim
	norm          []float32 // per-density -0.5*sum(log(2*pi*var)), precomputed at load time
}

// NewCodebook builds a Codebook from explicit means/variances, exported
// for constructing synthetic fixtures in other packages' tests (and for
// internal/mllr's mean-rotation path) without a round trip through the S3
// loader.
func NewCodebook(nDensity, dim int, means, vars []float32) *Codebook {
	return newCodebook(nDensity, dim, means, vars)
}

func newCodebook(nDensity, dim int, means, vars []float32) *Codebook {
	cb := &Codebook{NDensity: nDensity, Dim: dim, Means: means, Vars: vars, norm: make([]float32, nDensity)}
	for g := 0; g < nDensity; g++ {
		var sum float64
		for d := 0; d < dim; d++ {
			v := float64(vars[g*dim+d])
			if v < 1e-6 {
				v = 1e-6
			}
			sum += math.Log(2 * math.Pi * v)
		}
		cb.norm[g] = float32(-0.5 * sum)
	}
	return cb
}

// densityLogLik returns the natural-log Gaussian density of feature x
// under density g.
func (cb *Codebook) densityLogLik(x []float32, g int) float64 {
	base := g * cb.Dim
	var acc float64
	for d := 0; d < cb.Dim; d++ {
		diff := float64(x[d] - cb.Means[base+d])
		v := float64(cb.Vars[base+d])
		if v < 1e-6 {
			v = 1e-6
		}
		acc += diff * diff / v
	}
	return float64(cb.norm[g]) - 0.5*acc
}

// TopN finds the top n densities of cb for feature x (by natural-log
// likelihood), returning their indices (best first) and their
// likelihoods. This is the "Gaussian selection" step of spec §4.3.
func (cb *Codebook) TopN(x []float32, n int) (idx []int, loglik []float64) {
	if n > cb.NDensity {
		n = cb.NDensity
	}
	idx = make([]int, 0, n)
	loglik = make([]float64, 0, n)
	for g := 0; g < cb.NDensity; g++ {
		ll := cb.densityLogLik(x, g)
		// Insertion into a small sorted top-N list; NDensity is typically
		// 256 so a linear insertion beats a heap for n<=8.
		pos := len(idx)
		for pos > 0 && loglik[pos-1] < ll {
			pos--
		}
		if pos == n {
			continue
		}
		idx = append(idx, 0)
		loglik = append(loglik, 0)
		copy(idx[pos+1:], idx[pos:len(idx)-1])
		copy(loglik[pos+1:], loglik[pos:len(loglik)-1])
		idx[pos] = g
		loglik[pos] = ll
		if len(idx) > n {
			idx = idx[:n]
			loglik = loglik[:n]
		}
	}
	return idx, loglik
}

// Mgau is the full tied-mixture acoustic model: one or more codebooks, a
// senone->codebook assignment, and quantized per-(senone,density) mixture
// log-weights.
type Mgau struct {
	lm             *logmath.LogMath
	Codebooks      []*Codebook
	SenoneCodebook []int     // len NSenones
	Weights        [][]int32 // [senone][density] log-weight, already in lm's log domain
	TopNDensities  int
	DSRatio        int // downsample ratio; 1 means score every frame
}

// NewMgau builds an Mgau from explicit in-memory data (used by the S3
// loader and directly by tests).
func NewMgau(lm *logmath.LogMath, codebooks []*Codebook, senoneCodebook []int, weights [][]int32, topN int) *Mgau {
	if topN <= 0 {
		topN = 4
	}
	return &Mgau{
		lm:             lm,
		Codebooks:      codebooks,
		SenoneCodebook: senoneCodebook,
		Weights:        weights,
		TopNDensities:  topN,
		DSRatio:        1,
	}
}

// NSenones reports how many senones this model scores.
func (g *Mgau) NSenones() int { return len(g.SenoneCodebook) }

// LoadMgau loads means, variances and quantized mixture weights from S3
// binary files. means/vars are 2D (NDensity x Dim) float32 arrays shared
// by a single codebook (the common "ptm" case of spec §4.3, one codebook
// shared by all senones); weights is a 2D (NSenones x NDensity) float32
// array of linear mixture weights, log-converted and quantized to the
// log-math domain at load time (the "8-bit quantized log-weight" of spec
// §4.3 is realized here as int32 log-domain weights truncated toward zero
// to a multiple of 256 log units; the weights are not packed into bytes).
func LoadMgau(meansPath, varsPath, weightsPath string, lm *logmath.LogMath, topN int) (*Mgau, error) {
	means2D, nDensity, dim, err := readFloat2D(meansPath)
	if err != nil {
		return nil, err
	}
	vars2D, nDensity2, dim2, err := readFloat2D(varsPath)
	if err != nil {
		return nil, err
	}
	if nDensity2 != nDensity || dim2 != dim {
		return nil, errs.New(errs.InvalidModel, "mgau: means/variances shape mismatch")
	}
	cb := newCodebook(nDensity, dim, means2D, vars2D)

	w2D, nSenones, nDensity3, err := readFloat2D(weightsPath)
	if err != nil {
		return nil, err
	}
	if nDensity3 != nDensity {
		return nil, errs.New(errs.InvalidModel, "mgau: mixture weight density count mismatch")
	}

	weights := make([][]int32, nSenones)
	senoneCodebook := make([]int, nSenones)
	for s := 0; s < nSenones; s++ {
		row := make([]int32, nDensity)
		for dd := 0; dd < nDensity; dd++ {
			row[dd] = quantizeLogWeight(lm, float64(w2D[s*nDensity+dd]))
		}
		weights[s] = row
		senoneCodebook[s] = 0
	}

	return NewMgau(lm, []*Codebook{cb}, senoneCodebook, weights, topN), nil
}

// quantizeLogWeight converts a linear mixture weight to the log domain and
// truncates it toward zero to a multiple of 256 log units; non-positive
// weights map to logmath.WorstScore.
func quantizeLogWeight(lm *logmath.LogMath, w float64) int32 {
	if w <= 0 {
		return logmath.WorstScore
	}
	const step = 256
	raw := lm.Log(w)
	return (raw / step) * step
}

func readFloat2D(path string) ([]float32, int, int, error) {
	f, err := s3file.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	data, d0, d1, err := f.ReadArray2D()
	if err != nil {
		return nil, 0, 0, errs.Wrap(errs.IoError, "read "+path, err)
	}
	return data, d0, d1, nil
}

// ScoreFrame computes senone log-likelihoods for one feature frame,
// exactly following spec §4.3's per-frame procedure. active selects which
// senones are of interest this frame (nil means "all"); inactive senones
// receive logmath.WorstScore. cache, when non-nil, is filled with the
// Gaussian selection made this frame (one entry per codebook actually
// evaluated) so the caller can cache it for ds_ratio sub-sampling reuse.
func (g *Mgau) ScoreFrame(feat []float32, active []bool, scores []int32, cache *TopNCache) {
	evalCodebook := make(map[int]topNResult, len(g.Codebooks))
	needed := make([]bool, len(g.Codebooks))
	for s, cbIdx := range g.SenoneCodebook {
		if active == nil || (s < len(active) && active[s]) {
			needed[cbIdx] = true
		}
	}

	for cbIdx, cb := range g.Codebooks {
		if !needed[cbIdx] {
			continue
		}
		if cache != nil && cache.reuse {
			evalCodebook[cbIdx] = cache.results[cbIdx]
			continue
		}
		idx, ll := cb.TopN(feat, g.TopNDensities)
		res := topNResult{idx: idx, loglik: make([]int32, len(ll))}
		for i, v := range ll {
			// v is a natural-log density; convert straight to the log-math
			// base rather than round-tripping through a linear probability,
			// which would underflow to 0 for any very unlikely density.
			res.loglik[i] = int32(math.Round(v / math.Log(g.lm.Base())))
		}
		evalCodebook[cbIdx] = res
		if cache != nil {
			cache.results[cbIdx] = res
		}
	}

	for s := range scores {
		scores[s] = logmath.WorstScore
	}
	for s, cbIdx := range g.SenoneCodebook {
		if s >= len(scores) {
			break
		}
		if active != nil && (s >= len(active) || !active[s]) {
			continue
		}
		res, ok := evalCodebook[cbIdx]
		if !ok {
			continue
		}
		acc := logmath.WorstScore
		wrow := g.Weights[s]
		for i, densityIdx := range res.idx {
			if densityIdx >= len(wrow) {
				continue
			}
			acc = g.lm.Add(acc, wrow[densityIdx]+res.loglik[i])
		}
		scores[s] = acc
	}
}

type topNResult struct {
	idx    []int
	loglik []int32
}

// TopNCache holds one frame's Gaussian selection so that, under ds_ratio
// downsampling, intermediate frames can reuse it instead of re-evaluating
// every Gaussian (spec §4.3 "Downsampling").
type TopNCache struct {
	results map[int]topNResult
	reuse   bool
}

// NewTopNCache allocates a cache ready for first use (reuse=false; the
// caller flips Reuse(true) on frames that should replay the last
// selection).
func NewTopNCache() *TopNCache {
	return &TopNCache{results: map[int]topNResult{}}
}

// SetReuse toggles whether the next ScoreFrame call replays the cached
// selection instead of recomputing it.
func (c *TopNCache) SetReuse(reuse bool) { c.reuse = reuse }
