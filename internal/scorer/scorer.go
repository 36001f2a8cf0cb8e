// Package scorer implements spec §4.3's AcousticScorer: given one feature
// vector, a set of active senones, and the frame index, it produces a
// fixed-length vector of integer log-likelihoods, handling top-N Gaussian
// selection reuse across ds_ratio-downsampled frames and optional
// best-score normalization.
package scorer

import (
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/model"
)

// Config controls scorer-level behavior layered on top of the raw Mgau.
type Config struct {
	Normalize bool // subtract the frame's best score to keep magnitudes bounded
}

// Scorer wraps a model.Mgau with the per-frame bookkeeping (downsample
// cache, normalization) described in spec §4.3. It is not safe for
// concurrent use; multiple Scorers may share one *model.Mgau.
type Scorer struct {
	mgau  *model.Mgau
	cfg   Config
	cache *model.TopNCache

	frame       int
	scoresBuf   []int32
}

// New builds a Scorer over mgau.
func New(mgau *model.Mgau, cfg Config) *Scorer {
	return &Scorer{
		mgau:      mgau,
		cfg:       cfg,
		cache:     model.NewTopNCache(),
		scoresBuf: make([]int32, mgau.NSenones()),
	}
}

// StartUtt resets the per-utterance frame counter and downsample cache.
func (s *Scorer) StartUtt() {
	s.frame = 0
	s.cache = model.NewTopNCache()
}

// Score computes senone log-likelihoods for feat given the active-senone
// bitset (nil means score every senone). The returned slice is reused
// across calls; callers that need to retain a frame's scores must copy
// it.
func (s *Scorer) Score(feat []float32, active []bool) []int32 {
	ds := s.mgau.DSRatio
	if ds <= 1 {
		s.cache.SetReuse(false)
	} else {
		s.cache.SetReuse(s.frame%ds != 0)
	}

	s.mgau.ScoreFrame(feat, active, s.scoresBuf, s.cache)

	if s.cfg.Normalize {
		best := logmath.WorstScore
		for _, sc := range s.scoresBuf {
			if sc > best {
				best = sc
			}
		}
		if best > logmath.WorstScore {
			for i, sc := range s.scoresBuf {
				if sc > logmath.WorstScore {
					s.scoresBuf[i] = sc - best
				}
			}
		}
	}

	s.frame++
	return s.scoresBuf
}

// Frame reports the current 0-based frame index within the utterance.
func (s *Scorer) Frame() int { return s.frame }
