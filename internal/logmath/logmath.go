// Package logmath implements the integer log-probability arithmetic shared
// by the acoustic scorer and the search: every score in this engine is an
// int32 on a fixed log base, added with a precomputed table instead of
// floating-point log/exp calls per frame.
package logmath

import (
	"math"

	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// WorstScore is the sentinel used for senones/paths that are not being
// scored this frame. It leaves enough headroom that adding two WorstScore
// values together (as happens transiently during pruning) cannot overflow
// int32.
const WorstScore int32 = math.MinInt32 / 2

// DefaultBase is the log base PocketSphinx-derived engines use: small
// enough that a whole utterance's worth of accumulated log-likelihood
// stays inside int32, large enough to preserve useful precision.
const DefaultBase = 1.0001

// LogMath converts between linear probabilities and a fixed-point integer
// log domain at base b, and implements saturating log-add via a
// precomputed table.
//
//	logadd(x, y) = x + table[y-x]   for y <= x
//
// LogMath is immutable after New and safe to share across decoders.
type LogMath struct {
	base      float64
	logBaseOf float64 // ln(base), cached
	addTable  []int32 // table[d] = round(log_b(1 + b^-d)) for d = 0..tableSize-1
}

// New builds a LogMath at the given base. base must be > 1.
func New(base float64) (*LogMath, error) {
	if base <= 1.0 {
		return nil, errs.New(errs.InvalidConfig, "logmath base must be > 1")
	}
	lm := &LogMath{base: base, logBaseOf: math.Log(base)}
	lm.buildAddTable()
	return lm, nil
}

// MustNew is New but panics on error; used for the package-default table
// and in tests where base is a compile-time constant known to be valid.
func MustNew(base float64) *LogMath {
	lm, err := New(base)
	if err != nil {
		panic(err)
	}
	return lm
}

// buildAddTable precomputes table[d] for d = 0 until the contribution of
// log_b(1+b^-d) rounds to zero, matching the original engine's
// logs3_init: the table only needs to cover differences that still move
// the result by at least half a unit in the target base.
func (lm *LogMath) buildAddTable() {
	const maxEntries = 1 << 20
	table := make([]int32, 0, 4096)
	for d := 0; d < maxEntries; d++ {
		v := math.Log1p(math.Pow(lm.base, -float64(d))) / lm.logBaseOf
		rv := int32(math.Round(v))
		table = append(table, rv)
		if rv == 0 && d > 0 {
			break
		}
	}
	lm.addTable = table
}

// Add returns the log-domain sum of two log-probabilities: the unique z
// such that b^z = b^x + b^y.
func (lm *LogMath) Add(x, y int32) int32 {
	if x == WorstScore {
		return y
	}
	if y == WorstScore {
		return x
	}
	if y > x {
		x, y = y, x
	}
	d := x - y
	if d >= int32(len(lm.addTable)) {
		return x
	}
	return x + lm.addTable[d]
}

// Log converts a linear probability in (0, 1] to the integer log domain.
// prob <= 0 returns WorstScore.
func (lm *LogMath) Log(prob float64) int32 {
	if prob <= 0 {
		return WorstScore
	}
	return int32(math.Round(math.Log(prob) / lm.logBaseOf))
}

// Exp converts an integer log-domain score back to a linear probability.
func (lm *LogMath) Exp(logval int32) float64 {
	if logval <= WorstScore {
		return 0
	}
	return math.Pow(lm.base, float64(logval))
}

// Base reports the log base this table was built at.
func (lm *LogMath) Base() float64 { return lm.base }
