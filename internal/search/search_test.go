package search

import (
	"strings"
	"testing"

	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/fsg"
	"github.com/soundswallower/soundswallower-go/internal/lextree"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/model"
	"github.com/soundswallower/soundswallower-go/internal/scorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixture wires a minimal two-word "a -> b" grammar over a
// single-state-per-phone acoustic model, with one shared codebook whose
// two densities are centered far apart so the scorer unambiguously
// prefers "A" on a near-zero feature and "B" on a near-ten feature.
func buildFixture(t *testing.T) (*Search, [][]float32) {
	t.Helper()
	lm := logmath.MustNew(logmath.DefaultBase)

	mdefSrc := `0.3
2 1
# ci left right wordpos s0
A - - - 0
B - - - 1
`
	mdef, err := model.ParseMdef(strings.NewReader(mdefSrc))
	require.NoError(t, err)

	d := dict.New()
	_, err = d.AddWord("a", []string{"A"}, false)
	require.NoError(t, err)
	_, err = d.AddWord("b", []string{"B"}, false)
	require.NoError(t, err)

	d2p, err := model.Build(mdef, d)
	require.NoError(t, err)

	tmat := model.NewTmat(1, 1)
	tmat.Set(0, 0, 0, 0)
	tmat.Set(0, 0, 1, 0)

	cb := model.NewCodebook(2, 1, []float32{0, 10}, []float32{1, 1})
	weights := [][]int32{
		{0, logmath.WorstScore / 2},
		{logmath.WorstScore / 2, 0},
	}
	mgau := model.NewMgau(lm, []*model.Codebook{cb}, []int{0, 0}, weights, 2)
	scr := scorer.New(mgau, scorer.Config{})

	gramSrc := `FSG_BEGIN demo
N 3
S 0
F 2
T 0 1 a
T 1 2 b
FSG_END
`
	g, err := fsg.ParseText(strings.NewReader(gramSrc))
	require.NoError(t, err)

	tree, err := lextree.Build(g, d, mdef, tmat, d2p)
	require.NoError(t, err)

	s := New(tree, scr, mdef, tmat, lm, d, Config{})
	frames := [][]float32{{0}, {10}}
	return s, frames
}

func TestSearchRecognizesTwoWordSequence(t *testing.T) {
	s, frames := buildFixture(t)
	require.NoError(t, s.StartUtt())
	for _, f := range frames {
		require.NoError(t, s.ProcessFrame(f))
	}
	require.NoError(t, s.EndUtt())

	bt, err := s.Backtrace()
	require.NoError(t, err)
	require.Len(t, bt, 2)
	aEntry, _ := s.dict.Entry(bt[0].Wid)
	bEntry, _ := s.dict.Entry(bt[1].Wid)
	assert.Equal(t, "a", aEntry.Word)
	assert.Equal(t, "b", bEntry.Word)
	assert.LessOrEqual(t, bt[0].StartFrame, bt[0].EndFrame)
	assert.Equal(t, 1, bt[1].EndFrame)
}

func TestProcessFrameBeforeStartUttIsBadState(t *testing.T) {
	s, frames := buildFixture(t)
	err := s.ProcessFrame(frames[0])
	require.Error(t, err)
}

func TestBacktraceBeforeEndUttIsBadState(t *testing.T) {
	s, frames := buildFixture(t)
	require.NoError(t, s.StartUtt())
	require.NoError(t, s.ProcessFrame(frames[0]))
	_, err := s.Backtrace()
	require.Error(t, err)
}

// buildTiedWordExitFixture wires three single-phone words ("a","b","c")
// in parallel from the grammar's start state to its final state, all
// sharing one senone so a single frame scores them identically and all
// three word exits tie within wbeam — exercising Config.MaxWPF's
// truncation (spec.md:164) rather than the beam-relative pruning that
// would otherwise make ties impossible to arrange deterministically.
func buildTiedWordExitFixture(t *testing.T, cfg Config) (*Search, []float32) {
	t.Helper()
	lm := logmath.MustNew(logmath.DefaultBase)

	mdefSrc := `0.3
3 1
# ci left right wordpos s0
A - - - 0
B - - - 0
C - - - 0
`
	mdef, err := model.ParseMdef(strings.NewReader(mdefSrc))
	require.NoError(t, err)

	d := dict.New()
	_, err = d.AddWord("a", []string{"A"}, false)
	require.NoError(t, err)
	_, err = d.AddWord("b", []string{"B"}, false)
	require.NoError(t, err)
	_, err = d.AddWord("c", []string{"C"}, false)
	require.NoError(t, err)

	d2p, err := model.Build(mdef, d)
	require.NoError(t, err)

	tmat := model.NewTmat(1, 1)
	tmat.Set(0, 0, 0, 0)
	tmat.Set(0, 0, 1, 0)

	cb := model.NewCodebook(1, 1, []float32{0}, []float32{1})
	weights := [][]int32{{0}}
	mgau := model.NewMgau(lm, []*model.Codebook{cb}, []int{0}, weights, 1)
	scr := scorer.New(mgau, scorer.Config{})

	gramSrc := `FSG_BEGIN demo
N 2
S 0
F 1
T 0 1 a
T 0 1 b
T 0 1 c
FSG_END
`
	g, err := fsg.ParseText(strings.NewReader(gramSrc))
	require.NoError(t, err)

	tree, err := lextree.Build(g, d, mdef, tmat, d2p)
	require.NoError(t, err)

	s := New(tree, scr, mdef, tmat, lm, d, cfg)
	return s, []float32{0}
}

func TestDefaultConfigRecordsAllTiedWordExits(t *testing.T) {
	s, frame := buildTiedWordExitFixture(t, Config{})
	require.NoError(t, s.StartUtt())
	require.NoError(t, s.ProcessFrame(frame))
	require.Len(t, s.hist, 3)
}

func TestMaxWPFZeroCapLeavesExitsUncapped(t *testing.T) {
	s, frame := buildTiedWordExitFixture(t, Config{MaxWPF: 0})
	require.NoError(t, s.StartUtt())
	require.NoError(t, s.ProcessFrame(frame))
	require.Len(t, s.hist, 3)
}

func TestMaxWPFPositiveCapTruncatesWordExits(t *testing.T) {
	s, frame := buildTiedWordExitFixture(t, Config{MaxWPF: 1})
	require.NoError(t, s.StartUtt())
	require.NoError(t, s.ProcessFrame(frame))
	require.Len(t, s.hist, 1)
}

func TestEmptyUtteranceProducesNoPathWithoutError(t *testing.T) {
	s, _ := buildFixture(t)
	require.NoError(t, s.StartUtt())
	require.NoError(t, s.EndUtt())
	bt, err := s.Backtrace()
	require.NoError(t, err)
	require.Empty(t, bt)
}

func TestBuildLatticeBeforeEndUttIsBadState(t *testing.T) {
	s, frames := buildFixture(t)
	require.NoError(t, s.StartUtt())
	require.NoError(t, s.ProcessFrame(frames[0]))
	_, err := s.BuildLattice()
	require.Error(t, err)
}

func TestLatticeBestPathMatchesBacktrace(t *testing.T) {
	s, frames := buildFixture(t)
	require.NoError(t, s.StartUtt())
	for _, f := range frames {
		require.NoError(t, s.ProcessFrame(f))
	}
	require.NoError(t, s.EndUtt())

	bt, err := s.Backtrace()
	require.NoError(t, err)
	require.Len(t, bt, 2)

	lat, err := s.BuildLattice()
	require.NoError(t, err)
	require.NotEmpty(t, lat.Finals)

	path, score := lat.BestPath(1.0)
	require.Len(t, path, 2)
	assert.Equal(t, bt[0].Wid, path[0].Wid)
	assert.Equal(t, bt[1].Wid, path[1].Wid)
	assert.Equal(t, s.BestScore(), score)
}

func TestLatticePosteriorIsZeroOnTheSolePath(t *testing.T) {
	s, frames := buildFixture(t)
	require.NoError(t, s.StartUtt())
	for _, f := range frames {
		require.NoError(t, s.ProcessFrame(f))
	}
	require.NoError(t, s.EndUtt())

	lat, err := s.BuildLattice()
	require.NoError(t, err)
	post := lat.Posterior(s.lm, 1.0)
	// With only one path through the lattice, every node on it carries the
	// full posterior mass: log P(node | observations) == 0.
	for _, f := range lat.Finals {
		assert.InDelta(t, int32(0), post[f], 1)
	}
}
