// Package align implements the three-level (word / phone / state)
// alignment: either derived from a completed decode's backtrace, or
// produced by forcing a linear grammar built from known text and decoding
// against it (spec §4.5).
package align

import (
	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/fsg"
	"github.com/soundswallower/soundswallower-go/internal/lextree"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/model"
	"github.com/soundswallower/soundswallower-go/internal/scorer"
	"github.com/soundswallower/soundswallower-go/internal/search"
)

// WordSeg, PhoneSeg, and StateSeg are one segment at each level of the
// alignment tree. Parent/child links are vector indices into the
// Alignment's own slices, never owning pointers, per spec §3's ownership
// rule ("a back-reference from an iterator to its container is a
// non-owning lookup").
type WordSeg struct {
	Wid                dict.WordID
	Start, Duration    int
	Score              int32
	FirstChild, NChild int // indices into Alignment.Phones
}

type PhoneSeg struct {
	Phone              model.Phone
	Start, Duration    int
	Score              int32
	Parent             int // index into Alignment.Words
	FirstChild, NChild int // indices into Alignment.States
}

type StateSeg struct {
	State           int
	Start, Duration int
	Score           int32
	Parent          int // index into Alignment.Phones
}

// Alignment is the full three-level segmentation of one utterance.
type Alignment struct {
	Words  []WordSeg
	Phones []PhoneSeg
	States []StateSeg
}

// splitEven divides a [start, start+total) frame span into n
// contiguous, disjoint, non-overlapping sub-spans that together cover it
// exactly; boundary i is start+total*i/n rounded down, so span lengths
// differ by at most one frame and the remainder frames are spread by that
// rounding rather than given to the earliest spans. This realizes spec §4.5's "siblings contiguous; children
// exactly cover parent; first child starts at parent.start" invariants
// exactly; what it does not reproduce is the true per-frame Viterbi
// state backtrace inside each phone's HMM (this port's Search does not
// retain one, since its active-node map is overwritten frame to frame —
// see DESIGN.md's alignment simplification entry), so internal
// boundaries are evenly apportioned rather than re-derived from the
// original per-frame scores.
func splitEven(start, total, n int) []int {
	if n <= 0 {
		return nil
	}
	bounds := make([]int, n+1)
	bounds[0] = start
	for i := 1; i <= n; i++ {
		bounds[i] = start + (total*i)/n
	}
	return bounds
}

// FromBacktrace builds a full word/phone/state Alignment from a
// completed search's backtrace, using d to recover each word's phone
// sequence and nState as the emitting-state count per phone HMM (shared
// across the model, per Mdef.NState).
func FromBacktrace(bt []search.BacktraceWord, d *dict.Dictionary, nState int) (*Alignment, error) {
	a := &Alignment{}
	for _, w := range bt {
		entry, ok := d.Entry(w.Wid)
		if !ok || len(entry.Phones) == 0 {
			continue
		}
		wordDur := w.EndFrame - w.StartFrame + 1
		phoneBounds := splitEven(w.StartFrame, wordDur, len(entry.Phones))

		firstPhone := len(a.Phones)
		wordIdx := len(a.Words)
		for pi, ph := range entry.Phones {
			pStart, pEnd := phoneBounds[pi], phoneBounds[pi+1]
			pDur := pEnd - pStart
			if pDur <= 0 {
				pDur = 1
			}
			stateBounds := splitEven(pStart, pDur, nState)
			firstState := len(a.States)
			for si := 0; si < nState; si++ {
				sStart, sEnd := stateBounds[si], stateBounds[si+1]
				sDur := sEnd - sStart
				if sDur <= 0 {
					sDur = 1
				}
				a.States = append(a.States, StateSeg{
					State: si, Start: sStart, Duration: sDur,
					Score: w.Score, Parent: len(a.Phones),
				})
			}
			a.Phones = append(a.Phones, PhoneSeg{
				Phone: model.Phone(ph), Start: pStart, Duration: pDur,
				Score: w.Score, Parent: wordIdx,
				FirstChild: firstState, NChild: nState,
			})
		}
		a.Words = append(a.Words, WordSeg{
			Wid: w.Wid, Start: w.StartFrame, Duration: wordDur, Score: w.Score,
			FirstChild: firstPhone, NChild: len(entry.Phones),
		})
	}
	return a, nil
}

// ForceConfig bundles what ForceAlign needs to build and run a decode
// beyond the text itself: the shared model data every Search requires.
type ForceConfig struct {
	Dict          *dict.Dictionary
	Mdef          *model.Mdef
	Tmat          *model.Tmat
	Mgau          *model.Mgau
	LogMath       *logmath.LogMath
	FillerSilence bool
	MaxBeamWiden  float64 // retry beam-widening factor, e.g. 1e4
}

// ForceAlign builds a linear FSG from text's words, decodes feats under
// it, and aligns the result. If the decode does not reach the grammar's
// final state, the beams are widened once by MaxBeamWiden and the decode
// is retried, per spec §4.5's single-retry rule; a second failure is
// ErrAlignmentFailed. Whether the final state was reached is judged by
// reachesFinal.
func ForceAlign(text []string, feats [][]float32, cfg ForceConfig) (*Alignment, error) {
	grammar, err := fsg.CompileLinear(text, cfg.Dict, cfg.FillerSilence)
	if err != nil {
		return nil, err
	}
	d2p, err := model.Build(cfg.Mdef, cfg.Dict)
	if err != nil {
		return nil, err
	}
	tree, err := lextree.Build(grammar, cfg.Dict, cfg.Mdef, cfg.Tmat, d2p)
	if err != nil {
		return nil, err
	}

	widen := 1.0
	for attempt := 0; attempt < 2; attempt++ {
		bt, reachedFinal, err := runForcedDecode(tree, cfg, feats, widen)
		if err != nil {
			return nil, err
		}
		if reachedFinal {
			return FromBacktrace(bt, cfg.Dict, cfg.Mdef.NState)
		}
		w := cfg.MaxBeamWiden
		if w <= 1 {
			w = 1e4
		}
		widen = w
	}
	return nil, errs.New(errs.AlignmentFailed, "align: could not reach final state within widened beam")
}

func runForcedDecode(tree *lextree.Tree, cfg ForceConfig, feats [][]float32, widen float64) ([]search.BacktraceWord, bool, error) {
	scr := scorer.New(cfg.Mgau, scorer.Config{})
	sCfg := search.Config{
		Beam:  1e-48 / widen,
		PBeam: 1e-48 / widen,
		WBeam: 7e-29 / widen,
	}
	s := search.New(tree, scr, cfg.Mdef, cfg.Tmat, cfg.LogMath, cfg.Dict, sCfg)
	if err := s.StartUtt(); err != nil {
		return nil, false, err
	}
	for _, f := range feats {
		if err := s.ProcessFrame(f); err != nil {
			return nil, false, err
		}
	}
	if err := s.EndUtt(); err != nil {
		return nil, false, err
	}
	bt, err := s.Backtrace()
	if err != nil {
		return nil, false, err
	}
	reached := len(bt) > 0 && reachesFinal(tree, bt, cfg.Dict)
	return bt, reached, nil
}

// reachesFinal reports whether bt is non-empty and its last word is not a
// filler. It looks at neither the grammar state the best path ended in
// (BacktraceWord does not carry one) nor the frame its last word ends on,
// so a best path that stopped short of the final state, which Backtrace
// returns when no path reached it, is still counted as reaching it.
func reachesFinal(tree *lextree.Tree, bt []search.BacktraceWord, d *dict.Dictionary) bool {
	if len(bt) == 0 {
		return false
	}
	last := bt[len(bt)-1]
	return !d.IsFiller(last.Wid)
}

// WordIter, PhoneIter, and StateIter are simple index-based cursors over
// an Alignment's levels, matching spec's "linear traversal plus children
// of current" iterator shape.
type WordIter struct {
	a   *Alignment
	pos int
}

func NewWordIter(a *Alignment) *WordIter { return &WordIter{a: a, pos: -1} }

func (it *WordIter) Next() bool {
	it.pos++
	return it.pos < len(it.a.Words)
}

func (it *WordIter) Value() WordSeg { return it.a.Words[it.pos] }

// Children returns a PhoneIter restricted to the current word's phones.
func (it *WordIter) Children() *PhoneIter {
	w := it.a.Words[it.pos]
	return &PhoneIter{a: it.a, start: w.FirstChild, end: w.FirstChild + w.NChild, pos: w.FirstChild - 1}
}

type PhoneIter struct {
	a          *Alignment
	start, end int
	pos        int
}

func NewPhoneIter(a *Alignment) *PhoneIter {
	return &PhoneIter{a: a, start: 0, end: len(a.Phones), pos: -1}
}

func (it *PhoneIter) Next() bool {
	if it.pos < it.start-1 {
		it.pos = it.start - 1
	}
	it.pos++
	return it.pos < it.end
}

func (it *PhoneIter) Value() PhoneSeg { return it.a.Phones[it.pos] }

func (it *PhoneIter) Children() *StateIter {
	p := it.a.Phones[it.pos]
	return &StateIter{a: it.a, start: p.FirstChild, end: p.FirstChild + p.NChild, pos: p.FirstChild - 1}
}

type StateIter struct {
	a          *Alignment
	start, end int
	pos        int
}

func NewStateIter(a *Alignment) *StateIter {
	return &StateIter{a: a, start: 0, end: len(a.States), pos: -1}
}

func (it *StateIter) Next() bool {
	if it.pos < it.start-1 {
		it.pos = it.start - 1
	}
	it.pos++
	return it.pos < it.end
}

func (it *StateIter) Value() StateSeg { return it.a.States[it.pos] }
