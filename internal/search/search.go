// Package search implements FsgSearch: the time-synchronous Viterbi
// token-passing search over a compiled lex-tree, with three-tier beam
// pruning, a word-history arena, backtrace, and (optionally) lattice
// construction.
package search

import (
	"math"
	"sort"

	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/lextree"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/model"
	"github.com/soundswallower/soundswallower-go/internal/scorer"
)

// DecoderState is the per-search state machine: Idle -> Started ->
// Processing -> Finished -> Idle, matching spec's process_raw/end_utt
// ordering rules.
type DecoderState int

const (
	Idle DecoderState = iota
	Started
	Processing
	Finished
)

// Config holds the tunable search parameters. Beam/PBeam/WBeam are given
// as linear probability thresholds (spec defaults 1e-48, 1e-48, 7e-29)
// and converted to log-domain widths at New(); LW/WIP/PIP are applied at
// word-exit score combination.
type Config struct {
	Beam, PBeam, WBeam float64
	LW                 float64
	WIP                int32
	PIP                int32
	Bestpath           bool
	MaxHMMPF, MaxWPF   int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Beam == 0 {
		out.Beam = 1e-48
	}
	if out.PBeam == 0 {
		out.PBeam = 1e-48
	}
	if out.WBeam == 0 {
		out.WBeam = 7e-29
	}
	if out.LW == 0 {
		out.LW = 6.5
	}
	return out
}

// HistEntry is one word-exit record in the per-utterance history arena,
// referenced by index (never by pointer) so the arena stays an
// append-only slice, per the "arenas + indices" design note.
type HistEntry struct {
	Frame    int
	Wid      dict.WordID
	Score    int32
	PrevHist int32 // index into the arena, -1 for the utterance-start sentinel
	ArcID    int
	GState   int // grammar state reached by this word's arc

	// Ascr and Lscr split Score back into its acoustic and language
	// components (Score = Ascr + Lscr), kept so BuildLattice can apply a
	// separate ascale to the acoustic part of each link per spec §4.4's
	// "ascale scales the acoustic score against the language score."
	Ascr, Lscr int32
}

// nodeAct is one pnode's live Viterbi state: its per-emitting-state
// scores as of the most recently processed frame, and the word-history
// context it carries forward.
type nodeAct struct {
	Scores   []int32
	PrevHist int32
}

// Search owns one utterance's live search state over a fixed Tree.
type Search struct {
	tree   *lextree.Tree
	scr    *scorer.Scorer
	mdef   *model.Mdef
	tmat   *model.Tmat
	lm     *logmath.LogMath
	dict   *dict.Dictionary
	cfg    Config

	beamWidth, pbeamWidth, wbeamWidth int32

	state DecoderState
	frame int

	active   map[int]*nodeAct // pnode idx -> activation, valid as of the last processed frame
	incoming map[int]nodeAct  // pnode idx -> activation becoming live next frame

	hist []HistEntry
}

// New builds a Search over tree, using scr for per-frame scoring.
func New(tree *lextree.Tree, scr *scorer.Scorer, mdef *model.Mdef, tmat *model.Tmat, lm *logmath.LogMath, d *dict.Dictionary, cfg Config) *Search {
	c := cfg.withDefaults()
	width := func(linear float64) int32 {
		lg := lm.Log(linear)
		if lg <= logmath.WorstScore {
			return math.MaxInt32 / 2
		}
		w := -lg
		if w < 0 {
			w = 0
		}
		return w
	}
	return &Search{
		tree:       tree,
		scr:        scr,
		mdef:       mdef,
		tmat:       tmat,
		lm:         lm,
		dict:       d,
		cfg:        c,
		beamWidth:  width(c.Beam),
		pbeamWidth: width(c.PBeam),
		wbeamWidth: width(c.WBeam),
		state:      Idle,
	}
}

// StartUtt resets per-utterance state and seeds activation at the
// grammar's start state.
func (s *Search) StartUtt() error {
	if s.state == Processing {
		return errs.New(errs.BadState, "search: start_utt while Processing")
	}
	s.scr.StartUtt()
	s.frame = 0
	s.hist = s.hist[:0]
	s.active = map[int]*nodeAct{}
	s.incoming = map[int]nodeAct{}
	s.activateEntries(s.tree.Grammar.Start, 0, -1)
	s.state = Started
	return nil
}

// activateEntries merges the chain-start pnodes leaving gstate into
// s.incoming with the given incoming score/history context, keeping the
// best score on collision.
func (s *Search) activateEntries(gstate int, score int32, prevHist int32) {
	for _, nodeIdx := range s.tree.EntryNodes[gstate] {
		if cur, ok := s.incoming[nodeIdx]; !ok || score > cur.Scores[0] {
			scores := make([]int32, 1)
			scores[0] = score
			s.incoming[nodeIdx] = nodeAct{Scores: scores, PrevHist: prevHist}
		}
	}
}

// ProcessFrame runs one frame of the seven-step per-frame algorithm
// against feat, a feature vector already produced by FeatureTransform.
func (s *Search) ProcessFrame(feat []float32) error {
	if s.state != Started && s.state != Processing {
		return errs.New(errs.BadState, "search: process_frame outside Started/Processing")
	}
	s.state = Processing

	// Merge nodes newly entering this frame into the active set, seeding
	// their virtual "previous state" vector with the incoming score in
	// emitting state 0 and WorstScore elsewhere — equivalent to an
	// external transition of probability 1 into state 0.
	for idx, in := range s.incoming {
		n := len(s.tree.Nodes[idx].Senones)
		prev := make([]int32, n)
		for i := range prev {
			prev[i] = logmath.WorstScore
		}
		prev[0] = in.Scores[0]
		if cur, ok := s.active[idx]; ok {
			// Already active (re-entered mid-word via a grammar loop);
			// keep whichever entry path scores higher at state 0.
			if prev[0] > cur.Scores[0] {
				cur.Scores[0] = prev[0]
				cur.PrevHist = in.PrevHist
			}
		} else {
			s.active[idx] = &nodeAct{Scores: prev, PrevHist: in.PrevHist}
		}
	}
	s.incoming = map[int]nodeAct{}

	if len(s.active) == 0 {
		s.frame++
		return nil
	}

	// Step 1: senone activation union.
	nSenones := s.mdef.NSenones
	active := make([]bool, nSenones)
	for idx := range s.active {
		for _, sid := range s.tree.Nodes[idx].Senones {
			if int(sid) < nSenones {
				active[sid] = true
			}
		}
	}

	// Step 2: scoring.
	scores := s.scr.Score(feat, active)

	// Step 3: HMM update, computed into a fresh map so we read only
	// pre-update ("prev") state scores while writing post-update ones.
	type updated struct {
		scores []int32
		exit   int32
	}
	upd := make(map[int]updated, len(s.active))
	best := logmath.WorstScore
	for idx, na := range s.active {
		pn := &s.tree.Nodes[idx]
		nState := len(pn.Senones)
		newScores := make([]int32, nState)
		for j := 0; j < nState; j++ {
			acc := logmath.WorstScore
			for i := 0; i < nState; i++ {
				if na.Scores[i] <= logmath.WorstScore {
					continue
				}
				tp := s.tmat.Get(pn.TmatID, i, j)
				if tp <= logmath.WorstScore {
					continue
				}
				cand := na.Scores[i] + tp
				if cand > acc {
					acc = cand
				}
			}
			if acc > logmath.WorstScore {
				acc += scores[pn.Senones[j]]
			}
			newScores[j] = acc
			if acc > best {
				best = acc
			}
		}
		exit := logmath.WorstScore
		for i := 0; i < nState; i++ {
			if newScores[i] <= logmath.WorstScore {
				continue
			}
			tp := s.tmat.Get(pn.TmatID, i, nState)
			if tp <= logmath.WorstScore {
				continue
			}
			if cand := newScores[i] + tp; cand > exit {
				exit = cand
			}
		}
		upd[idx] = updated{scores: newScores, exit: exit}
		if exit > best {
			best = exit
		}
	}

	// Step 4: pruning.
	nextActive := map[int]*nodeAct{}
	var hmmCands []hmmCand
	var wordCands []wordExitCand
	for idx, u := range upd {
		ns := u.scores
		for j := range ns {
			if ns[j] < best-s.beamWidth {
				ns[j] = logmath.WorstScore
			}
		}
		anyLive := false
		nodeBest := logmath.WorstScore
		for _, v := range ns {
			if v > logmath.WorstScore {
				anyLive = true
			}
			if v > nodeBest {
				nodeBest = v
			}
		}
		exit := u.exit
		if exit < best-s.pbeamWidth {
			exit = logmath.WorstScore
		}
		if anyLive {
			nextActive[idx] = &nodeAct{Scores: ns, PrevHist: s.active[idx].PrevHist}
			hmmCands = append(hmmCands, hmmCand{idx: idx, score: nodeBest})
		}

		if exit <= logmath.WorstScore {
			continue
		}

		pn := &s.tree.Nodes[idx]
		// Step 5: internal word-continuation — propagate to successors
		// within the same word without any history event.
		for _, succ := range pn.Successors {
			if cand := exit; cand >= best-s.wbeamWidth {
				s.mergeIncoming(succ, cand, s.active[idx].PrevHist)
			}
		}

		// Word exit: fires only within wbeam of best.
		if pn.WordFinalArc >= 0 && exit >= best-s.wbeamWidth {
			wordCands = append(wordCands, wordExitCand{idx: idx, pn: pn, score: exit})
		}
	}

	// Absolute pruning caps (Config.MaxHMMPF/MaxWPF): truncate to the N
	// best-scoring candidates when a positive cap is configured; zero
	// means uncapped, the scale-relative beams above are the only limit.
	if s.cfg.MaxHMMPF > 0 && len(hmmCands) > s.cfg.MaxHMMPF {
		sort.Slice(hmmCands, func(i, j int) bool { return hmmCands[i].score > hmmCands[j].score })
		for _, c := range hmmCands[s.cfg.MaxHMMPF:] {
			delete(nextActive, c.idx)
		}
	}
	if s.cfg.MaxWPF > 0 && len(wordCands) > s.cfg.MaxWPF {
		sort.Slice(wordCands, func(i, j int) bool { return wordCands[i].score > wordCands[j].score })
		wordCands = wordCands[:s.cfg.MaxWPF]
	}
	for _, c := range wordCands {
		s.recordWordExit(c.idx, c.pn, c.score)
	}

	s.active = nextActive
	s.frame++
	return nil
}

// hmmCand ranks one frame's surviving active HMM by its best internal
// state score, for MaxHMMPF truncation.
type hmmCand struct {
	idx   int
	score int32
}

// wordExitCand ranks one frame's candidate word exit by its exit score,
// for MaxWPF truncation.
type wordExitCand struct {
	idx   int
	pn    *lextree.PNode
	score int32
}

func (s *Search) mergeIncoming(nodeIdx int, score int32, prevHist int32) {
	if cur, ok := s.incoming[nodeIdx]; !ok || score > cur.Scores[0] {
		s.incoming[nodeIdx] = nodeAct{Scores: []int32{score}, PrevHist: prevHist}
	}
}

// recordWordExit appends a HistEntry for node's completed word and
// activates the grammar successors of the arc it completes, applying the
// word-insertion penalty, language weight, and phone-count penalty.
func (s *Search) recordWordExit(nodeIdx int, pn *lextree.PNode, exitScore int32) {
	arc := s.tree.Grammar.Arcs[pn.WordFinalArc]
	entry, _ := s.dict.Entry(pn.Word)
	nPhones := int32(len(entry.Phones))

	lwTerm := int32(math.Round(float64(arc.LogProb) * s.cfg.LW))
	lscr := s.cfg.WIP + lwTerm + s.cfg.PIP*nPhones
	combined := exitScore + lscr

	histID := int32(len(s.hist))
	s.hist = append(s.hist, HistEntry{
		Frame:    s.frame,
		Wid:      pn.Word,
		Score:    combined,
		PrevHist: s.active[nodeIdx].PrevHist,
		ArcID:    pn.WordFinalArc,
		GState:   arc.To,
		Ascr:     exitScore,
		Lscr:     lscr,
	})
	s.activateEntries(arc.To, combined, histID)
}

// EndUtt finalizes the utterance, moving the state machine to Finished.
// No backtrace computation is deferred here; Backtrace/Hyp read s.hist
// directly and are only valid once Finished.
func (s *Search) EndUtt() error {
	if s.state != Processing && s.state != Started {
		return errs.New(errs.BadState, "search: end_utt outside Started/Processing")
	}
	s.state = Finished
	return nil
}

// State reports the current decoder state.
func (s *Search) State() DecoderState { return s.state }

// Frame reports how many frames have been processed so far this
// utterance.
func (s *Search) Frame() int { return s.frame }

// BacktraceWord is one word of a completed backtrace: its dictionary id
// and the inclusive frame range it covers.
type BacktraceWord struct {
	Wid        dict.WordID
	StartFrame int
	EndFrame   int
	Score      int32
}

// Backtrace walks the best history chain back to the sentinel and
// reverses it into a word sequence with frame ranges, per spec §4.4. It
// returns an empty, non-error result if no path survived — "the search
// returns empty hypothesis... this is a success with empty output."
func (s *Search) Backtrace() ([]BacktraceWord, error) {
	if s.state != Finished {
		return nil, errs.New(errs.BadState, "search: backtrace before end_utt")
	}
	bestID := int32(-1)
	var bestScore int32 = logmath.WorstScore
	for i, h := range s.hist {
		if s.tree.Grammar.Final[h.GState] && h.Score > bestScore {
			bestScore = h.Score
			bestID = int32(i)
		}
	}
	if bestID < 0 {
		// No path reached a final grammar state; fall back to the
		// overall best entry, matching "or any entry if the grammar
		// permits."
		for i, h := range s.hist {
			if h.Score > bestScore {
				bestScore = h.Score
				bestID = int32(i)
			}
		}
	}
	if bestID < 0 {
		return nil, nil
	}

	var rev []BacktraceWord
	cur := bestID
	endFrame := s.hist[cur].Frame
	for cur >= 0 {
		h := s.hist[cur]
		startFrame := 0
		if h.PrevHist >= 0 {
			startFrame = s.hist[h.PrevHist].Frame + 1
		}
		if !s.dict.IsFiller(h.Wid) {
			rev = append(rev, BacktraceWord{Wid: h.Wid, StartFrame: startFrame, EndFrame: endFrame, Score: h.Score})
		}
		endFrame = startFrame - 1
		cur = h.PrevHist
	}
	out := make([]BacktraceWord, len(rev))
	for i, w := range rev {
		out[len(rev)-1-i] = w
	}
	return out, nil
}

// BestScore returns the score of the best completed hypothesis, or
// logmath.WorstScore if none survived. Like Backtrace, it prefers entries
// that reached a final grammar state and falls back to the overall best
// entry when none did.
func (s *Search) BestScore() int32 {
	var best, bestFinal int32 = logmath.WorstScore, logmath.WorstScore
	for _, h := range s.hist {
		if h.Score > best {
			best = h.Score
		}
		if s.tree.Grammar.Final[h.GState] && h.Score > bestFinal {
			bestFinal = h.Score
		}
	}
	if bestFinal > logmath.WorstScore {
		return bestFinal
	}
	return best
}

// LatticeNode is one distinct (wid, sf, ef) node of the pruned word
// lattice, per spec §3's Lattice data model row. Filler words (<sil> and
// friends) never become nodes; a link that would pass through one is
// merged transitively into the link reaching the next real word, exactly
// as Backtrace already walks through filler HistEntry chains without
// emitting them.
type LatticeNode struct {
	Wid                  dict.WordID
	StartFrame, EndFrame int
}

// LatticeLink is one edge of the lattice DAG, carrying the acoustic and
// language score components separately so BuildLattice's caller can
// rescale ascr against lscr (spec's "ascale scales the acoustic score
// against the language score in the log-add").
type LatticeLink struct {
	From, To   int
	Ascr, Lscr int32
}

// Lattice is the full pruned word graph built from one utterance's
// history arena: nodes are (wid, sf, ef) triples, links carry ascr/lscr,
// and the graph is acyclic by construction since every link points from
// an earlier frame to a later or equal one (spec §8 property 4).
type Lattice struct {
	Nodes  []LatticeNode
	Links  []LatticeLink
	Root   int   // the always-present start node, no predecessor
	Finals []int // node indices whose HistEntry reached a final grammar state
}

// BuildLattice converts the completed utterance's history arena into a
// Lattice DAG, gated by the Bestpath config flag per spec §4.4. Only
// legal once Finished.
func (s *Search) BuildLattice() (*Lattice, error) {
	if s.state != Finished {
		return nil, errs.New(errs.BadState, "search: build_lattice before end_utt")
	}
	lat := &Lattice{}
	lat.Root = len(lat.Nodes)
	lat.Nodes = append(lat.Nodes, LatticeNode{Wid: s.dict.StartWordID(), StartFrame: -1, EndFrame: -1})

	type key struct {
		wid    dict.WordID
		sf, ef int
	}
	nodeOf := map[key]int{}
	getNode := func(wid dict.WordID, sf, ef int) int {
		k := key{wid, sf, ef}
		if idx, ok := nodeOf[k]; ok {
			return idx
		}
		idx := len(lat.Nodes)
		lat.Nodes = append(lat.Nodes, LatticeNode{Wid: wid, StartFrame: sf, EndFrame: ef})
		nodeOf[k] = idx
		return idx
	}

	histNode := make([]int, len(s.hist)) // -1 for filler entries (pass-through only)
	histSF := make([]int, len(s.hist))
	for i, h := range s.hist {
		sf := 0
		if h.PrevHist >= 0 {
			sf = s.hist[h.PrevHist].Frame + 1
		}
		histSF[i] = sf
		if s.dict.IsFiller(h.Wid) {
			histNode[i] = -1
			continue
		}
		histNode[i] = getNode(h.Wid, sf, h.Frame)
	}

	// incAscr is entry i's own acoustic score: HistEntry.Ascr runs from the
	// utterance start, so the predecessor's path score is taken off.
	incAscr := func(i int32) int32 {
		h := s.hist[i]
		if h.PrevHist >= 0 {
			return h.Ascr - s.hist[h.PrevHist].Score
		}
		return h.Ascr
	}

	// resolveAncestor walks prevHist through any filler entries to find
	// the nearest lattice node (or the root), accumulating the skipped
	// fillers' ascr/lscr into the eventual link.
	resolveAncestor := func(prevHist int32) (node int, ascr, lscr int32) {
		for prevHist >= 0 {
			if histNode[prevHist] >= 0 {
				return histNode[prevHist], ascr, lscr
			}
			h := s.hist[prevHist]
			ascr += incAscr(prevHist)
			lscr += h.Lscr
			prevHist = h.PrevHist
		}
		return lat.Root, ascr, lscr
	}

	addLink := func(from, to int, ascr, lscr int32) {
		lat.Links = append(lat.Links, LatticeLink{From: from, To: to, Ascr: ascr, Lscr: lscr})
	}

	for i, h := range s.hist {
		if histNode[i] < 0 {
			continue // filler: contributes no node, only passes its score through resolveAncestor
		}
		from, skippedAscr, skippedLscr := resolveAncestor(h.PrevHist)
		addLink(from, histNode[i], incAscr(int32(i))+skippedAscr, h.Lscr+skippedLscr)
		if s.tree.Grammar.Final[h.GState] {
			lat.Finals = append(lat.Finals, histNode[i])
		}
	}
	return lat, nil
}

// Posterior runs the forward/backward pass over lat in the log-semiring,
// scaling each link's acoustic component by ascale before combining it
// with the language component, and returns one posterior log-probability
// per node (logmath.WorstScore for nodes unreachable from both the root
// and some final node). Per spec §4.4: "ascale scales the acoustic score
// against the language score in the log-add."
func (lat *Lattice) Posterior(lm *logmath.LogMath, ascale float64) []int32 {
	n := len(lat.Nodes)
	alpha := make([]int32, n)
	beta := make([]int32, n)
	for i := range alpha {
		alpha[i] = logmath.WorstScore
		beta[i] = logmath.WorstScore
	}
	alpha[lat.Root] = 0
	for _, f := range lat.Finals {
		beta[f] = 0
	}

	linkScore := func(l LatticeLink) int32 {
		return int32(math.Round(float64(l.Ascr)*ascale)) + l.Lscr
	}

	// Links are appended in the order their HistEntry was recorded, which
	// is frame-monotone (every link's From was recorded at an earlier or
	// equal frame than its To), so one forward and one reverse pass over
	// Links suffices without an explicit topological sort.
	for _, l := range lat.Links {
		cand := lm.Add(alpha[l.To], alpha[l.From]+linkScore(l))
		if alpha[l.From] == logmath.WorstScore {
			continue
		}
		alpha[l.To] = cand
	}
	for i := len(lat.Links) - 1; i >= 0; i-- {
		l := lat.Links[i]
		if beta[l.To] == logmath.WorstScore {
			continue
		}
		beta[l.From] = lm.Add(beta[l.From], beta[l.To]+linkScore(l))
	}

	var total int32 = logmath.WorstScore
	for _, f := range lat.Finals {
		total = lm.Add(total, alpha[f])
	}

	post := make([]int32, n)
	for i := range post {
		if alpha[i] == logmath.WorstScore || beta[i] == logmath.WorstScore || total == logmath.WorstScore {
			post[i] = logmath.WorstScore
			continue
		}
		post[i] = alpha[i] + beta[i] - total
	}
	return post
}

// BestPath runs a language-weighted Viterbi best-path search over lat
// (spec's "bestpath" rescoring) and returns the winning word sequence
// with frame ranges, plus its total score. Unlike Search.Backtrace, this
// walks the already-pruned lattice DAG rather than the raw history arena.
func (lat *Lattice) BestPath(ascale float64) ([]BacktraceWord, int32) {
	n := len(lat.Nodes)
	best := make([]int32, n)
	pred := make([]int, n)
	for i := range best {
		best[i] = logmath.WorstScore
		pred[i] = -1
	}
	best[lat.Root] = 0

	linkScore := func(l LatticeLink) int32 {
		return int32(math.Round(float64(l.Ascr)*ascale)) + l.Lscr
	}
	for _, l := range lat.Links {
		if best[l.From] == logmath.WorstScore {
			continue
		}
		cand := best[l.From] + linkScore(l)
		if cand > best[l.To] {
			best[l.To] = cand
			pred[l.To] = l.From
		}
	}

	bestFinal := -1
	var bestScore int32 = logmath.WorstScore
	for _, f := range lat.Finals {
		if best[f] > bestScore {
			bestScore = best[f]
			bestFinal = f
		}
	}
	if bestFinal < 0 {
		return nil, logmath.WorstScore
	}

	var rev []BacktraceWord
	for cur := bestFinal; cur != lat.Root && cur >= 0; cur = pred[cur] {
		node := lat.Nodes[cur]
		rev = append(rev, BacktraceWord{
			Wid: node.Wid, StartFrame: node.StartFrame, EndFrame: node.EndFrame, Score: best[cur],
		})
	}
	out := make([]BacktraceWord, len(rev))
	for i, w := range rev {
		out[len(rev)-1-i] = w
	}
	return out, bestScore
}
