package ssw

import (
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/soundswallower/soundswallower-go/internal/align"
	"github.com/soundswallower/soundswallower-go/internal/config"
	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/feature"
	"github.com/soundswallower/soundswallower-go/internal/frontend"
	"github.com/soundswallower/soundswallower-go/internal/fsg"
	"github.com/soundswallower/soundswallower-go/internal/lextree"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/model"
	"github.com/soundswallower/soundswallower-go/internal/scorer"
	"github.com/soundswallower/soundswallower-go/internal/search"
)

// Decoder is the root public recognizer, the facade SPEC_FULL.md §15
// names: every operation of spec.md §6's table becomes a CamelCase
// method here, composing FrontEnd, FeatureTransform, AcousticScorer,
// FsgSearch, and Alignment over one Resources bundle. Not safe for
// concurrent use (spec §5); independent Decoders share no mutable state
// except what a caller explicitly hands them via WithResources.
type Decoder struct {
	cfg    config.Config
	logger *log.Logger

	res     *Resources
	ownsRes bool

	fe *frontend.FrontEnd
	ft *feature.FeatureTransform

	d2p *model.Dict2Pid

	grammar *fsg.Model
	tree    *lextree.Tree
	srch    *search.Search

	alignWords    []string // non-nil while set_align_text names the active grammar
	fillerSilence bool

	state search.DecoderState
	feats [][]float32 // this utterance's feature frames, retained for align retries

	hypText  string
	hypScore int32
	prob     float64

	alignment *align.Alignment
}

// New builds a Decoder from opts, realizing spec §6's init(config): it
// loads (or retains a shared) Resources bundle, builds the FrontEnd and
// FeatureTransform from the frontend/feature config keys, and — if opts
// named a grammar source — compiles the initial search.
func New(opts ...Option) (*Decoder, error) {
	o := buildOptions(opts...)

	d := &Decoder{cfg: o.cfg, logger: o.logger, state: search.Idle}

	if o.resources != nil {
		res, err := o.resources.Retain()
		if err != nil {
			return nil, err
		}
		d.res = res
		d.ownsRes = false
	} else {
		res, err := LoadResources(o.cfg)
		if err != nil {
			return nil, err
		}
		d.res = res
		d.ownsRes = true
	}

	sampRate := o.cfg.SampRate
	if sampRate == 0 {
		sampRate = 16000
	}
	frate := o.cfg.Frate
	if frate == 0 {
		frate = 100
	}
	fe, err := frontend.New(frontend.Config{
		SampleRate:  sampRate,
		FrameShftMs: 1000.0 / float64(frate),
		NFilt:       o.cfg.NFilt,
		NCep:        o.cfg.NCep,
	})
	if err != nil {
		d.Release()
		return nil, err
	}
	d.fe = fe

	ft, err := feature.New(feature.Config{NCep: fe.NCep()})
	if err != nil {
		d.Release()
		return nil, err
	}
	d.ft = ft

	mdef, err := d.res.Mdef.Get()
	if err != nil {
		d.Release()
		return nil, err
	}
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		d.Release()
		return nil, err
	}
	d2p, err := model.Build(mdef, dictionary)
	if err != nil {
		d.Release()
		return nil, err
	}
	d.d2p = d2p

	d.fillerSilence = true

	if err := d.applyGrammarFromConfig(); err != nil {
		d.Release()
		return nil, err
	}

	d.logger.Debug("decoder initialized", "samprate", sampRate, "frate", frate)
	return d, nil
}

// applyGrammarFromConfig loads whichever single grammar-source key
// cfg named at construction time (already validated mutually exclusive
// by config.Validate) via the matching Set* method.
func (d *Decoder) applyGrammarFromConfig() error {
	switch {
	case d.cfg.Fsg != "":
		text, err := os.ReadFile(d.cfg.Fsg)
		if err != nil {
			return errs.Wrap(errs.IoError, "read fsg "+d.cfg.Fsg, err)
		}
		return d.SetFsg("", string(text))
	case d.cfg.Jsgf != "":
		text, err := os.ReadFile(d.cfg.Jsgf)
		if err != nil {
			return errs.Wrap(errs.IoError, "read jsgf "+d.cfg.Jsgf, err)
		}
		return d.SetJsgf(string(text))
	case d.cfg.Kws != "":
		text, err := os.ReadFile(d.cfg.Kws)
		if err != nil {
			return errs.Wrap(errs.IoError, "read kws "+d.cfg.Kws, err)
		}
		return d.SetKeyphrase(strings.TrimSpace(string(text)))
	case d.cfg.Keyphrase != "":
		return d.SetKeyphrase(d.cfg.Keyphrase)
	case d.cfg.AlignText != "":
		return d.SetAlignText(d.cfg.AlignText)
	}
	return nil
}

// Release returns this Decoder's Resources bundle, freeing the
// underlying acoustic model and dictionary once every Decoder sharing
// them has done the same (spec §5's reference-counting rule).
func (d *Decoder) Release() error {
	if d.res == nil {
		return nil
	}
	err := d.res.Release()
	d.res = nil
	return err
}

// Reinit rebuilds Dict2Pid and, if a grammar is active, the lex-tree,
// from the decoder's current Resources.Dict and grammar. Only legal in
// Idle (spec §6: "BadState if Processing").
func (d *Decoder) Reinit() error {
	if d.state == search.Processing {
		return errs.New(errs.BadState, "reinit while Processing")
	}
	mdef, err := d.res.Mdef.Get()
	if err != nil {
		return err
	}
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	d2p, err := model.Build(mdef, dictionary)
	if err != nil {
		return err
	}
	d.d2p = d2p
	if d.grammar != nil {
		return d.rebuildTree()
	}
	return nil
}

// AddWord appends a pronunciation to the shared dictionary and, if
// update is true, rebuilds the lex-tree so the new word is immediately
// reachable by the active grammar (spec §6: add_word(text, phones,
// update)).
func (d *Decoder) AddWord(text string, phones []string, update bool) error {
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	if _, err := dictionary.AddWord(text, phones, update); err != nil {
		return err
	}
	if update {
		return d.Reinit()
	}
	return nil
}

// rebuildTree compiles d.grammar into a fresh lex-tree and a fresh
// Search over it, matching the data model's "LexTree ... rebuilt on
// dict/grammar change" invariant: trees are never mutated in place.
func (d *Decoder) rebuildTree() error {
	if d.state == search.Processing {
		return errs.New(errs.BadState, "rebuild lex-tree while Processing")
	}
	mdef, err := d.res.Mdef.Get()
	if err != nil {
		return err
	}
	tmat, err := d.res.Tmat.Get()
	if err != nil {
		return err
	}
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	mgau, err := d.res.Mgau.Get()
	if err != nil {
		return err
	}
	lm, err := d.res.LogMath.Get()
	if err != nil {
		return err
	}

	tree, err := lextree.Build(d.grammar, dictionary, mdef, tmat, d.d2p)
	if err != nil {
		return err
	}
	d.tree = tree
	scr := scorer.New(mgau, scorer.Config{})
	d.srch = search.New(tree, scr, mdef, tmat, lm, dictionary, d.searchConfig())
	return nil
}

// searchConfig maps the spec §6 config keys onto internal/search.Config.
func (d *Decoder) searchConfig() search.Config {
	return search.Config{
		Beam:     d.cfg.Beam,
		PBeam:    d.cfg.PBeam,
		WBeam:    d.cfg.WBeam,
		LW:       d.cfg.LW,
		WIP:      int32(math.Round(d.cfg.WIP)),
		PIP:      int32(math.Round(d.cfg.PIP)),
		Bestpath: d.cfg.Bestpath,
		MaxHMMPF: d.cfg.MaxHMMPF,
		MaxWPF:   d.cfg.MaxWPF,
	}
}

// SetFsg replaces the active search with the plain-text FSG grammar
// parsed from fsgText; name is accepted for API parity with spec's
// set_fsg(name, fsg) (PocketSphinx uses it to tag multiple loaded
// grammars) but this port keeps exactly one active grammar per decoder.
func (d *Decoder) SetFsg(name string, fsgText string) error {
	if d.state == search.Processing {
		return errs.New(errs.BadState, "set_fsg while Processing")
	}
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	m, err := fsg.ParseText(strings.NewReader(fsgText))
	if err != nil {
		return err
	}
	if err := fsg.ResolveWords(m, dictionary); err != nil {
		return err
	}
	d.alignWords = nil
	d.grammar = m
	return d.rebuildTree()
}

// SetJsgf replaces the active search with the grammar compiled from a
// single public rule of a JSGF document.
func (d *Decoder) SetJsgf(text string) error {
	if d.state == search.Processing {
		return errs.New(errs.BadState, "set_jsgf while Processing")
	}
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	m, err := fsg.CompileJSGF(text, dictionary)
	if err != nil {
		return err
	}
	d.alignWords = nil
	d.grammar = m
	return d.rebuildTree()
}

// SetKeyphrase replaces the active search with the loop-and-detect
// keyword-spotting grammar for phrase.
func (d *Decoder) SetKeyphrase(phrase string) error {
	if d.state == search.Processing {
		return errs.New(errs.BadState, "set_keyphrase while Processing")
	}
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	m, err := fsg.CompileKeyphrase(phrase, dictionary)
	if err != nil {
		return err
	}
	d.alignWords = nil
	d.grammar = m
	return d.rebuildTree()
}

// SetAlignText names the decoder's next utterance as a forced alignment
// of text (spec §4.5): the linear FSG is (re)built fresh at every
// end_utt from the utterance's accumulated features, rather than once
// here, so the beam-widening retry can rebuild it from scratch.
func (d *Decoder) SetAlignText(text string) error {
	if d.state == search.Processing {
		return errs.New(errs.BadState, "set_align_text while Processing")
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return errs.New(errs.InvalidConfig, "set_align_text: empty text")
	}
	d.alignWords = words
	d.grammar = nil
	d.tree = nil
	d.srch = nil
	return nil
}

// StartUtt resets per-utterance state across the whole pipeline,
// matching spec §4.4's Idle->Started transition and §5's memory
// discipline ("the per-utterance history arena and active-pnode lists
// are reset on start_utt").
func (d *Decoder) StartUtt() error {
	if d.state == search.Processing {
		return errs.New(errs.BadState, "start_utt while Processing")
	}
	d.fe.StartUtt()
	d.ft.StartUtt()
	d.feats = d.feats[:0]
	d.hypText = ""
	d.hypScore = logmath.WorstScore
	d.prob = math.Inf(-1)
	d.alignment = nil

	if d.alignWords == nil {
		if d.srch == nil {
			return errs.New(errs.InvalidConfig, "start_utt: no grammar set")
		}
		if err := d.srch.StartUtt(); err != nil {
			return err
		}
	}
	d.state = search.Started
	return nil
}

// ProcessRaw implements spec §6's process_raw(pcm, n, no_search?,
// full_utt?): it feeds pcm through the FrontEnd and FeatureTransform,
// and — unless noSearch or the decoder is in forced-alignment mode,
// where the search is deferred to a single pass at EndUtt — streams
// every resulting feature vector into the active Search immediately, so
// "scores written for frame t are visible before frame t+1 begins."
// fullUtt marks pcm as the last chunk of the utterance, so the front end
// zero-pads a final partial frame and the feature transform drains its
// lookahead buffer. Returns the number of feature frames produced.
func (d *Decoder) ProcessRaw(pcm []int16, noSearch bool, fullUtt bool) (int, error) {
	if d.state != search.Started && d.state != search.Processing {
		return 0, errs.New(errs.BadState, "process_raw outside started/processing")
	}
	d.state = search.Processing

	maxFrames := len(pcm)/d.fe.FrameShift() + 2
	cepBuf := make([][]float64, maxFrames)
	for i := range cepBuf {
		cepBuf[i] = make([]float64, d.fe.NCep())
	}
	_, nFrames := d.fe.Process(pcm, cepBuf, maxFrames, fullUtt)

	var produced [][]float64
	for i := 0; i < nFrames; i++ {
		produced = append(produced, d.ft.Push(cepBuf[i])...)
	}
	if fullUtt {
		produced = append(produced, d.ft.Flush()...)
	}

	for _, feat64 := range produced {
		feat32 := make([]float32, len(feat64))
		for i, v := range feat64 {
			feat32[i] = float32(v)
		}
		switch {
		case d.alignWords != nil:
			// Forced alignment is two-pass (spec §4.5): buffer every
			// frame and defer the decode to EndUtt, which may need to
			// retry it from scratch at a widened beam.
			d.feats = append(d.feats, feat32)
		case !noSearch:
			if err := d.srch.ProcessFrame(feat32); err != nil {
				return len(produced), err
			}
		}
	}
	return len(produced), nil
}

// EndUtt finalizes the utterance: for an ordinary grammar decode it ends
// the streaming Search and derives the hypothesis/alignment from its
// backtrace (rescoring over a lattice bestpath if cfg.Bestpath is set);
// for a forced alignment it runs align.ForceAlign over the buffered
// feature frames. Moves the state machine to Idle either way (spec §4.4
// folds Finished straight back to Idle once results have been read
// through Hyp/Alignment, since this port keeps no separate "read" step).
func (d *Decoder) EndUtt() error {
	if d.state != search.Processing && d.state != search.Started {
		return errs.New(errs.BadState, "end_utt outside started/processing")
	}

	if d.alignWords != nil {
		return d.endForcedAlignUtt()
	}
	return d.endDecodeUtt()
}

func (d *Decoder) endDecodeUtt() error {
	if err := d.srch.EndUtt(); err != nil {
		return err
	}
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	mdef, err := d.res.Mdef.Get()
	if err != nil {
		return err
	}

	bt, err := d.srch.Backtrace()
	if err != nil {
		return err
	}
	d.hypText = hypText(bt, dictionary)
	d.hypScore = d.srch.BestScore()
	if al, err := align.FromBacktrace(bt, dictionary, mdef.NState); err == nil {
		d.alignment = al
	}

	if d.cfg.Bestpath {
		d.rescoreWithLattice(dictionary)
	}

	d.state = search.Idle
	return nil
}

// rescoreWithLattice builds the word lattice, runs the language-weighted
// bestpath search, and records both the resulting hypothesis and a
// posterior-derived log-probability, per spec §4.4's bestpath rescoring.
func (d *Decoder) rescoreWithLattice(dictionary *dict.Dictionary) {
	lat, err := d.srch.BuildLattice()
	if err != nil || len(lat.Finals) == 0 {
		return
	}
	lm, err := d.res.LogMath.Get()
	if err != nil {
		return
	}
	const ascale = 1.0
	path, score := lat.BestPath(ascale)
	if path != nil {
		d.hypText = hypText(path, dictionary)
		d.hypScore = score
	}
	post := lat.Posterior(lm, ascale)
	var bestPost int32 = logmath.WorstScore
	for _, f := range lat.Finals {
		if post[f] > bestPost {
			bestPost = post[f]
		}
	}
	if bestPost > logmath.WorstScore {
		d.prob = float64(bestPost) * math.Log(lm.Base())
	}
}

func (d *Decoder) endForcedAlignUtt() error {
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return err
	}
	mdef, err := d.res.Mdef.Get()
	if err != nil {
		return err
	}
	tmat, err := d.res.Tmat.Get()
	if err != nil {
		return err
	}
	mgau, err := d.res.Mgau.Get()
	if err != nil {
		return err
	}
	lm, err := d.res.LogMath.Get()
	if err != nil {
		return err
	}

	al, err := align.ForceAlign(d.alignWords, d.feats, align.ForceConfig{
		Dict:          dictionary,
		Mdef:          mdef,
		Tmat:          tmat,
		Mgau:          mgau,
		LogMath:       lm,
		FillerSilence: d.fillerSilence,
	})
	d.state = search.Idle
	if err != nil {
		return err
	}
	d.alignment = al
	var lastScore int32 = logmath.WorstScore
	for _, w := range al.Words {
		lastScore = w.Score
	}
	d.hypText = strings.Join(d.alignWords, " ")
	d.hypScore = lastScore
	return nil
}

// hypText renders a backtrace as a space-separated surface-form
// hypothesis, skipping filler words, matching spec §6's get_hyp() text.
func hypText(bt []search.BacktraceWord, d *dict.Dictionary) string {
	var words []string
	for _, w := range bt {
		if d.IsFiller(w.Wid) {
			continue
		}
		if entry, ok := d.Entry(w.Wid); ok {
			words = append(words, entry.Word)
		}
	}
	return strings.Join(words, " ")
}

// Hyp returns the best hypothesis text and its combined score, per spec
// §6's get_hyp(). An utterance with no surviving path returns ("",
// logmath.WorstScore) — success with empty output, not an error (spec §7).
func (d *Decoder) Hyp() (string, int32) {
	return d.hypText, d.hypScore
}

// Prob returns the natural-log posterior probability of the current
// hypothesis (spec §6's get_prob()), computed from the bestpath lattice
// when cfg.Bestpath is set. Without a lattice rescoring pass there is no
// posterior to report, so Prob returns negative infinity.
func (d *Decoder) Prob() float64 {
	return d.prob
}

// Alignment returns the three-level segmentation of the most recently
// finished utterance, or nil if none is available.
func (d *Decoder) Alignment() *align.Alignment {
	return d.alignment
}

// SegIter returns a word-level iterator over the current Alignment, or
// nil if no alignment is available yet.
func (d *Decoder) SegIter() *align.WordIter {
	if d.alignment == nil {
		return nil
	}
	return align.NewWordIter(d.alignment)
}

// WordText resolves a dictionary word id back to its surface form, for
// callers walking a SegIter/Alignment that only carries dict.WordID
// (cmd/ssalign's segment printer, for instance).
func (d *Decoder) WordText(wid dict.WordID) string {
	dictionary, err := d.res.Dict.Get()
	if err != nil {
		return ""
	}
	entry, ok := dictionary.Entry(wid)
	if !ok {
		return ""
	}
	return entry.Word
}
