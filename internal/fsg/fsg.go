// Package fsg implements the grammar compilation stage: a finite-state
// word graph (Model) plus four builders that populate one — the plain FSG
// text format, a minimal JSGF subset, a keyphrase spotting loop, and the
// linear forced-alignment grammar.
package fsg

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// Arc is one transition in the grammar: from state `From` to state `To`
// on word `Word` (dict.BadWordID for an epsilon/null transition), with an
// optional log-probability weight (0 means "unweighted", i.e. equal
// weight among siblings).
type Arc struct {
	From, To int
	Word     dict.WordID
	LogProb  int32
}

// Model is a compiled grammar: a set of numbered states, a start state,
// a set of final states, and the arcs connecting them. Immutable once
// built; LexTree compiles one of these alongside a Dictionary and
// Dict2Pid into pnodes.
type Model struct {
	NStates  int
	Start    int
	Final    map[int]bool
	Arcs     []Arc
	WordText []string // arc Word -> surface text, parallel to dict lookups for grammar-local words not necessarily in the shared dictionary
}

func newModel(nStates, start int) *Model {
	return &Model{NStates: nStates, Start: start, Final: map[int]bool{}}
}

func (m *Model) addArc(from, to int, wid dict.WordID, logprob int32) {
	m.Arcs = append(m.Arcs, Arc{From: from, To: to, Word: wid, LogProb: logprob})
}

// ParseText parses the plain FSG text format:
//
//	FSG_BEGIN [name]
//	N <num_states>
//	S <start_state>
//	F <final_state> [<final_state> ...]
//	T <from> <to> <word_id> [<logprob>]
//	FSG_END
//
// word_id indexes into a word list supplied separately is the classic S3
// convention, but since this port keeps arcs word-string-addressed, T's
// third field is instead the literal word text, or "-" for an epsilon
// arc; this matches the text variant produced by recent PocketSphinx
// tooling and is simpler to hand-author for tests and fixtures.
func ParseText(r io.Reader) (*Model, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var m *Model
	words := map[string]dict.WordID{}
	nextWID := dict.WordID(0)
	wordOf := func(text string) dict.WordID {
		if text == "-" {
			return dict.BadWordID
		}
		if id, ok := words[text]; ok {
			return id
		}
		id := nextWID
		nextWID++
		words[text] = id
		return id
	}

	seenBegin := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "FSG_BEGIN":
			seenBegin = true
		case "FSG_END":
			// nothing further to do
		case "N":
			if len(fields) != 2 {
				return nil, errs.New(errs.ParseError, "fsg: malformed N line")
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, errs.Wrap(errs.ParseError, "fsg: N", err)
			}
			m = newModel(n, 0)
		case "S":
			if m == nil || len(fields) != 2 {
				return nil, errs.New(errs.ParseError, "fsg: S before N, or malformed")
			}
			s, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, errs.Wrap(errs.ParseError, "fsg: S", err)
			}
			m.Start = s
		case "F":
			if m == nil || len(fields) < 2 {
				return nil, errs.New(errs.ParseError, "fsg: F before N, or malformed")
			}
			for _, f := range fields[1:] {
				s, err := strconv.Atoi(f)
				if err != nil {
					return nil, errs.Wrap(errs.ParseError, "fsg: F", err)
				}
				m.Final[s] = true
			}
		case "T":
			if m == nil || len(fields) < 4 {
				return nil, errs.New(errs.ParseError, "fsg: T before N, or malformed")
			}
			from, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, errs.Wrap(errs.ParseError, "fsg: T from", err)
			}
			to, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, errs.Wrap(errs.ParseError, "fsg: T to", err)
			}
			wid := wordOf(fields[3])
			var logprob int32
			if len(fields) >= 5 {
				f, err := strconv.ParseFloat(fields[4], 64)
				if err != nil {
					return nil, errs.Wrap(errs.ParseError, "fsg: T logprob", err)
				}
				logprob = int32(f)
			}
			m.addArc(from, to, wid, logprob)
		default:
			return nil, errs.New(errs.ParseError, "fsg: unknown directive "+fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.IoError, "read fsg", err)
	}
	if !seenBegin || m == nil {
		return nil, errs.New(errs.ParseError, "fsg: missing FSG_BEGIN/N")
	}
	m.WordText = make([]string, nextWID)
	for text, id := range words {
		m.WordText[id] = text
	}
	return m, nil
}

// ResolveWords remaps every arc in m from ParseText's file-local word-id
// namespace (keyed by m.WordText) onto d's dictionary word ids, so the
// lex-tree builder can call d.Entry(arc.Word) directly. Called once by
// the decoder after parsing a set_fsg grammar, mirroring the resolution
// CompileJSGF already performs inline against its own pending-word table.
func ResolveWords(m *Model, d *dict.Dictionary) error {
	resolved := make([]dict.WordID, len(m.WordText))
	for id, text := range m.WordText {
		if text == "" {
			resolved[id] = dict.BadWordID
			continue
		}
		wid := d.Lookup(text)
		if wid == dict.BadWordID {
			return errs.New(errs.InvalidPhones, "fsg: word not in dictionary: "+text)
		}
		resolved[id] = wid
	}
	for i, a := range m.Arcs {
		if a.Word != dict.BadWordID {
			m.Arcs[i].Word = resolved[a.Word]
		}
	}
	return nil
}

// CompileKeyphrase builds the loop-and-detect FSG used for keyword
// spotting (spec's set_keyphrase): len(words)+2 states, a self-loop of
// <sil> at the start state, one arc per word of phrase in sequence, an
// epsilon arc from the last word's state to the final state, and an
// epsilon arc from the final state back to start so spotting continues
// across an entire utterance without restarting.
func CompileKeyphrase(phrase string, d *dict.Dictionary) (*Model, error) {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil, errs.New(errs.InvalidConfig, "fsg: empty keyphrase")
	}
	// states: 0 = loop/start, 1..len(words) = mid-phrase, len(words)+1 = final
	nStates := len(words) + 2
	m := newModel(nStates, 0)
	silWID := d.SilenceWordID()
	m.addArc(0, 0, silWID, 0)
	prev := 0
	for i, w := range words {
		wid := d.Lookup(w)
		if wid == dict.BadWordID {
			return nil, errs.New(errs.InvalidPhones, "fsg: keyphrase word not in dictionary: "+w)
		}
		next := i + 1
		m.addArc(prev, next, wid, 0)
		prev = next
	}
	final := nStates - 1
	m.addArc(prev, final, dict.BadWordID, 0)
	m.addArc(final, 0, dict.BadWordID, 0)
	m.Final[final] = true
	return m, nil
}

// CompileLinear builds the forced-alignment FSG used by set_align_text:
// one arc per word of words in strict sequence, with an optional <sil>
// self-loop interleaved at every state when fillerSilence is true so the
// aligner can absorb pauses between words.
func CompileLinear(words []string, d *dict.Dictionary, fillerSilence bool) (*Model, error) {
	if len(words) == 0 {
		return nil, errs.New(errs.InvalidConfig, "fsg: empty alignment text")
	}
	nStates := len(words) + 1
	m := newModel(nStates, 0)
	for i, w := range words {
		wid := d.Lookup(w)
		if wid == dict.BadWordID {
			return nil, errs.New(errs.InvalidPhones, "fsg: alignment word not in dictionary: "+w)
		}
		m.addArc(i, i+1, wid, 0)
		if fillerSilence {
			m.addArc(i, i, d.SilenceWordID(), 0)
		}
	}
	if fillerSilence {
		m.addArc(nStates-1, nStates-1, d.SilenceWordID(), 0)
	}
	m.Final[nStates-1] = true
	return m, nil
}

// CompileJSGF compiles a minimal JSGF subset sufficient for a single
// public rule with sequence, alternation (|), Kleene star/plus, and
// optional ([...]) operators:
//
//	#JSGF V1.0;
//	grammar <name>;
//	public <rule> = w1 (w2 | w3) [w4] w5+;
//
// This hand-rolled recursive-descent compiler is the one component in
// this module built on the standard library alone: no JSGF or general
// grammar/parser-combinator library appears anywhere in the retrieved
// reference corpus.
func CompileJSGF(text string, d *dict.Dictionary) (*Model, error) {
	body, err := extractPublicRuleBody(text)
	if err != nil {
		return nil, err
	}
	p := &jsgfParser{toks: tokenizeJSGF(body), nextState: 1}
	start, final, states, err := p.parseSequence(0)
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, errs.New(errs.ParseError, "jsgf: unexpected trailing tokens")
	}
	m := newModel(states, start)
	m.Final[final] = true

	// parseTerm stashed a placeholder index into p.pendingWords as each
	// word arc's Word field; resolve those to real dictionary ids now so
	// compile-time typos surface immediately rather than deep inside
	// lex-tree building.
	resolved := make([]dict.WordID, len(p.pendingWords))
	for i, a := range p.pendingWords {
		wid := d.Lookup(a.text)
		if wid == dict.BadWordID {
			return nil, errs.New(errs.InvalidPhones, "jsgf: word not in dictionary: "+a.text)
		}
		resolved[i] = wid
	}
	m.Arcs = make([]Arc, len(p.arcs))
	for i, a := range p.arcs {
		if a.Word != dict.BadWordID {
			a.Word = resolved[a.Word]
		}
		m.Arcs[i] = a
	}
	return m, nil
}

func extractPublicRuleBody(text string) (string, error) {
	idx := strings.Index(text, "public")
	if idx < 0 {
		return "", errs.New(errs.ParseError, "jsgf: no public rule found")
	}
	rest := text[idx:]
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return "", errs.New(errs.ParseError, "jsgf: malformed public rule")
	}
	rest = rest[eq+1:]
	end := strings.IndexByte(rest, ';')
	if end < 0 {
		return "", errs.New(errs.ParseError, "jsgf: public rule missing terminating ';'")
	}
	return strings.TrimSpace(rest[:end]), nil
}

type jsgfTok struct {
	kind string // "word", "(", ")", "[", "]", "|", "*", "+"
	text string
}

func tokenizeJSGF(body string) []jsgfTok {
	var toks []jsgfTok
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.ContainsRune("()[]|*+", rune(c)):
			toks = append(toks, jsgfTok{kind: string(c)})
			i++
		default:
			j := i
			for j < len(body) && !strings.ContainsRune(" \t\n\r()[]|*+", rune(body[j])) {
				j++
			}
			toks = append(toks, jsgfTok{kind: "word", text: body[i:j]})
			i = j
		}
	}
	return toks
}

type pendingWordArc struct{ text string }

// jsgfParser implements a small recursive-descent parser over
// alternation(sequence(term)) with term in {word, (alt), [alt]*, item* ,
// item+}, building states and arcs as it goes.
type jsgfParser struct {
	toks         []jsgfTok
	pos          int
	nextState    int
	arcs         []Arc
	pendingWords []pendingWordArc
}

func (p *jsgfParser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *jsgfParser) peek() (jsgfTok, bool) {
	if p.atEnd() {
		return jsgfTok{}, false
	}
	return p.toks[p.pos], true
}

func (p *jsgfParser) newState() int {
	s := p.nextState
	p.nextState++
	return s
}

// parseSequence parses a sequence of terms separated by '|' alternatives
// at the top, and within a sequence just concatenates terms; returns
// (start, final, totalStatesAllocated).
func (p *jsgfParser) parseSequence(entry int) (start, final, nstates int, err error) {
	altStart := entry
	var altEnds []int
	for {
		s, f, e := p.parseConcat(altStart)
		if e != nil {
			return 0, 0, 0, e
		}
		altEnds = append(altEnds, f)
		_ = s
		tok, ok := p.peek()
		if ok && tok.kind == "|" {
			p.pos++
			continue
		}
		break
	}
	if len(altEnds) == 1 {
		return entry, altEnds[0], p.nextState, nil
	}
	joined := p.newState()
	for _, e := range altEnds {
		p.arcs = append(p.arcs, Arc{From: e, To: joined, Word: dict.BadWordID})
	}
	return entry, joined, p.nextState, nil
}

func (p *jsgfParser) parseConcat(entry int) (start, final int, err error) {
	cur := entry
	any := false
	for {
		tok, ok := p.peek()
		if !ok || tok.kind == "|" || tok.kind == ")" || tok.kind == "]" {
			break
		}
		next, e := p.parseTerm(cur)
		if e != nil {
			return 0, 0, e
		}
		cur = next
		any = true
	}
	if !any {
		// empty alternative (e.g. "[a]" with nothing else) — epsilon stays at entry
		return entry, entry, nil
	}
	return entry, cur, nil
}

// parseTerm parses one atom (word, group, optional) followed by an
// optional */+ suffix, wiring it on from `from`, and returns the state
// reached after it.
func (p *jsgfParser) parseTerm(from int) (int, error) {
	tok, ok := p.peek()
	if !ok {
		return 0, errs.New(errs.ParseError, "jsgf: unexpected end of rule")
	}
	var after int
	var err error
	switch tok.kind {
	case "word":
		p.pos++
		after = p.newState()
		p.arcs = append(p.arcs, Arc{From: from, To: after, Word: dict.WordID(len(p.pendingWords))})
		p.pendingWords = append(p.pendingWords, pendingWordArc{text: tok.text})
	case "(":
		p.pos++
		_, f, _, e := p.parseSequence(from)
		if e != nil {
			return 0, e
		}
		if t, ok := p.peek(); !ok || t.kind != ")" {
			return 0, errs.New(errs.ParseError, "jsgf: missing )")
		}
		p.pos++
		after = f
	case "[":
		p.pos++
		_, f, _, e := p.parseSequence(from)
		if e != nil {
			return 0, e
		}
		if t, ok := p.peek(); !ok || t.kind != "]" {
			return 0, errs.New(errs.ParseError, "jsgf: missing ]")
		}
		p.pos++
		after = p.newState()
		p.arcs = append(p.arcs, Arc{From: from, To: after, Word: dict.BadWordID}) // skip the optional entirely
		p.arcs = append(p.arcs, Arc{From: f, To: after, Word: dict.BadWordID})
	default:
		return 0, errs.New(errs.ParseError, fmt.Sprintf("jsgf: unexpected token %q", tok.kind))
	}

	if suf, ok := p.peek(); ok && (suf.kind == "*" || suf.kind == "+") {
		p.pos++
		if suf.kind == "*" {
			p.arcs = append(p.arcs, Arc{From: from, To: after, Word: dict.BadWordID})
		}
		p.arcs = append(p.arcs, Arc{From: after, To: from, Word: dict.BadWordID})
	}
	_ = err
	return after, nil
}
