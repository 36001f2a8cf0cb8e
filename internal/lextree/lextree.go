// Package lextree compiles a grammar (fsg.Model) plus a pronunciation
// dictionary and cross-word context resolver into a lexical tree of HMM
// nodes ("pnodes") that internal/search walks frame by frame.
//
// A tree is rebuilt from scratch whenever the dictionary or grammar
// changes; pnodes are never mutated in place once Build returns, matching
// the "immutable after build" data model invariant.
package lextree

import (
	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/fsg"
	"github.com/soundswallower/soundswallower-go/internal/model"
)

// PNode is one node of the compiled lexical tree: one HMM instance (one
// senone per emitting state, shared tmat) positioned at a particular
// point within a particular word's pronunciation, within a particular
// grammar state.
type PNode struct {
	GState   int    // the fsg.Model state this pnode's word arc leaves from
	Word     dict.WordID
	PhoneIdx int    // position within Word's phone sequence
	Senones  []model.SenoneID
	TmatID   int

	// WordFinalArc is the index into Arcs of the grammar arc this pnode
	// completes when it is the last phone of Word, or -1 if this pnode is
	// not word-final.
	WordFinalArc int

	Successors []int // indices into Tree.Nodes reachable on exiting this pnode's HMM
}

// Tree is a compiled lexical tree: the flat pnode array plus the grammar
// and dictionary it was built from (retained so the search can map
// grammar arcs and words back to surface forms).
type Tree struct {
	Grammar *fsg.Model
	Dict    *dict.Dictionary
	Nodes   []PNode

	// EntryNodes[gstate] lists pnode indices that begin a word leaving
	// grammar state gstate — the search's per-frame activation roots.
	EntryNodes map[int][]int
}

// Build compiles grammar into a Tree using d for pronunciations and d2p to
// resolve cross-word triphone context. Internal word arcs (epsilon arcs
// with dict.BadWordID) are collapsed by following them to the nearest
// word-bearing arc, so the tree only ever roots pnodes at actual
// pronunciations.
func Build(grammar *fsg.Model, d *dict.Dictionary, mdef *model.Mdef, tmat *model.Tmat, d2p *model.Dict2Pid) (*Tree, error) {
	t := &Tree{Grammar: grammar, Dict: d, EntryNodes: map[int][]int{}}

	// Every word arc gets its own chain of pnodes, one per phone of its
	// word. No pnode is shared between arcs: arcs leaving the same state
	// whose words begin with the same phones still get separate chains.
	for arcIdx, arc := range grammar.Arcs {
		if arc.Word == dict.BadWordID {
			continue // epsilon arcs contribute no pnodes; the search follows them directly
		}
		entry, ok := d.Entry(arc.Word)
		if !ok {
			return nil, errs.New(errs.InvalidModel, "lextree: grammar references unknown word id")
		}
		if len(entry.Phones) == 0 {
			continue
		}
		entries, err := buildChain(t, arc, arcIdx, entry, mdef, tmat, d2p)
		if err != nil {
			return nil, err
		}
		t.EntryNodes[arc.From] = append(t.EntryNodes[arc.From], entries...)
	}
	return t, nil
}

// buildChain compiles one word's phone sequence into a chain of pnodes
// for the given grammar arc and returns the indices of the chain's entry
// pnodes (ordinarily one, but fanned out to one per distinct real
// neighboring-word context at the chain's first and/or last phone — see
// predecessorPhones/successorPhones).
//
// Only the first and last phone's context varies across words; interior
// phones are always resolved against their within-word neighbors, so only
// those two positions ever fan out.
func buildChain(t *Tree, arc fsg.Arc, arcIdx int, entry dict.Entry, mdef *model.Mdef, tmat *model.Tmat, d2p *model.Dict2Pid) ([]int, error) {
	phones := entry.Phones
	n := len(phones)
	if n == 0 {
		return nil, nil
	}

	leftContexts := predecessorPhones(t.Grammar, t.Dict, arc.From, map[int]bool{})
	if len(leftContexts) == 0 {
		leftContexts = []model.Phone{model.WordBoundary}
	}
	rightContexts := successorPhones(t.Grammar, t.Dict, arc.To, map[int]bool{})
	if len(rightContexts) == 0 {
		rightContexts = []model.Phone{model.WordBoundary}
	}

	var prevLayer []int
	var firstLayer []int
	for i := 0; i < n; i++ {
		base := model.Phone(phones[i])

		lefts := []model.Phone{base}
		if i == 0 {
			lefts = leftContexts
		} else {
			lefts = []model.Phone{model.Phone(phones[i-1])}
		}
		rights := []model.Phone{base}
		if i == n-1 {
			rights = rightContexts
		} else {
			rights = []model.Phone{model.Phone(phones[i+1])}
		}

		wordFinalArc := -1
		if i == n-1 {
			wordFinalArc = arcIdx
		}

		var layer []int
		for _, left := range lefts {
			for _, right := range rights {
				ssid, ok := d2p.Resolve(base, left, right)
				if !ok {
					return nil, errs.New(errs.InvalidPhones, "lextree: no senone sequence resolvable for phone "+string(base))
				}
				senones := mdef.Senones(ssid)
				if senones == nil {
					return nil, errs.New(errs.InvalidModel, "lextree: ssid has no senones")
				}

				node := PNode{
					GState:       arc.From,
					Word:         arc.Word,
					PhoneIdx:     i,
					Senones:      append([]model.SenoneID(nil), senones...),
					TmatID:       pickTmatID(ssid),
					WordFinalArc: wordFinalArc,
				}
				t.Nodes = append(t.Nodes, node)
				layer = append(layer, len(t.Nodes)-1)
			}
		}

		for _, p := range prevLayer {
			t.Nodes[p].Successors = append(t.Nodes[p].Successors, layer...)
		}
		if i == 0 {
			firstLayer = layer
		}
		prevLayer = layer
	}
	return firstLayer, nil
}

// predecessorPhones returns the distinct last phones of words whose arcs
// lead into state, following epsilon (word-less) arcs back to their
// origin state. A nil result means state has no word-bearing
// predecessor — the grammar's start state, i.e. an utterance-initial
// boundary — and the caller should treat that as model.WordBoundary.
func predecessorPhones(g *fsg.Model, d *dict.Dictionary, state int, visited map[int]bool) []model.Phone {
	if visited[state] {
		return nil
	}
	visited[state] = true

	var out []model.Phone
	seen := map[model.Phone]bool{}
	for _, arc := range g.Arcs {
		if arc.To != state {
			continue
		}
		if arc.Word == dict.BadWordID {
			for _, p := range predecessorPhones(g, d, arc.From, visited) {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
			continue
		}
		entry, ok := d.Entry(arc.Word)
		if !ok || len(entry.Phones) == 0 {
			continue
		}
		p := model.Phone(entry.Phones[len(entry.Phones)-1])
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// successorPhones returns the distinct first phones of words whose arcs
// leave state, following epsilon arcs forward to their destination. A
// nil result means state has no word-bearing successor — an
// utterance-final boundary — and the caller should treat that as
// model.WordBoundary.
func successorPhones(g *fsg.Model, d *dict.Dictionary, state int, visited map[int]bool) []model.Phone {
	if visited[state] {
		return nil
	}
	visited[state] = true

	var out []model.Phone
	seen := map[model.Phone]bool{}
	for _, arc := range g.Arcs {
		if arc.From != state {
			continue
		}
		if arc.Word == dict.BadWordID {
			for _, p := range successorPhones(g, d, arc.To, visited) {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
			continue
		}
		entry, ok := d.Entry(arc.Word)
		if !ok || len(entry.Phones) == 0 {
			continue
		}
		p := model.Phone(entry.Phones[0])
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// pickTmatID maps a senone-sequence id onto a transition matrix id. Many
// acoustic models share one transition topology across all triphones of a
// given phone count, so this is the identity unless an implementation
// wires a per-ssid tmat table; this port's Mdef does not carry that
// mapping, so every pnode shares Tmat 0, matching PocketSphinx's common
// single-topology configuration.
func pickTmatID(ssid int) int {
	_ = ssid
	return 0
}

// NodeWordFinalGState reports the grammar state a pnode's completing arc
// leads to, used by the search to know which grammar state becomes active
// on a word exit.
func (t *Tree) NodeWordFinalGState(nodeIdx int) (int, bool) {
	n := t.Nodes[nodeIdx]
	if n.WordFinalArc < 0 {
		return 0, false
	}
	return t.Grammar.Arcs[n.WordFinalArc].To, true
}
