package model

import (
	"github.com/soundswallower/soundswallower-go/internal/dict"
)

// Dict2Pid maps (base phone, left context, right context) dictionary
// neighborhoods onto the Mdef's senone-sequence ids, with backoff to
// context-independent and word-boundary forms so every triphone a lex
// tree needs can be resolved even when the acoustic model never observed
// that exact context during training.
type Dict2Pid struct {
	mdef *Mdef
}

// Build constructs a Dict2Pid over mdef; the dictionary argument is
// accepted for interface symmetry with the spec's data model ("built from
// dict + mdef") and to fail fast via Mdef.EnsureDictionaryPhones, but
// Dict2Pid itself only needs the Mdef's triphone table to resolve lookups
// — dictionary entries are resolved to triphones lazily, at lex-tree
// compile time, as the word's actual phone string is walked arc by arc.
func Build(mdef *Mdef, d *dict.Dictionary) (*Dict2Pid, error) {
	if err := mdef.EnsureDictionaryPhones(d); err != nil {
		return nil, err
	}
	return &Dict2Pid{mdef: mdef}, nil
}

// Resolve returns the ssid for the requested triphone, backing off in the
// order: exact triphone -> same base+left with right backed off to the
// base itself -> same base+right with left backed off -> the base's
// context-independent form. This mirrors dict2pid's cross-word neighbor
// class collapsing (spec §3: "left/right classes cover all dictionary
// neighborhoods").
func (d2p *Dict2Pid) Resolve(base, left, right Phone) (int, bool) {
	if ssid, ok := d2p.mdef.SsidFor(Triphone{Base: base, Left: left, Right: right}); ok {
		return ssid, true
	}
	if ssid, ok := d2p.mdef.SsidFor(Triphone{Base: base, Left: left, Right: base}); ok {
		return ssid, true
	}
	if ssid, ok := d2p.mdef.SsidFor(Triphone{Base: base, Left: base, Right: right}); ok {
		return ssid, true
	}
	return d2p.mdef.SsidFor(Triphone{Base: base, Left: base, Right: base})
}
