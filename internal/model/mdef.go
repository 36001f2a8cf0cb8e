// Package model holds the shared, load-once, reference-counted acoustic
// model data: the phone inventory and state tying (Mdef), HMM transition
// probabilities (Tmat), the cross-word context map (Dict2Pid), and the
// tied-mixture Gaussian codebooks (Mgau). All four are immutable once
// loaded and may be shared across decoders (spec §3, §5).
package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// SenoneID identifies one tied HMM emission distribution ("senone").
type SenoneID int32

// Phone is one context-independent (CI) phone, e.g. "AA", "SIL".
type Phone string

// Triphone is a context-dependent phone occurrence: a base CI phone with
// a left and right phone context (either of which may be SilenceContext
// or WordBoundary at word edges).
type Triphone struct {
	Base, Left, Right Phone
}

const (
	// SilenceContext marks a triphone context position filled by silence.
	SilenceContext Phone = "SIL"
	// WordBoundary marks a triphone context position at an utterance edge,
	// where no neighboring phone exists at all.
	WordBoundary Phone = "##"
)

// Mdef is the context-dependent phone inventory: which CI phones exist,
// how many emitting states an HMM has, and the senone-sequence assigned
// to each triphone actually observed during model training.
type Mdef struct {
	CIPhones  []Phone
	ciIndex   map[Phone]int
	NState    int // emitting states per HMM (5 in the classic 3-state-skip topology... here just a count)
	NSenones  int
	triToSsid map[Triphone]int
	ssids     [][]SenoneID // ssid -> per-state senone ids, length NState
}

// NewMdef builds an Mdef from explicit data, used by tests and by the
// text-format loader below.
func NewMdef(ciPhones []Phone, nState int) *Mdef {
	m := &Mdef{
		CIPhones:  ciPhones,
		ciIndex:   map[Phone]int{},
		NState:    nState,
		triToSsid: map[Triphone]int{},
	}
	for i, p := range ciPhones {
		m.ciIndex[p] = i
	}
	return m
}

// IsCIPhone reports whether p is a known context-independent phone.
func (m *Mdef) IsCIPhone(p Phone) bool {
	_, ok := m.ciIndex[p]
	return ok
}

// AddTriphone registers the senone sequence (one id per emitting state)
// for a triphone occurrence, returning its ssid (senone-sequence id).
// Calling AddTriphone again with an already-seen senone sequence returns
// the existing ssid rather than allocating a duplicate, matching the
// original engine's ssid de-duplication.
func (m *Mdef) AddTriphone(tri Triphone, senones []SenoneID) int {
	if len(senones) != m.NState {
		panic(fmt.Sprintf("model: triphone %v has %d senones, want %d", tri, len(senones), m.NState))
	}
	for _, s := range senones {
		if int(s) >= m.NSenones {
			m.NSenones = int(s) + 1
		}
	}
	for existing, ssid := range m.triToSsid {
		if existing == tri {
			return ssid
		}
	}
	for ssid, seq := range m.ssids {
		same := true
		for i := range seq {
			if seq[i] != senones[i] {
				same = false
				break
			}
		}
		if same {
			m.triToSsid[tri] = ssid
			return ssid
		}
	}
	ssid := len(m.ssids)
	cp := append([]SenoneID(nil), senones...)
	m.ssids = append(m.ssids, cp)
	m.triToSsid[tri] = ssid
	return ssid
}

// SsidFor looks up the senone-sequence id for a triphone. ok is false if
// this exact (base,left,right) was never observed; callers fall back to
// the base CI phone's own context-independent senone sequence (ssid for
// Triphone{Base: base, Left: base, Right: base} when present) or to the
// closest registered context per dict2pid's backoff classes.
func (m *Mdef) SsidFor(tri Triphone) (int, bool) {
	ssid, ok := m.triToSsid[tri]
	return ssid, ok
}

// Senones returns the per-state senone ids for ssid.
func (m *Mdef) Senones(ssid int) []SenoneID {
	if ssid < 0 || ssid >= len(m.ssids) {
		return nil
	}
	return m.ssids[ssid]
}

// LoadMdef reads the line-oriented mdef text table:
//
//	<version>
//	<n_ci_phones> <n_state>
//	# ci  left  right  wordpos  senone0 .. senoneN-1
//	AA    -     -      -        1023 1024 1025
//	AA    AA    B      i        1030 1031 1032
//	...
//
// "-" in left/right/wordpos means "none" (a CI-phone-only row); wordpos is
// unused by this port (kept only because the original format carries it)
// and is ignored beyond being a column placeholder.
func LoadMdef(path string) (*Mdef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "open mdef "+path, err)
	}
	defer f.Close()
	return ParseMdef(f)
}

// ParseMdef parses the mdef text format from r; split out from LoadMdef so
// tests can exercise it against an in-memory fixture.
func ParseMdef(r io.Reader) (*Mdef, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.IoError, "read mdef", err)
	}
	if len(lines) < 2 {
		return nil, errs.New(errs.InvalidModel, "mdef file too short")
	}

	// lines[0] is a version string, ignored beyond presence.
	counts := strings.Fields(lines[1])
	if len(counts) != 2 {
		return nil, errs.New(errs.InvalidModel, "mdef: malformed counts line")
	}
	nCI, err := strconv.Atoi(counts[0])
	if err != nil {
		return nil, errs.Wrap(errs.InvalidModel, "mdef: n_ci_phones", err)
	}
	nState, err := strconv.Atoi(counts[1])
	if err != nil {
		return nil, errs.Wrap(errs.InvalidModel, "mdef: n_state", err)
	}

	ciSeen := map[Phone]bool{}
	var ciOrder []Phone
	type row struct {
		tri     Triphone
		senones []SenoneID
	}
	var rows []row

	for _, line := range lines[2:] {
		f := strings.Fields(line)
		if len(f) < 4+nState {
			return nil, errs.New(errs.InvalidModel, "mdef: malformed row: "+line)
		}
		base, left, right := Phone(f[0]), Phone(f[1]), Phone(f[2])
		// f[3] is wordpos, unused.
		if left == "-" {
			left = base
			right = base
			if !ciSeen[base] {
				ciSeen[base] = true
				ciOrder = append(ciOrder, base)
			}
		}
		senones := make([]SenoneID, nState)
		for i := 0; i < nState; i++ {
			v, err := strconv.Atoi(f[4+i])
			if err != nil {
				return nil, errs.Wrap(errs.InvalidModel, "mdef: senone id", err)
			}
			senones[i] = SenoneID(v)
		}
		rows = append(rows, row{tri: Triphone{Base: base, Left: left, Right: right}, senones: senones})
	}

	if len(ciOrder) != nCI {
		return nil, errs.New(errs.InvalidModel, fmt.Sprintf("mdef: declared %d CI phones, found %d", nCI, len(ciOrder)))
	}

	m := NewMdef(ciOrder, nState)
	for _, rw := range rows {
		m.AddTriphone(rw.tri, rw.senones)
	}
	return m, nil
}

// EnsureDictionaryPhones checks that every phone used by d's entries is a
// known CI phone, surfacing ErrInvalidPhones at load time rather than
// failing deep inside lex-tree compilation. The built-in <s>, </s> and
// <sil> entries are not checked.
func (m *Mdef) EnsureDictionaryPhones(d *dict.Dictionary) error {
	for id := dict.WordID(0); int(id) < d.Len(); id++ {
		if d.IsFiller(id) {
			continue
		}
		e, _ := d.Entry(id)
		for _, p := range e.Phones {
			if !m.IsCIPhone(Phone(p)) {
				return errs.New(errs.InvalidPhones, fmt.Sprintf("word %q uses unknown phone %q", e.Word, p))
			}
		}
	}
	return nil
}
