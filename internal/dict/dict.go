// Package dict implements the pronunciation dictionary: the mapping from
// word strings to word ids and their phone sequences, including the magic
// <s>/</s>/<sil> entries every recognizer relies on.
package dict

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// WordID identifies a dictionary entry. Ids are assigned in insertion
// order and never change once assigned (spec §8 property 7).
type WordID int32

// BadWordID is returned by Lookup for words that are not in the
// dictionary.
const BadWordID WordID = -1

const (
	StartWord   = "<s>"
	EndWord     = "</s>"
	SilenceWord = "<sil>"
)

// Entry is one dictionary row: a surface word form and its phone
// sequence.
type Entry struct {
	Word   string
	Phones []string
}

// Dictionary is the append-only pronunciation lexicon. It is safe to share
// read-only across decoders; AddWord is only legal while no decoder
// sharing it is in the Processing state (enforced by the caller, the root
// Decoder, not by Dictionary itself).
type Dictionary struct {
	entries []Entry
	byWord  map[string][]WordID // lower-cased base word -> all its pronunciation variants, in order

	startWID WordID
	endWID   WordID
	silWID   WordID
}

// New builds an empty dictionary with the three magic words synthesized,
// matching spec's "<s>, </s>, <sil> always present" invariant.
func New() *Dictionary {
	d := &Dictionary{byWord: map[string][]WordID{}}
	d.startWID = d.append(StartWord, nil)
	d.endWID = d.append(EndWord, nil)
	d.silWID = d.append(SilenceWord, []string{"SIL"})
	return d
}

// Load reads a PocketSphinx-format dictionary file: one entry per line,
// "word<TAB or spaces>P1 P2 P3", with alternate pronunciations suffixed
// "word(2)". It builds a New dictionary (with the magic words) and merges
// the file into it through LoadFiller; a filler dictionary (fdict) is
// structurally identical and is merged the same way.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "open dictionary "+path, err)
	}
	defer f.Close()
	d := New()
	if err := d.LoadFiller(f); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadFiller merges entries from r into an existing Dictionary, used both
// for the main dictionary body and for a separate filler dictionary (§6
// "dict, fdict").
func (d *Dictionary) LoadFiller(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";;") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return errs.New(errs.InvalidPhones, fmt.Sprintf("dictionary line %d: need word and phones", lineNo))
		}
		word := fields[0]
		phones := fields[1:]
		for _, p := range phones {
			if p == "" {
				return errs.New(errs.InvalidPhones, fmt.Sprintf("dictionary line %d: empty phone", lineNo))
			}
		}
		if _, err := d.AddWord(word, phones, false); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// baseWord strips a "(N)" alternate-pronunciation suffix, e.g. "the(2)" ->
// "the". This is the S3 dictionary convention for homographs with
// multiple pronunciations.
func baseWord(word string) string {
	if i := strings.LastIndexByte(word, '('); i > 0 && strings.HasSuffix(word, ")") {
		if _, err := strconv.Atoi(word[i+1 : len(word)-1]); err == nil {
			return word[:i]
		}
	}
	return word
}

func (d *Dictionary) append(word string, phones []string) WordID {
	id := WordID(len(d.entries))
	d.entries = append(d.entries, Entry{Word: word, Phones: phones})
	key := strings.ToLower(word)
	base := baseWord(key)
	d.byWord[key] = append(d.byWord[key], id)
	if base != key {
		d.byWord[base] = append(d.byWord[base], id)
	}
	return id
}

// AddWord appends a new pronunciation to the dictionary. It never changes
// the id of a previously added word (spec §8 property 7); calling AddWord
// again with the exact same surface form adds an alternate pronunciation
// rather than replacing the existing one. update is accepted for API
// parity with spec §6's add_word(text, phones, update) but lex-tree
// rebuilding is the caller's (root Decoder's) responsibility.
func (d *Dictionary) AddWord(word string, phones []string, update bool) (WordID, error) {
	if word == "" {
		return BadWordID, errs.New(errs.InvalidPhones, "empty word")
	}
	if len(phones) == 0 {
		return BadWordID, errs.New(errs.InvalidPhones, "word "+word+" has no phones")
	}
	_ = update
	return d.append(word, phones), nil
}

// Lookup returns the WordID of the first pronunciation of word, or
// BadWordID if word is unknown. Matching ignores letter case.
func (d *Dictionary) Lookup(word string) WordID {
	ids := d.byWord[strings.ToLower(word)]
	if len(ids) == 0 {
		return BadWordID
	}
	return ids[0]
}

// Variants returns every pronunciation variant's WordID for word (base
// form, ignoring any "(N)" suffix and letter case), in the order they were
// added.
func (d *Dictionary) Variants(word string) []WordID {
	return append([]WordID(nil), d.byWord[baseWord(strings.ToLower(word))]...)
}

// Entry returns the Entry for id, or (Entry{}, false) if id is out of
// range.
func (d *Dictionary) Entry(id WordID) (Entry, bool) {
	if id < 0 || int(id) >= len(d.entries) {
		return Entry{}, false
	}
	return d.entries[id], true
}

// Len returns the number of dictionary entries, including the three magic
// words.
func (d *Dictionary) Len() int { return len(d.entries) }

func (d *Dictionary) StartWordID() WordID   { return d.startWID }
func (d *Dictionary) EndWordID() WordID     { return d.endWID }
func (d *Dictionary) SilenceWordID() WordID { return d.silWID }

// IsFiller reports whether id names a non-pronounceable bookkeeping word
// (<s>, </s>, <sil>) that should not appear in a reported hypothesis.
func (d *Dictionary) IsFiller(id WordID) bool {
	return id == d.startWID || id == d.endWID || id == d.silWID
}
