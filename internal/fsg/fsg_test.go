package fsg

import (
	"strings"
	"testing"

	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDict(t *testing.T) *dict.Dictionary {
	t.Helper()
	d := dict.New()
	for _, w := range []string{"go", "forward", "left", "right", "stop", "turtle"} {
		_, err := d.AddWord(w, []string{"AH"}, false)
		require.NoError(t, err)
	}
	return d
}

func TestParseTextBasic(t *testing.T) {
	src := `FSG_BEGIN demo
N 3
S 0
F 2
T 0 1 go
T 1 2 forward
FSG_END
`
	m, err := ParseText(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, m.NStates)
	assert.Equal(t, 0, m.Start)
	assert.True(t, m.Final[2])
	require.Len(t, m.Arcs, 2)
	assert.Equal(t, "go", m.WordText[m.Arcs[0].Word])
}

func TestParseTextMissingBeginIsError(t *testing.T) {
	_, err := ParseText(strings.NewReader("N 1\nS 0\nF 0\n"))
	assert.Error(t, err)
}

func TestCompileKeyphraseLoopsBackToStart(t *testing.T) {
	d := testDict(t)
	m, err := CompileKeyphrase("go forward", d)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Start)
	// There must be an arc returning to state 0 from the final state.
	final := m.NStates - 2
	found := false
	for _, a := range m.Arcs {
		if a.From == final+1 && a.To == 0 {
			found = true
		}
	}
	assert.True(t, found, "expected a loop-back arc to the start state")
}

func TestCompileKeyphraseUnknownWordErrors(t *testing.T) {
	d := testDict(t)
	_, err := CompileKeyphrase("go nowhere", d)
	assert.Error(t, err)
}

func TestCompileLinearOneArcPerWord(t *testing.T) {
	d := testDict(t)
	m, err := CompileLinear([]string{"go", "forward", "stop"}, d, false)
	require.NoError(t, err)
	assert.Len(t, m.Arcs, 3)
	assert.True(t, m.Final[3])
}

func TestCompileLinearWithFillerSilenceAddsSelfLoops(t *testing.T) {
	d := testDict(t)
	m, err := CompileLinear([]string{"go", "forward"}, d, true)
	require.NoError(t, err)
	// 2 word arcs + a <sil> self-loop at every one of the 3 states.
	assert.Len(t, m.Arcs, 2+3)
}

func TestCompileJSGFSequence(t *testing.T) {
	d := testDict(t)
	text := `#JSGF V1.0;
grammar demo;
public <move> = go forward;
`
	m, err := CompileJSGF(text, d)
	require.NoError(t, err)
	assert.Len(t, m.Arcs, 2)
}

func TestCompileJSGFAlternationAndOptional(t *testing.T) {
	d := testDict(t)
	text := `#JSGF V1.0;
grammar demo;
public <move> = go (left | right) [stop];
`
	m, err := CompileJSGF(text, d)
	require.NoError(t, err)
	assert.NotEmpty(t, m.Arcs)
	assert.True(t, m.Final[m.NStates-1] || len(m.Final) == 1)
}

func TestCompileJSGFUnknownWordErrors(t *testing.T) {
	d := testDict(t)
	text := `#JSGF V1.0;
grammar demo;
public <move> = nowhere;
`
	_, err := CompileJSGF(text, d)
	assert.Error(t, err)
}

func TestCompileJSGFMissingPublicRuleErrors(t *testing.T) {
	d := testDict(t)
	_, err := CompileJSGF("#JSGF V1.0;\ngrammar demo;\n", d)
	assert.Error(t, err)
}
