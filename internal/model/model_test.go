package model

import (
	"strings"
	"testing"

	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureMdef = `0.3
2 3
# ci left right wordpos s0 s1 s2
AA - - - 0 1 2
SIL - - - 3 4 5
AA AA SIL b 6 7 8
`

func TestParseMdefAndInvariants(t *testing.T) {
	m, err := ParseMdef(strings.NewReader(fixtureMdef))
	require.NoError(t, err)
	assert.True(t, m.IsCIPhone("AA"))
	assert.True(t, m.IsCIPhone("SIL"))
	assert.False(t, m.IsCIPhone("ZZ"))

	ssid, ok := m.SsidFor(Triphone{Base: "AA", Left: "AA", Right: "SIL"})
	require.True(t, ok)
	assert.Equal(t, []SenoneID{6, 7, 8}, m.Senones(ssid))

	// every senid referenced is < n_sen (data model invariant)
	for i := 0; i < len(m.ssids); i++ {
		for _, sid := range m.Senones(i) {
			assert.Less(t, int(sid), m.NSenones)
		}
	}
}

func TestDict2PidBackoff(t *testing.T) {
	m, err := ParseMdef(strings.NewReader(fixtureMdef))
	require.NoError(t, err)
	d := dict.New()
	_, err = d.AddWord("A", []string{"AA"}, false)
	require.NoError(t, err)

	d2p, err := Build(m, d)
	require.NoError(t, err)

	// Exact triphone present.
	ssid, ok := d2p.Resolve("AA", "AA", "SIL")
	require.True(t, ok)
	assert.Equal(t, []SenoneID{6, 7, 8}, m.Senones(ssid))

	// Unseen context backs off to the CI form.
	ssid, ok = d2p.Resolve("AA", "ZZ", "ZZ")
	require.True(t, ok)
	assert.Equal(t, []SenoneID{0, 1, 2}, m.Senones(ssid))
}

func TestDict2PidRejectsUnknownPhone(t *testing.T) {
	m, err := ParseMdef(strings.NewReader(fixtureMdef))
	require.NoError(t, err)
	d := dict.New()
	_, err = d.AddWord("X", []string{"ZZZ"}, false)
	require.NoError(t, err)
	_, err = Build(m, d)
	require.Error(t, err)
}

func TestTmatStrideAddressing(t *testing.T) {
	tm := NewTmat(2, 3)
	tm.Set(1, 2, 3, -500)
	assert.Equal(t, int32(-500), tm.Get(1, 2, 3))
	assert.Equal(t, logmath.WorstScore, tm.Get(0, 0, 0))
}

func TestMgauScoreFrameSelectsBestDensity(t *testing.T) {
	lm := logmath.MustNew(logmath.DefaultBase)
	dim := 2
	means := []float32{0, 0, 10, 10}
	vars := []float32{1, 1, 1, 1}
	cb := newCodebook(2, dim, means, vars)
	weights := [][]int32{{lm.Log(0.5), lm.Log(0.5)}}
	g := NewMgau(lm, []*Codebook{cb}, []int{0}, weights, 2)

	scores := make([]int32, 1)
	active := []bool{true}
	g.ScoreFrame([]float32{0, 0}, active, scores, nil)
	assert.Greater(t, scores[0], logmath.WorstScore)

	idx, _ := cb.TopN([]float32{0, 0}, 1)
	assert.Equal(t, 0, idx[0])
}
