package dict

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMagicWordsPresent(t *testing.T) {
	d := New()
	assert.Equal(t, d.StartWordID(), d.Lookup(StartWord))
	assert.Equal(t, d.EndWordID(), d.Lookup(EndWord))
	assert.Equal(t, d.SilenceWordID(), d.Lookup(SilenceWord))
	assert.NotEqual(t, BadWordID, d.Lookup(SilenceWord))
}

func TestLoadBasic(t *testing.T) {
	d := New()
	err := d.LoadFiller(strings.NewReader("GO G OW\nFORWARD F AO R W ER D\nforward(2) F ER W ER D\n"))
	require.NoError(t, err)

	wid := d.Lookup("GO")
	require.NotEqual(t, BadWordID, wid)
	e, ok := d.Entry(wid)
	require.True(t, ok)
	assert.Equal(t, []string{"G", "OW"}, e.Phones)

	variants := d.Variants("FORWARD")
	assert.Len(t, variants, 2)
}

func TestAddWordIDStability(t *testing.T) {
	// Spec §8 property 7: wid(add_word(w)) = wid(lookup(w)), and ids
	// never shift for previously added words.
	rapid.Check(t, func(t *rapid.T) {
		d := New()
		words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 30).Draw(t, "words")
		assigned := map[string]WordID{}
		for i, w := range words {
			if _, seen := assigned[w]; seen {
				continue // AddWord on an existing surface form adds a variant, not a rebind
			}
			wid, err := d.AddWord(w, []string{"AH"}, false)
			require.NoError(t, err)
			assigned[w] = wid
			_ = i
		}
		for w, wid := range assigned {
			assert.Equal(t, wid, d.Lookup(w))
		}
	})
}

func TestAddWordRejectsEmptyPhones(t *testing.T) {
	d := New()
	_, err := d.AddWord("hello", nil, false)
	require.Error(t, err)
}
