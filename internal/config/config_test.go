package config

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`hmm: /models/en-us
dict: /models/en-us.dict
`))
	require.NoError(t, err)
	assert.Equal(t, "/models/en-us", cfg.HMM)
	assert.Equal(t, 100, cfg.Frate)
	assert.Equal(t, 1e-48, cfg.Beam)
	assert.Equal(t, "WARN", cfg.LogLevel)
}

func TestLoadFromReaderOverridesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`frate: 50
loglevel: DEBUG
`))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Frate)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadFromReaderRejectsUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`bogus_key: 1`))
	assert.Error(t, err)
}

func TestValidateRejectsUnsupportedSampRate(t *testing.T) {
	cfg := Defaults()
	cfg.SampRate = 11025
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsMultipleGrammarKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Fsg = "a.fsg"
	cfg.Jsgf = "b.jsgf"
	assert.Error(t, Validate(&cfg))
}

func TestValidateAcceptsOneGrammarKey(t *testing.T) {
	cfg := Defaults()
	cfg.Jsgf = "b.jsgf"
	assert.NoError(t, Validate(&cfg))
}

func TestValidateRejectsBadTransform(t *testing.T) {
	cfg := Defaults()
	cfg.Transform = "fft"
	assert.Error(t, Validate(&cfg))
}

func TestFromFlagsParsesAndValidates(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := FromFlags(fs, []string{"--hmm=/m", "--samprate=16000", "--beam=1e-40"})
	require.NoError(t, err)
	assert.Equal(t, "/m", cfg.HMM)
	assert.Equal(t, 16000, cfg.SampRate)
	assert.Equal(t, 1e-40, cfg.Beam)
}

func TestFromFlagsSurfacesValidationError(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	_, err := FromFlags(fs, []string{"--samprate=11025"})
	assert.Error(t, err)
}
