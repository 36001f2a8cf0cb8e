// Package config provides the configuration schema and loader for a
// soundswallower-go decoder: everything spec.md §6's config-options table
// names, as a plain struct with yaml tags, loadable from a file, a
// reader, or parsed command-line flags.
package config

// Config is every recognized configuration key from spec.md §6, plus
// `mllr` (the supplemental speaker-adaptation transform path named in
// SPEC_FULL.md §14, absent from spec.md's table because that section
// predates the MLLR supplement).
type Config struct {
	// Model and dictionary paths.
	HMM   string `yaml:"hmm" flag:"hmm"`     // directory with mdef/means/variances/sendump/transition_matrices/feat.params
	Dict  string `yaml:"dict" flag:"dict"`   // main pronunciation dictionary
	FDict string `yaml:"fdict" flag:"fdict"` // filler dictionary
	MLLR  string `yaml:"mllr" flag:"mllr"`   // optional speaker-adaptation transform

	// Grammar sources — mutually exclusive, at most one set.
	Fsg        string `yaml:"fsg" flag:"fsg"`
	Jsgf       string `yaml:"jsgf" flag:"jsgf"`
	Kws        string `yaml:"kws" flag:"kws"`
	Keyphrase  string `yaml:"keyphrase" flag:"keyphrase"`
	Toprule    string `yaml:"toprule" flag:"toprule"`
	AlignText  string `yaml:"align" flag:"align"`

	// Frontend / feature extraction.
	SampRate     int     `yaml:"samprate" flag:"samprate"`
	Frate        int     `yaml:"frate" flag:"frate"`
	NFilt        int     `yaml:"nfilt" flag:"nfilt"`
	NCep         int     `yaml:"ncep" flag:"ncep"`
	Wlen         float64 `yaml:"wlen" flag:"wlen"`
	Transform    string  `yaml:"transform" flag:"transform"` // "dct" or "htk"
	Lifter       int     `yaml:"lifter" flag:"lifter"`
	InputEndian  string  `yaml:"input_endian" flag:"input-endian"`
	CMN          string  `yaml:"cmn" flag:"cmn"` // "batch", "live", or "none"
	VarNorm      bool    `yaml:"varnorm" flag:"varnorm"`
	AGC          string  `yaml:"agc" flag:"agc"` // "none"
	Feat         string  `yaml:"feat" flag:"feat"` // e.g. "1s_c_d_dd"
	LDA          string  `yaml:"lda" flag:"lda"`
	LDADim       int     `yaml:"ldadim" flag:"ldadim"`

	// Search thresholds and weights.
	Beam     float64 `yaml:"beam" flag:"beam"`
	PBeam    float64 `yaml:"pbeam" flag:"pbeam"`
	WBeam    float64 `yaml:"wbeam" flag:"wbeam"`
	LW       float64 `yaml:"lw" flag:"lw"`
	WIP      float64 `yaml:"wip" flag:"wip"`
	PIP      float64 `yaml:"pip" flag:"pip"`
	Bestpath bool    `yaml:"bestpath" flag:"bestpath"`
	MaxHMMPF int     `yaml:"maxhmmpf" flag:"maxhmmpf"`
	MaxWPF   int     `yaml:"maxwpf" flag:"maxwpf"`

	// Logging.
	LogFn    string `yaml:"logfn" flag:"logfn"`
	LogLevel string `yaml:"loglevel" flag:"loglevel"`
}

// Defaults returns a Config with every spec-mandated default filled in:
// frate 100, beam/pbeam 1e-48, wbeam 7e-29 (pre-log, as spec.md §6
// states them), lw 6.5, loglevel WARN.
func Defaults() Config {
	return Config{
		Frate:    100,
		Beam:     1e-48,
		PBeam:    1e-48,
		WBeam:    7e-29,
		LW:       6.5,
		LogLevel: "WARN",
	}
}
