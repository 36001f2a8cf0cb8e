package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, overlays it onto
// Defaults, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "config: open "+path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes a YAML config from r, overlays it onto
// Defaults, and validates it. Useful in tests where configs are built
// from string literals rather than files on disk.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.InvalidConfig, "config: decode yaml", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var supportedSampRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

var validLogLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true}

// Validate checks that cfg contains a coherent, supported set of values,
// returning a joined error listing every problem found (spec §6/§7:
// InvalidConfig "the moment a required key is missing or malformed").
func Validate(cfg *Config) error {
	var problems []error

	if cfg.SampRate != 0 && !supportedSampRates[cfg.SampRate] {
		problems = append(problems, fmt.Errorf("samprate %d is unsupported (must be 8000, 16000, 32000, or 48000)", cfg.SampRate))
	}
	if cfg.Transform != "" && cfg.Transform != "dct" && cfg.Transform != "htk" {
		problems = append(problems, fmt.Errorf("transform %q is invalid; valid values: dct, htk", cfg.Transform))
	}
	if cfg.CMN != "" && cfg.CMN != "batch" && cfg.CMN != "live" && cfg.CMN != "none" {
		problems = append(problems, fmt.Errorf("cmn %q is invalid; valid values: batch, live, none", cfg.CMN))
	}
	if cfg.AGC != "" && cfg.AGC != "none" {
		problems = append(problems, fmt.Errorf("agc %q is invalid; only \"none\" is supported", cfg.AGC))
	}
	if cfg.LogLevel != "" && !validLogLevels[cfg.LogLevel] {
		problems = append(problems, fmt.Errorf("loglevel %q is invalid; valid values: DEBUG, INFO, WARN, ERROR, FATAL", cfg.LogLevel))
	}

	grammarKeysSet := 0
	for _, v := range []string{cfg.Fsg, cfg.Jsgf, cfg.Kws, cfg.Keyphrase, cfg.AlignText} {
		if v != "" {
			grammarKeysSet++
		}
	}
	if grammarKeysSet > 1 {
		problems = append(problems, fmt.Errorf("fsg, jsgf, kws, keyphrase, and align are mutually exclusive; at most one may be set"))
	}

	joined := errors.Join(problems...)
	if joined != nil {
		return errs.Wrap(errs.InvalidConfig, "config: validation failed", joined)
	}
	return nil
}

// FromFlags registers every spec §6 config key as a flag on fs, parses
// args against it, and validates the result — the same
// `pflag.StringP`/`pflag.IntP` style the teacher's own `cmd/direwolf`
// uses, but against a FlagSet the caller owns rather than the package
// global, so cmd/ front ends can add their own flags alongside these.
func FromFlags(fs *pflag.FlagSet, args []string) (*Config, error) {
	cfg := Defaults()

	fs.StringVar(&cfg.HMM, "hmm", cfg.HMM, "path to acoustic model directory")
	fs.StringVar(&cfg.Dict, "dict", cfg.Dict, "path to pronunciation dictionary")
	fs.StringVar(&cfg.FDict, "fdict", cfg.FDict, "path to filler dictionary")
	fs.StringVar(&cfg.MLLR, "mllr", cfg.MLLR, "path to MLLR speaker-adaptation transform")

	fs.StringVar(&cfg.Fsg, "fsg", cfg.Fsg, "path to FSG grammar")
	fs.StringVar(&cfg.Jsgf, "jsgf", cfg.Jsgf, "path to JSGF grammar")
	fs.StringVar(&cfg.Kws, "kws", cfg.Kws, "path to keyword spotting list")
	fs.StringVar(&cfg.Keyphrase, "keyphrase", cfg.Keyphrase, "single keyphrase to spot")
	fs.StringVar(&cfg.Toprule, "toprule", cfg.Toprule, "top-level JSGF rule name")
	fs.StringVar(&cfg.AlignText, "align", cfg.AlignText, "text to force-align")

	fs.IntVar(&cfg.SampRate, "samprate", cfg.SampRate, "input sample rate in Hz")
	fs.IntVar(&cfg.Frate, "frate", cfg.Frate, "analysis frames per second")
	fs.IntVar(&cfg.NFilt, "nfilt", cfg.NFilt, "number of mel filters")
	fs.IntVar(&cfg.NCep, "ncep", cfg.NCep, "number of cepstral coefficients")
	fs.Float64Var(&cfg.Wlen, "wlen", cfg.Wlen, "analysis window length in seconds")
	fs.StringVar(&cfg.Transform, "transform", cfg.Transform, "cepstral transform: dct or htk")
	fs.IntVar(&cfg.Lifter, "lifter", cfg.Lifter, "cepstral liftering coefficient")
	fs.StringVar(&cfg.InputEndian, "input-endian", cfg.InputEndian, "input sample byte order")
	fs.StringVar(&cfg.CMN, "cmn", cfg.CMN, "cepstral mean normalization: batch, live, or none")
	fs.BoolVar(&cfg.VarNorm, "varnorm", cfg.VarNorm, "enable variance normalization")
	fs.StringVar(&cfg.AGC, "agc", cfg.AGC, "automatic gain control mode")
	fs.StringVar(&cfg.Feat, "feat", cfg.Feat, "feature stream type, e.g. 1s_c_d_dd")
	fs.StringVar(&cfg.LDA, "lda", cfg.LDA, "path to LDA transform matrix")
	fs.IntVar(&cfg.LDADim, "ldadim", cfg.LDADim, "output dimension after LDA")

	fs.Float64Var(&cfg.Beam, "beam", cfg.Beam, "state pruning beam (linear, pre-log)")
	fs.Float64Var(&cfg.PBeam, "pbeam", cfg.PBeam, "phone-exit pruning beam (linear, pre-log)")
	fs.Float64Var(&cfg.WBeam, "wbeam", cfg.WBeam, "word pruning beam (linear, pre-log)")
	fs.Float64Var(&cfg.LW, "lw", cfg.LW, "language weight")
	fs.Float64Var(&cfg.WIP, "wip", cfg.WIP, "word insertion penalty")
	fs.Float64Var(&cfg.PIP, "pip", cfg.PIP, "phone insertion penalty")
	fs.BoolVar(&cfg.Bestpath, "bestpath", cfg.Bestpath, "run lattice best-path search")
	fs.IntVar(&cfg.MaxHMMPF, "maxhmmpf", cfg.MaxHMMPF, "max active HMMs per frame")
	fs.IntVar(&cfg.MaxWPF, "maxwpf", cfg.MaxWPF, "max active words per frame")

	fs.StringVar(&cfg.LogFn, "logfn", cfg.LogFn, "log output file (empty means stderr)")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level: DEBUG, INFO, WARN, ERROR, FATAL")

	if err := fs.Parse(args); err != nil {
		return nil, errs.Wrap(errs.InvalidConfig, "config: parse flags", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
