package ssw

import (
	"github.com/charmbracelet/log"
	"github.com/soundswallower/soundswallower-go/internal/config"
)

// Option configures a Decoder at construction time, realizing spec §6's
// "init(config)" as the idiomatic Go functional-options constructor
// `ssw.New(opts ...Option)` SPEC_FULL.md §0.2 calls for, layered on top
// of internal/config.Config so the same keys are reachable from YAML,
// flags, or code.
type Option func(*options)

type options struct {
	cfg       config.Config
	logger    *log.Logger
	resources *Resources
}

// WithConfig seeds every spec §6 config key from cfg (as loaded by
// config.Load/LoadFromReader/FromFlags).
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger injects a caller-owned logger (spec §6: "a caller-installed
// sink"), overriding the package default (stderr at WARN).
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithResources shares an already-loaded Resources bundle (retaining it)
// instead of loading the acoustic model and dictionary from cfg.HMM/
// cfg.Dict again, realizing spec §5's "multiple decoders may share
// LogMath, Dictionary, Mdef, Tmat, Mgau."
func WithResources(r *Resources) Option {
	return func(o *options) { o.resources = r }
}

func buildOptions(opts ...Option) options {
	o := options{cfg: config.Defaults()}
	for _, apply := range opts {
		apply(&o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if lvl, ok := levelFromString(o.cfg.LogLevel); ok {
		o.logger.SetLevel(lvl)
	}
	return o
}
