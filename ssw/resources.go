package ssw

import (
	"os"
	"path/filepath"

	"github.com/soundswallower/soundswallower-go/internal/config"
	"github.com/soundswallower/soundswallower-go/internal/dict"
	"github.com/soundswallower/soundswallower-go/internal/errs"
	"github.com/soundswallower/soundswallower-go/internal/logmath"
	"github.com/soundswallower/soundswallower-go/internal/mllr"
	"github.com/soundswallower/soundswallower-go/internal/model"
	"github.com/soundswallower/soundswallower-go/internal/refcount"
)

// Resources bundles the reference-counted, immutable-after-construction
// model data spec §5 says may be shared across decoders: LogMath,
// Dictionary, Mdef, Tmat, and Mgau. FsgModel is not bundled here — it is
// decoder-specific search state built fresh by SetFsg/SetJsgf/etc.
type Resources struct {
	LogMath *refcount.Handle[*logmath.LogMath]
	Dict    *refcount.Handle[*dict.Dictionary]
	Mdef    *refcount.Handle[*model.Mdef]
	Tmat    *refcount.Handle[*model.Tmat]
	Mgau    *refcount.Handle[*model.Mgau]
}

// LoadResources builds a fresh Resources bundle from cfg: the acoustic
// model under cfg.HMM (mdef, means, variances, transition_matrices), the
// dictionary at cfg.Dict plus optional filler dictionary at cfg.FDict,
// and — if cfg.MLLR names a transform — pre-rotates the loaded Mgau's
// means in place before wrapping it. Each field starts with a reference
// count of 1, as if the caller had just retained it once.
func LoadResources(cfg config.Config) (*Resources, error) {
	lm := logmath.MustNew(logmath.DefaultBase)

	d := dict.New()
	if cfg.Dict != "" {
		loaded, err := dict.Load(cfg.Dict)
		if err != nil {
			return nil, err
		}
		d = loaded
	}
	if cfg.FDict != "" {
		f, err := os.Open(cfg.FDict)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "open filler dictionary "+cfg.FDict, err)
		}
		defer f.Close()
		if err := d.LoadFiller(f); err != nil {
			return nil, err
		}
	}

	if cfg.HMM == "" {
		return nil, errs.New(errs.InvalidConfig, "hmm: acoustic model directory is required")
	}
	mdefPath := filepath.Join(cfg.HMM, "mdef")
	mdef, err := model.LoadMdef(mdefPath)
	if err != nil {
		return nil, err
	}
	if err := mdef.EnsureDictionaryPhones(d); err != nil {
		return nil, err
	}

	tmatPath := filepath.Join(cfg.HMM, "transition_matrices")
	tmat, err := model.LoadTmat(tmatPath, lm)
	if err != nil {
		return nil, err
	}

	meansPath := filepath.Join(cfg.HMM, "means")
	varsPath := filepath.Join(cfg.HMM, "variances")
	weightsPath := filepath.Join(cfg.HMM, "mixture_weights")
	mgau, err := model.LoadMgau(meansPath, varsPath, weightsPath, lm, 4)
	if err != nil {
		return nil, err
	}

	if cfg.MLLR != "" {
		tr, err := mllr.Load(cfg.MLLR)
		if err != nil {
			return nil, err
		}
		if err := tr.Apply(mgau); err != nil {
			return nil, err
		}
	}

	return &Resources{
		LogMath: refcount.New(lm),
		Dict:    refcount.New(d),
		Mdef:    refcount.New(mdef),
		Tmat:    refcount.New(tmat),
		Mgau:    refcount.New(mgau),
	}, nil
}

// Retain increments the reference count on every field and returns r, so
// a second Decoder can share one Resources bundle without reloading the
// acoustic model from disk (spec §5: "LogMath, Dictionary, Mdef, Tmat,
// Mgau, FsgModel are reference-counted and may be shared across
// decoders").
func (r *Resources) Retain() (*Resources, error) {
	if _, err := r.LogMath.Retain(); err != nil {
		return nil, err
	}
	if _, err := r.Dict.Retain(); err != nil {
		return nil, err
	}
	if _, err := r.Mdef.Retain(); err != nil {
		return nil, err
	}
	if _, err := r.Tmat.Retain(); err != nil {
		return nil, err
	}
	if _, err := r.Mgau.Retain(); err != nil {
		return nil, err
	}
	return r, nil
}

// Release decrements the reference count on every field, joining any
// errors encountered (e.g. a double-release).
func (r *Resources) Release() error {
	var errsList []error
	if err := r.LogMath.Release(); err != nil {
		errsList = append(errsList, err)
	}
	if err := r.Dict.Release(); err != nil {
		errsList = append(errsList, err)
	}
	if err := r.Mdef.Release(); err != nil {
		errsList = append(errsList, err)
	}
	if err := r.Tmat.Release(); err != nil {
		errsList = append(errsList, err)
	}
	if err := r.Mgau.Release(); err != nil {
		errsList = append(errsList, err)
	}
	if len(errsList) == 0 {
		return nil
	}
	return errsList[0]
}
