// Package vad implements a simple energy-threshold voice-activity
// detector with hangover, operating directly on raw PCM ahead of the
// recognition pipeline — the same "decide before the expensive stage
// runs" shape as a carrier-detect squelch gate ahead of a demodulator.
package vad

import (
	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// VadState is the classification of one frame of audio.
type VadState int

const (
	Silence VadState = iota
	Speech
)

// Mode selects detector aggressiveness, 0 (least aggressive, biased
// toward classifying borderline frames as speech) to 3 (most
// aggressive, biased toward silence).
type Mode int

const (
	ModeQuality Mode = iota
	ModeLowBitrate
	ModeAggressive
	ModeVeryAggressive
)

var supportedRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

// thresholdFor returns the mean-squared-energy threshold below which a
// frame is classified Silence, scaled by mode: higher modes require more
// energy before calling a frame Speech.
func thresholdFor(mode Mode) float64 {
	switch mode {
	case ModeQuality:
		return 2e5
	case ModeLowBitrate:
		return 5e5
	case ModeAggressive:
		return 1e6
	case ModeVeryAggressive:
		return 2e6
	default:
		return 5e5
	}
}

// Config configures a Processor.
type Config struct {
	SampleRate int
	Mode       Mode
	FrameMs    int // analysis frame length, default 10ms
	HangoverMs int // milliseconds of trailing Speech kept after energy drops, default 300
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FrameMs == 0 {
		out.FrameMs = 10
	}
	if out.HangoverMs == 0 {
		out.HangoverMs = 300
	}
	return out
}

// energy computes the mean squared amplitude of a PCM frame.
func energy(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
	}
	return sum / float64(len(pcm))
}

// Classify classifies one PCM frame in isolation, with no hangover state.
func Classify(pcm []int16, mode Mode) VadState {
	if energy(pcm) >= thresholdFor(mode) {
		return Speech
	}
	return Silence
}

// Processor adds hangover across a stream of frames: once energy rises
// above threshold, state stays Speech for HangoverMs after it drops back
// down, so a detector downstream does not chop off trailing consonants.
type Processor struct {
	cfg           Config
	hangoverFrames int
	remaining     int
}

// New validates cfg and builds a Processor.
func New(cfg Config) (*Processor, error) {
	c := cfg.withDefaults()
	if !supportedRates[c.SampleRate] {
		return nil, errs.New(errs.InvalidConfig, "vad: unsupported sample rate")
	}
	frameSamples := c.SampleRate * c.FrameMs / 1000
	if frameSamples <= 0 {
		return nil, errs.New(errs.InvalidConfig, "vad: frame length too small")
	}
	hangoverFrames := c.HangoverMs / c.FrameMs
	return &Processor{cfg: c, hangoverFrames: hangoverFrames}, nil
}

// Reset clears hangover state, e.g. at the start of a new stream.
func (p *Processor) Reset() { p.remaining = 0 }

// Process classifies one frame, applying hangover across calls.
func (p *Processor) Process(pcm []int16) VadState {
	if Classify(pcm, p.cfg.Mode) == Speech {
		p.remaining = p.hangoverFrames
		return Speech
	}
	if p.remaining > 0 {
		p.remaining--
		return Speech
	}
	return Silence
}
