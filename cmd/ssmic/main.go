// Command ssmic decodes live speech from the default microphone,
// gating utterances on voice activity, the thin CLI wrapper
// SPEC_FULL.md §16 describes around package ssw's streaming path —
// grounded on the corpus's portaudio capture-loop idiom rather than the
// teacher, which has no audio-device concern of its own.
package main

import (
	"fmt"
	"os"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"github.com/soundswallower/soundswallower-go/internal/config"
	"github.com/soundswallower/soundswallower-go/internal/vad"
	"github.com/soundswallower/soundswallower-go/ssw"
)

const frameMs = 20

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: ssmic --hmm DIR --dict FILE [--fsg FILE | --jsgf FILE | --keyphrase TEXT]\n\n")
	fs.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "ssmic:", err)
	os.Exit(1)
}

func main() {
	fs := pflag.NewFlagSet("ssmic", pflag.ContinueOnError)
	cfg, err := config.FromFlags(fs, os.Args[1:])
	if err != nil {
		usage(fs)
		os.Exit(2)
	}
	if cfg.SampRate == 0 {
		cfg.SampRate = 16000
	}

	if err := portaudio.Initialize(); err != nil {
		fatal(err)
	}
	defer portaudio.Terminate()

	dec, err := ssw.New(ssw.WithConfig(*cfg))
	if err != nil {
		fatal(err)
	}
	defer dec.Release()

	detector, err := vad.New(vad.Config{SampleRate: cfg.SampRate, Mode: vad.ModeLowBitrate, FrameMs: frameMs})
	if err != nil {
		fatal(err)
	}

	frameSamples := cfg.SampRate * frameMs / 1000
	frame := make([]int16, frameSamples)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampRate), frameSamples, frame)
	if err != nil {
		fatal(err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		fatal(err)
	}
	defer stream.Stop()

	fmt.Fprintln(os.Stderr, "ssmic: listening, Ctrl-C to stop")

	inUtt := false
	for {
		if err := stream.Read(); err != nil {
			fatal(err)
		}

		switch detector.Process(frame) {
		case vad.Speech:
			if !inUtt {
				if err := dec.StartUtt(); err != nil {
					fatal(err)
				}
				inUtt = true
			}
			if _, err := dec.ProcessRaw(frame, false, false); err != nil {
				fatal(err)
			}
		case vad.Silence:
			if inUtt {
				if err := dec.EndUtt(); err != nil {
					fatal(err)
				}
				inUtt = false
				if text, score := dec.Hyp(); text != "" {
					fmt.Printf("%s (score=%d)\n", text, score)
				}
				detector.Reset()
			}
		}
	}
}
