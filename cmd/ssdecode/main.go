// Command ssdecode decodes one WAV file against a grammar named by
// flags and prints the recognized hypothesis, the thin CLI wrapper
// SPEC_FULL.md §16 describes around package ssw.
package main

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/pflag"

	"github.com/soundswallower/soundswallower-go/internal/config"
	"github.com/soundswallower/soundswallower-go/internal/wavfile"
	"github.com/soundswallower/soundswallower-go/ssw"
)

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: ssdecode --hmm DIR --dict FILE [--fsg FILE | --jsgf FILE | --keyphrase TEXT] audio.wav\n\n")
	fs.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "ssdecode:", err)
	os.Exit(1)
}

func main() {
	fs := pflag.NewFlagSet("ssdecode", pflag.ContinueOnError)
	cfg, err := config.FromFlags(fs, os.Args[1:])
	if err != nil {
		usage(fs)
		os.Exit(2)
	}
	args := fs.Args()
	if len(args) != 1 {
		usage(fs)
		os.Exit(2)
	}

	pcm, err := wavfile.Load(args[0])
	if err != nil {
		fatal(err)
	}
	cfg.SampRate = pcm.SampleRate

	dec, err := ssw.New(ssw.WithConfig(*cfg))
	if err != nil {
		fatal(err)
	}
	defer dec.Release()

	if err := dec.StartUtt(); err != nil {
		fatal(err)
	}
	if _, err := dec.ProcessRaw(pcm.Samples, false, true); err != nil {
		fatal(err)
	}
	if err := dec.EndUtt(); err != nil {
		fatal(err)
	}

	text, score := dec.Hyp()
	fmt.Printf("%s (score=%d", text, score)
	if prob := dec.Prob(); !math.IsInf(prob, -1) {
		fmt.Printf(", logprob=%.3f", prob)
	}
	fmt.Println(")")
}
