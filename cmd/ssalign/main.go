// Command ssalign force-aligns one WAV file against known text and
// prints the resulting word/phone/state segmentation, the thin CLI
// wrapper SPEC_FULL.md §16 describes around package ssw's forced
// alignment path (spec §4.5).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/soundswallower/soundswallower-go/internal/config"
	"github.com/soundswallower/soundswallower-go/internal/wavfile"
	"github.com/soundswallower/soundswallower-go/ssw"
)

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: ssalign --hmm DIR --dict FILE --align \"word word word\" audio.wav\n\n")
	fs.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "ssalign:", err)
	os.Exit(1)
}

func main() {
	fs := pflag.NewFlagSet("ssalign", pflag.ContinueOnError)
	cfg, err := config.FromFlags(fs, os.Args[1:])
	if err != nil {
		usage(fs)
		os.Exit(2)
	}
	args := fs.Args()
	if len(args) != 1 || cfg.AlignText == "" {
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

	printSegments(dec)
}

// printSegments walks the word/phone/state alignment tree depth-first,
// indenting each level, matching the "linear traversal plus children of
// current" shape of align.WordIter/PhoneIter/StateIter.
func printSegments(dec *ssw.Decoder) {
	words := dec.SegIter()
	if words == nil {
		fmt.Println("(no alignment)")
		return
	}
	for words.Next() {
		w := words.Value()
		fmt.Printf("%-12s [%5d,%5d) score=%d\n", dec.WordText(w.Wid), w.Start, w.Start+w.Duration, w.Score)

		phones := words.Children()
		for phones.Next() {
			p := phones.Value()
			fmt.Printf("  %-8s [%5d,%5d) score=%d\n", p.Phone, p.Start, p.Start+p.Duration, p.Score)

			states := phones.Children()
			for states.Next() {
				s := states.Value()
				fmt.Printf("    s%-2d [%5d,%5d) score=%d\n", s.State, s.Start, s.Start+s.Duration, s.Score)
			}
		}
	}
}
