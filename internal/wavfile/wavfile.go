// Package wavfile reads WAV audio into the mono 16-bit PCM samples
// ssw.Decoder.ProcessRaw expects, for the cmd/ssdecode and cmd/ssalign
// front ends — spec.md names no container format of its own, leaving
// "get audio from somewhere" to the caller.
package wavfile

import (
	"io"
	"os"

	"github.com/go-audio/wav"

	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// PCM is one decoded utterance: mono 16-bit samples plus the rate they
// were recorded at.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// Load reads the WAV file at path.
func Load(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "wavfile: open "+path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a WAV stream from r, downmixing to mono by averaging
// channels when the file carries more than one.
func Decode(r io.Reader) (*PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errs.New(errs.IoError, "wavfile: not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "wavfile: decode PCM", err)
	}

	nChan := int(dec.NumChans)
	if nChan < 1 {
		nChan = 1
	}
	nFrames := len(buf.Data) / nChan
	samples := make([]int16, nFrames)
	for i := 0; i < nFrames; i++ {
		var sum int
		for c := 0; c < nChan; c++ {
			sum += buf.Data[i*nChan+c]
		}
		samples[i] = int16(sum / nChan)
	}

	return &PCM{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}
