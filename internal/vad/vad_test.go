package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loudFrame(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 20000
		} else {
			pcm[i] = -20000
		}
	}
	return pcm
}

func quietFrame(n int) []int16 {
	return make([]int16, n)
}

func TestClassifyLoudIsSpeech(t *testing.T) {
	assert.Equal(t, Speech, Classify(loudFrame(160), ModeQuality))
}

func TestClassifyQuietIsSilence(t *testing.T) {
	assert.Equal(t, Silence, Classify(quietFrame(160), ModeQuality))
}

func TestNewRejectsUnsupportedRate(t *testing.T) {
	_, err := New(Config{SampleRate: 11025})
	assert.Error(t, err)
}

func TestProcessorHangoverExtendsSpeech(t *testing.T) {
	p, err := New(Config{SampleRate: 16000, Mode: ModeQuality, FrameMs: 10, HangoverMs: 30})
	require.NoError(t, err)
	frameSamples := 160
	assert.Equal(t, Speech, p.Process(loudFrame(frameSamples)))
	// Energy drops immediately, but hangover (3 frames at 10ms/30ms) keeps
	// reporting Speech for a few more frames before falling back to Silence.
	assert.Equal(t, Speech, p.Process(quietFrame(frameSamples)))
	assert.Equal(t, Speech, p.Process(quietFrame(frameSamples)))
	assert.Equal(t, Speech, p.Process(quietFrame(frameSamples)))
	assert.Equal(t, Silence, p.Process(quietFrame(frameSamples)))
}

func TestResetClearsHangover(t *testing.T) {
	p, err := New(Config{SampleRate: 16000, Mode: ModeQuality})
	require.NoError(t, err)
	p.Process(loudFrame(160))
	p.Reset()
	assert.Equal(t, Silence, p.Process(quietFrame(160)))
}
