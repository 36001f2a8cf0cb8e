package wavfile

import (
	"os"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

func writeTestWav(t *testing.T, samples []int, numChans int) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "wavfile-*.wav")
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 16000, 16, numChans, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: 16000, NumChannels: numChans},
		Data:           samples,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	return f.Name()
}

func TestDecodeMonoRoundTrips(t *testing.T) {
	path := writeTestWav(t, []int{0, 100, -100, 32000}, 1)
	pcm, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16000, pcm.SampleRate)
	require.Equal(t, []int16{0, 100, -100, 32000}, pcm.Samples)
}

func TestDecodeStereoAverages(t *testing.T) {
	// frame0 = (100, 300) -> 200; frame1 = (-10, -30) -> -20
	path := writeTestWav(t, []int{100, 300, -10, -30}, 2)
	pcm, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []int16{200, -20}, pcm.Samples)
}
