package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPCMToWAVRoundTrip(t *testing.T) {
	pcm := makeTone(1600, 700)
	wav := PCMToWAV(pcm, 16000)

	require.Len(t, wav, WAVHeaderSize+len(pcm))
	require.True(t, bytes.Equal(wav[WAVHeaderSize:], pcm), "payload must equal input PCM")

	info, err := ParseWAVHeader(wav)
	require.NoError(t, err)
	require.Equal(t, 16000, info.SampleRate)
	require.Equal(t, 1, info.Channels)
	require.Equal(t, 16, info.BitsPerSample)
	require.Equal(t, len(pcm), info.DataSize)
}

func TestPCMToWAVDeterministic(t *testing.T) {
	pcm := makeTone(320, 123)
	a := PCMToWAV(pcm, 16000)
	b := PCMToWAV(pcm, 16000)
	require.True(t, bytes.Equal(a, b), "same input must produce identical bytes")
}

func TestPCMToWAVHeaderFields(t *testing.T) {
	wav := PCMToWAV(make([]byte, 100), 16000)

	require.Equal(t, "RIFF", string(wav[0:4]))
	require.Equal(t, "WAVE", string(wav[8:12]))
	require.Equal(t, "fmt ", string(wav[12:16]))
	require.Equal(t, "data", string(wav[36:40]))
	// Chunk size = 36 + dataSize.
	require.Equal(t, byte(136), wav[4])
}

func TestParseWAVHeaderRejectsGarbage(t *testing.T) {
	_, err := ParseWAVHeader([]byte("not a wav"))
	require.Error(t, err)

	bad := PCMToWAV(nil, 16000)
	copy(bad[0:4], "JUNK")
	_, err = ParseWAVHeader(bad)
	require.Error(t, err)
}
