package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPCMParseWAVRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	wav, err := WrapPCM(pcm, 24000, 1, 16)
	require.NoError(t, err)
	require.Len(t, wav, 44+len(pcm))

	info, err := ParseWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, 24000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitsPerSample)
	assert.Equal(t, 44, info.DataOffset)
	assert.Equal(t, len(pcm), info.DataSize)
	assert.Equal(t, pcm, wav[info.DataOffset:info.DataOffset+info.DataSize])
}

func TestWrapPCMInvalidParameters(t *testing.T) {
	t.Parallel()

	_, err := WrapPCM(nil, 0, 1, 16)
	require.Error(t, err)
	_, err = WrapPCM(nil, 24000, 0, 16)
	require.Error(t, err)
	_, err = WrapPCM(nil, 24000, 1, 0)
	require.Error(t, err)
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: []byte("RIFF")},
		{name: "not riff", data: []byte("OGGSxxxxWAVEyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy")},
		{name: "not wave", data: []byte("RIFFxxxxAIFFyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseWAV(tc.data)

			require.Error(t, err)
		})
	}
}

func TestParseWAVSkipsExtraChunks(t *testing.T) {
	t.Parallel()

	// A LIST chunk between fmt and data, as some encoders emit.
	pcm := []byte{0xAA, 0xBB}
	base, err := WrapPCM(pcm, 44100, 2, 16)
	require.NoError(t, err)

	list := make([]byte, 8+4)
	copy(list[0:4], "LIST")
	binary.LittleEndian.PutUint32(list[4:8], 4)
	copy(list[8:12], "INFO")

	wav := make([]byte, 0, len(base)+len(list))
	wav = append(wav, base[:36]...) // RIFF header + fmt chunk
	wav = append(wav, list...)
	wav = append(wav, base[36:]...) // data chunk

	info, err := ParseWAV(wav)

	require.NoError(t, err)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, 36+len(list)+8, info.DataOffset)
	assert.Equal(t, pcm, wav[info.DataOffset:info.DataOffset+info.DataSize])
}

func TestConcatListEscapesQuotes(t *testing.T) {
	t.Parallel()

	list := concatList([]string{"/audio/plain.mp3", "/audio/it's here.mp3"})

	assert.Equal(t, "file '/audio/plain.mp3'\nfile '/audio/it'\\''s here.mp3'\n", list)
}

func TestParseProbeDuration(t *testing.T) {
	t.Parallel()

	d, err := parseProbeDuration("12.345000\n")
	require.NoError(t, err)
	assert.InDelta(t, 12.345, d.Seconds(), 1e-6)

	_, err = parseProbeDuration("N/A")
	require.Error(t, err)

	_, err = parseProbeDuration("")
	require.Error(t, err)
}
