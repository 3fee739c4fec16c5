package tts

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSSML(t *testing.T) {
	t.Parallel()

	got := buildSSML("Tom & Jerry <3", "en-US-AriaNeural")
	assert.True(t, strings.HasPrefix(got, "<speak version='1.0'"))
	assert.True(t, strings.HasSuffix(got, "</voice></speak>"))
	assert.Contains(t, got, "<voice name='en-US-AriaNeural'>")
	assert.Contains(t, got, "Tom &amp; Jerry &lt;3")
}

func binaryFrame(headers string, payload []byte) []byte {
	frame := make([]byte, 2+len(headers), 2+len(headers)+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(headers)))
	copy(frame[2:], headers)
	return append(frame, payload...)
}

func TestEdgeAudioPayload(t *testing.T) {
	t.Parallel()

	frame := binaryFrame("X-RequestId:abc\r\nPath:audio\r\n", []byte{1, 2, 3})

	payload, ok := edgeAudioPayload(frame)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestEdgeAudioPayloadRejectsNonAudio(t *testing.T) {
	t.Parallel()

	frame := binaryFrame("Path:turn.start\r\n", []byte{1, 2, 3})

	_, ok := edgeAudioPayload(frame)
	assert.False(t, ok)
}

func TestEdgeAudioPayloadRejectsMalformedFrames(t *testing.T) {
	t.Parallel()

	_, ok := edgeAudioPayload([]byte{0x01})
	assert.False(t, ok)

	// Declared header length runs past the frame.
	_, ok = edgeAudioPayload([]byte{0x00, 0xFF, 'x'})
	assert.False(t, ok)
}

func TestEdgeSynthesize(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, edgeTrustedClientToken, r.URL.Query().Get("TrustedClientToken"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, config, err := conn.ReadMessage()
		if err != nil {
			return
		}
		assert.Contains(t, string(config), "Path:speech.config")
		assert.Contains(t, string(config), edgeOutputFormat)

		_, ssml, err := conn.ReadMessage()
		if err != nil {
			return
		}
		assert.Contains(t, string(ssml), "Path:ssml")
		assert.Contains(t, string(ssml), "X-RequestId:")
		assert.Contains(t, string(ssml), "<voice name='en-US-GuyNeural'>")

		frame := binaryFrame("Path:audio\r\n", []byte("mp3bytes"))
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("X-RequestId:abc\r\nPath:turn.end\r\n"))
	}))
	defer srv.Close()

	e := &Edge{
		dialer: websocket.DefaultDialer,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "?TrustedClientToken=" + edgeTrustedClientToken,
	}

	audio, err := e.Synthesize(t.Context(), "Hello.", "en-US-GuyNeural")
	require.NoError(t, err)
	assert.Equal(t, "mp3bytes", string(audio))
}

func TestEdgeSynthesizeNoAudio(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for range 2 {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("Path:turn.end\r\n"))
	}))
	defer srv.Close()

	e := &Edge{
		dialer: websocket.DefaultDialer,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "?TrustedClientToken=" + edgeTrustedClientToken,
	}

	_, err := e.Synthesize(t.Context(), "Hello.", "")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTransient, perr.Kind)
}
