package tts

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paperwave/paperwave/pkg/script"
)

const (
	// edgeTrustedClientToken is the token the Edge browser itself presents
	// to the read-aloud service; no account credential is involved.
	edgeTrustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	edgeEndpoint     = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	edgeOutputFormat = "audio-24khz-48kbitrate-mono-mp3"
	edgeTimeLayout   = "Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)"
)

// Edge streams speech from the Edge browser read-aloud websocket service.
// Voices are the neural catalog names such as en-US-AriaNeural.
type Edge struct {
	dialer *websocket.Dialer
	url    string
}

var _ Provider = (*Edge)(nil)

func NewEdge() *Edge {
	return &Edge{
		dialer: websocket.DefaultDialer,
		url:    edgeEndpoint + "?TrustedClientToken=" + edgeTrustedClientToken,
	}
}

func (e *Edge) Name() string { return "edge" }

func (e *Edge) SupportsMultiSpeaker() bool { return false }

func (e *Edge) OutputFormat() Format { return FormatMP3 }

func (e *Edge) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	voice = cmp.Or(voice, "en-US-AriaNeural")

	conn, resp, err := e.dialer.DialContext(ctx, e.url, http.Header{
		"Origin": []string{"chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"},
	})
	if err != nil {
		if resp != nil {
			return nil, &ProviderError{
				Provider: e.Name(),
				Kind:     ClassifyStatus(resp.StatusCode),
				Status:   resp.StatusCode,
				Err:      fmt.Errorf("edge handshake failed: %w", err),
			}
		}
		return nil, fmt.Errorf("edge connect failed: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	timestamp := time.Now().UTC().Format(edgeTimeLayout)

	config := "X-Timestamp:" + timestamp + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + edgeOutputFormat + `"}}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(config)); err != nil {
		return nil, fmt.Errorf("edge speech.config write failed: %w", err)
	}

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	frame := "X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + timestamp + "\r\n" +
		"Path:ssml\r\n\r\n" +
		buildSSML(text, voice)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return nil, fmt.Errorf("edge ssml write failed: %w", err)
	}

	var audio bytes.Buffer
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("edge stream read failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				if audio.Len() == 0 {
					return nil, &ProviderError{
						Provider: e.Name(),
						Kind:     KindTransient,
						Err:      fmt.Errorf("edge stream ended without audio"),
					}
				}
				return audio.Bytes(), nil
			}
		case websocket.BinaryMessage:
			if payload, ok := edgeAudioPayload(data); ok {
				audio.Write(payload)
			}
		}
	}
}

func (e *Edge) SynthesizeDialogue(context.Context, []script.Line, Voices) ([]byte, error) {
	return nil, fmt.Errorf("edge read-aloud has no multi-speaker mode")
}

// edgeAudioPayload extracts the MP3 bytes from one binary frame. Frames
// start with a big-endian 16-bit header length, then the headers, then the
// payload; only frames whose headers carry Path:audio hold sound.
func edgeAudioPayload(frame []byte) ([]byte, bool) {
	if len(frame) < 2 {
		return nil, false
	}
	headerLen := int(binary.BigEndian.Uint16(frame[:2]))
	if len(frame) < 2+headerLen {
		return nil, false
	}
	headers := string(frame[2 : 2+headerLen])
	if !strings.Contains(headers, "Path:audio") {
		return nil, false
	}
	return frame[2+headerLen:], true
}

func buildSSML(text, voice string) string {
	var sb strings.Builder
	sb.WriteString(`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>`)
	sb.WriteString(`<voice name='`)
	sb.WriteString(html.EscapeString(voice))
	sb.WriteString(`'>`)
	sb.WriteString(html.EscapeString(text))
	sb.WriteString(`</voice></speak>`)
	return sb.String()
}
