package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int
	// DataSize is the declared size of the data chunk in bytes.
	DataSize int
}

// ParseWAV walks the RIFF chunks of a WAV payload and returns its format.
// Walking is more robust than assuming a fixed 44-byte header because the
// fmt chunk size varies across encoders.
func ParseWAV(data []byte) (WAVInfo, error) {
	if len(data) < 12 {
		return WAVInfo{}, errors.New("wav payload too short for a RIFF header")
	}
	if string(data[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("wav payload missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("wav payload missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(data) {
				fmtData := data[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("wav payload has data before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			if info.DataOffset+info.DataSize > len(data) {
				info.DataSize = len(data) - info.DataOffset
			}
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}

	return WAVInfo{}, errors.New("wav payload missing data chunk")
}

// WrapPCM prefixes raw little-endian PCM samples with a canonical 44-byte
// WAV header.
func WrapPCM(pcm []byte, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 || bitsPerSample <= 0 {
		return nil, fmt.Errorf("invalid wav parameters: rate=%d channels=%d bits=%d", sampleRate, channels, bitsPerSample)
	}

	dataSize := len(pcm)
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	byteRate := sampleRate * channels * bitsPerSample / 8
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	blockAlign := channels * bitsPerSample / 8
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf, nil
}
