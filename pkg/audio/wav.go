package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the size of the canonical RIFF header this package emits.
const WAVHeaderSize = 44

// PCMToWAV wraps raw 16-bit mono PCM in a 44-byte RIFF/WAVE header.
// The output is bit-exact for a given input: mono, 16-bit, the given
// sample rate, byteRate = sampleRate*2 and blockAlign = 2.
func PCMToWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVInfo holds the fields parsed from a RIFF header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// ParseWAVHeader parses the 44-byte header produced by PCMToWAV.
func ParseWAVHeader(wav []byte) (*WAVInfo, error) {
	if len(wav) < WAVHeaderSize {
		return nil, fmt.Errorf("wav data too short: %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE header")
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		return nil, fmt.Errorf("unexpected chunk layout")
	}

	return &WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(wav[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(wav[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(wav[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(wav[40:44])),
	}, nil
}
