package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWav is returned when a buffer does not hold a PCM16 RIFF/WAVE stream.
var ErrInvalidWav = errors.New("audio: invalid wav data")

// WavInfo describes the format chunk of a parsed WAV buffer.
type WavInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// NewWavBuffer wraps mono PCM16 data in a canonical 44 byte WAV header.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// IsWav reports whether data starts with a RIFF/WAVE header.
func IsWav(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ParseWav walks the RIFF chunks of data and returns the format description
// and the raw payload of the data chunk. Only 16-bit integer PCM is accepted.
// A data chunk whose declared size runs past the buffer is truncated to what
// is available, which is what streamed WAV headers usually look like.
func ParseWav(data []byte) (WavInfo, []byte, error) {
	var info WavInfo
	if !IsWav(data) {
		return info, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWav)
	}

	var haveFmt bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return info, nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWav)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 || info.BitsPerSample != 16 {
				return info, nil, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalidWav, format, info.BitsPerSample)
			}
			if info.Channels < 1 || info.SampleRate < 1 {
				return info, nil, fmt.Errorf("%w: bad fmt values", ErrInvalidWav)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return info, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWav)
			}
			end := body + size
			if end > len(data) || size == 0 {
				end = len(data)
			}
			return info, data[body:end], nil
		}

		// chunks are padded to an even size
		pos = body + size + size%2
	}

	return info, nil, fmt.Errorf("%w: no data chunk", ErrInvalidWav)
}
