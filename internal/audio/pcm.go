package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFile is returned for files that are not PCM WAV.
var ErrUnsupportedFile = errors.New("audio: not a PCM WAV file")

// PCM is decoded audio: interleaved signed 16-bit samples.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames.
func (p PCM) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// DecodeWAV reads a whole WAV file and converts it to 16-bit PCM.
func DecodeWAV(r io.ReadSeeker) (PCM, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return PCM{}, fmt.Errorf("%w: %v", ErrUnsupportedFile, err)
		}
		return PCM{}, ErrUnsupportedFile
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	return fromIntBuffer(buf, int(d.BitDepth))
}

func fromIntBuffer(buf *goaudio.IntBuffer, depth int) (PCM, error) {
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return PCM{}, fmt.Errorf("%w: no channel layout", ErrUnsupportedFile)
	}
	if buf.SourceBitDepth != 0 {
		depth = buf.SourceBitDepth
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case depth == 8:
			samples[i] = int16((v - 128) << 8) // 8-bit WAV is unsigned
		case depth == 16:
			samples[i] = int16(v)
		case depth > 16 && depth <= 32:
			samples[i] = int16(v >> (depth - 16))
		default:
			return PCM{}, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFile, depth)
		}
	}
	return PCM{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}, nil
}
