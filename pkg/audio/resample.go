package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono PCM16 samples from one sample rate to another.
// The result always holds len(samples)*to/from samples. Equal rates return
// the input unchanged.
func Resample(samples []int16, from, to int) ([]int16, error) {
	if from == to || len(samples) == 0 {
		return samples, nil
	}
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", from, to)
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	// the filter holds back its delay line until flushed
	tail, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("audio: resample flush: %w", err)
	}
	output = append(output, tail...)

	want := int(int64(len(samples)) * int64(to) / int64(from))
	if want < 1 {
		want = 1
	}
	if len(output) > want {
		output = output[:want]
	}
	for len(output) < want {
		last := 0.0
		if len(output) > 0 {
			last = output[len(output)-1]
		}
		output = append(output, last)
	}

	out := make([]int16, len(output))
	for i, f := range output {
		switch {
		case f > 1.0:
			out[i] = 32767
		case f < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(f * 32767.0)
		}
	}
	return out, nil
}

// DecodeChunk turns a network audio chunk into mono PCM16 samples at
// sampleRate. Chunks carrying a WAV header are parsed, downmixed and
// resampled as needed; anything else is taken as raw little-endian PCM16
// already at sampleRate.
func DecodeChunk(chunk []byte, sampleRate int) ([]int16, error) {
	if !IsWav(chunk) {
		return BytesToInt16(chunk), nil
	}

	info, pcm, err := ParseWav(chunk)
	if err != nil {
		return nil, err
	}
	samples := Downmix(BytesToInt16(pcm), info.Channels)
	return Resample(samples, info.SampleRate, sampleRate)
}
