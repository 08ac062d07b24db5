package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Live clients that cannot afford raw PCM upload send Opus frames at the
// engine rate: 24 kHz mono, 20 ms per frame.
const (
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = SampleRate * opusFrameSizeMs / 1000 // 480
)

// OpusDecoder decodes a single client's Opus frame stream into PCM16 bytes.
// Decoder state carries across consecutive frames, so create one per stream;
// not designed for shared use across goroutines.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates an Opus decoder configured for engine-format audio.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus packet into PCM int16 samples and returns the
// result as little-endian bytes.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(frame, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16sToBytes(pcm), nil
}
