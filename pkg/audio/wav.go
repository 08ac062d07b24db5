package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// ErrUnsupportedWAV is returned by DecodeWAV for files that are not 16-bit
// PCM.
var ErrUnsupportedWAV = errors.New("unsupported wav format")

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct
// inclusion in a multipart form upload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := BitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV reads a 16-bit PCM WAV file and returns its raw little-endian
// samples along with the source sample rate and channel count. Other bit
// depths are rejected with ErrUnsupportedWAV; convert before upload.
func DecodeWAV(r io.ReadSeeker) (pcm []byte, sampleRate, channels int, err error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, 0, fmt.Errorf("audio: decode wav: empty audio data")
	}
	if dec.BitDepth != 16 {
		return nil, 0, 0, fmt.Errorf("audio: %w: bit depth %d (want 16)", ErrUnsupportedWAV, dec.BitDepth)
	}

	pcm = make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm, buf.Format.SampleRate, buf.Format.NumChannels, nil
}
