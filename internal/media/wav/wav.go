// Package wav writes mono 16-bit PCM WAV files.
package wav

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// Encode writes samples in [-1, 1] as a 16-bit little-endian mono WAV.
func Encode(w io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("wav: sample rate must be positive")
	}
	dataLen := uint32(len(samples) * 2)
	header := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataLen,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataLen,
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	buf := make([]byte, 2*4096)
	for start := 0; start < len(samples); start += 4096 {
		end := start + 4096
		if end > len(samples) {
			end = len(samples)
		}
		chunk := buf[:(end-start)*2]
		for i, s := range samples[start:end] {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(toPCM(s)))
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func toPCM(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}
