package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const wavHeaderSize = 44

// WavWriter writes 16-bit PCM audio to a WAV file. The RIFF header carries
// placeholder sizes until Close patches them with the final data length.
type WavWriter struct {
	file       *os.File
	sampleRate int
	channels   int
	dataLen    uint32
	closed     bool
}

// NewWavWriter creates the file (and any missing parent directories) and
// writes a provisional header for the given PCM parameters.
func NewWavWriter(path string, sampleRate, channels int) (*WavWriter, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav parameters: rate=%d channels=%d", sampleRate, channels)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}

	w := &WavWriter{file: file, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

// Write appends raw little-endian PCM bytes to the data chunk.
func (w *WavWriter) Write(pcm []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("wav writer is closed")
	}
	n, err := w.file.Write(pcm)
	w.dataLen += uint32(n)
	return n, err
}

// Close patches the header sizes and closes the file. Close is idempotent.
func (w *WavWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.file.Seek(0, 0); err != nil {
		w.file.Close()
		return err
	}
	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *WavWriter) writeHeader() error {
	byteRate := w.sampleRate * w.channels * 2
	blockAlign := w.channels * 2

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+w.dataLen)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], w.dataLen)

	_, err := w.file.Write(header)
	return err
}
