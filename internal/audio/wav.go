package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44 byte RIFF header for mono PCM-16
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAV encodes the window as a mono PCM-16 WAV file
func (w *Window) WAV() ([]byte, error) {
	return EncodeWAV(w.Samples, w.SampleRate)
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a mono PCM-16 WAV file and returns its samples and rate
func DecodeWAV(data []byte) ([]int16, int, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	numSamples := int(header.Subchunk2Size) / 2
	if numSamples <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}
	if len(data)-wavHeaderSize < numSamples*2 {
		return nil, 0, fmt.Errorf("truncated WAV data: header declares %d bytes, have %d",
			numSamples*2, len(data)-wavHeaderSize)
	}

	samples, err := SamplesFromPCM16(data[wavHeaderSize : wavHeaderSize+numSamples*2])
	if err != nil {
		return nil, 0, err
	}

	return samples, int(header.SampleRate), nil
}

// WAVDuration returns the duration of a WAV file in seconds
func WAVDuration(data []byte) (float64, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return 0, err
	}
	if header.SampleRate == 0 || header.BlockAlign == 0 {
		return 0, fmt.Errorf("invalid WAV header: sample rate %d, block align %d",
			header.SampleRate, header.BlockAlign)
	}

	frames := header.Subchunk2Size / uint32(header.BlockAlign)
	return float64(frames) / float64(header.SampleRate), nil
}

// readWAVHeader parses and checks the RIFF/WAVE markers
func readWAVHeader(data []byte) (*wavHeader, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return &header, nil
}
