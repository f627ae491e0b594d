package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// wavHeader is the canonical 44-byte PCM header we emit.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV encodes p as a 16-bit mono PCM WAV file.
func EncodeWAV(p *PCM) ([]byte, error) {
	if p == nil || len(p.Samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}

	dataSize := uint32(len(p.Samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(p.SampleRate),
		ByteRate:      uint32(p.SampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(p.Samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes a 16-bit PCM WAV file. Extra chunks (LIST, fact, ...)
// between "fmt " and "data" are skipped; stereo input is downmixed to mono.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrDecode)
	}

	var (
		channels, bits uint16
		sampleRate     uint32
		haveFmt        bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// truncated writers often leave the data size unset
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrDecode)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 && format != 0xFFFE {
				return nil, fmt.Errorf("%w: unsupported audio format %d (only PCM)", ErrDecode, format)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			return decodeSamples(data[body:body+size], channels, bits, int(sampleRate))
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	return nil, fmt.Errorf("%w: missing data chunk", ErrDecode)
}

func decodeSamples(raw []byte, channels, bits uint16, sampleRate int) (*PCM, error) {
	if bits != 16 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d (only 16-bit)", ErrDecode, bits)
	}
	if channels == 0 {
		return nil, fmt.Errorf("%w: zero channels", ErrDecode)
	}

	frameSize := int(channels) * 2
	frames := len(raw) / frameSize
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < int(channels); c++ {
			pos := i*frameSize + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(raw[pos : pos+2])))
		}
		samples[i] = int16(sum / int32(channels))
	}
	return NewPCM(samples, sampleRate)
}

// ReadWAVFile loads and decodes a WAV file from disk.
func ReadWAVFile(path string) (*PCM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pcm, nil
}

// WriteWAVFile encodes p and writes it to path.
func WriteWAVFile(path string, p *PCM) error {
	data, err := EncodeWAV(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	return nil
}
