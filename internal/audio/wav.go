package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// ExportWAV copies raw PCM from in into an uncompressed WAV container. A
// trailing odd byte is rejected since it cannot form a sample.
func ExportWAV(in io.Reader, out io.WriteSeeker, format Format) (int64, error) {
	if err := format.Validate(); err != nil {
		return 0, err
	}

	encoder := wav.NewEncoder(out, format.SampleRate, format.BitsPerSample, format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			SampleRate:  format.SampleRate,
			NumChannels: format.Channels,
		},
		SourceBitDepth: format.BitsPerSample,
	}

	r := bufio.NewReader(in)
	chunk := make([]byte, DefaultFileBufferFrames*format.FrameBytes())
	var samples int64

	for {
		n, err := io.ReadFull(r, chunk)
		if n%2 != 0 {
			encoder.Close()
			return samples, fmt.Errorf("%w: trailing byte after %d samples", ErrInvalidChunkLength, samples+int64(n/2))
		}
		if n > 0 {
			buf.Data = decodeInts(buf.Data[:0], chunk[:n])
			if werr := encoder.Write(buf); werr != nil {
				encoder.Close()
				return samples, fmt.Errorf("failed to write WAV samples: %w", werr)
			}
			samples += int64(n / 2)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			encoder.Close()
			return samples, fmt.Errorf("failed to read PCM data: %w", err)
		}
	}

	if err := encoder.Close(); err != nil {
		return samples, fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	return samples, nil
}

// ExportWAVFile converts the raw recording at inPath into a WAV file at outPath
func ExportWAVFile(inPath, outPath string, format Format) (int64, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open recording: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create WAV file: %w", err)
	}

	samples, err := ExportWAV(in, out, format)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close WAV file: %w", closeErr)
	}
	if err != nil {
		os.Remove(outPath)
		return samples, err
	}
	return samples, nil
}

func decodeInts(dst []int, chunk []byte) []int {
	for i := 0; i+1 < len(chunk); i += 2 {
		dst = append(dst, int(int16(binary.LittleEndian.Uint16(chunk[i:]))))
	}
	return dst
}
