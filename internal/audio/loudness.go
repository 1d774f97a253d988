package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultThreshold is the RMS level on the 16-bit PCM scale above which a
// chunk counts as sound. It is an empirical calibration value.
const DefaultThreshold = 100.0

// Measure returns the root-mean-square of a chunk of little-endian signed
// 16-bit samples. The chunk must be non-empty and have an even byte length.
func Measure(chunk []byte) (float64, error) {
	if len(chunk) == 0 || len(chunk)%2 != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidChunkLength, len(chunk))
	}

	var sum int64
	for i := 0; i < len(chunk); i += 2 {
		sample := int64(int16(binary.LittleEndian.Uint16(chunk[i:])))
		sum += sample * sample
	}

	return math.Sqrt(float64(sum) / float64(len(chunk)/2)), nil
}

// EncodeSamples packs samples into a little-endian byte chunk
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
