package audioconv

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes mono float PCM as a 16-bit WAV file.
func EncodeWAV(pcm []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	// The encoder needs to seek back and patch the header sizes.
	f, err := os.CreateTemp("", "emotibot-*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)

	data := make([]int, len(pcm))
	for i, x := range pcm {
		data[i] = int(math.Round(math.Max(-1, math.Min(1, float64(x))) * 32767))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish wav: %w", err)
	}

	return os.ReadFile(f.Name())
}
