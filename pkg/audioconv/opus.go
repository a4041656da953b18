//go:build opus

package audioconv

import (
	"errors"
	"io"

	popus "github.com/pekim/opus"
)

const opusRate = 48000

// Opus decoding links libopusfile through cgo, so it is opt-in.
func decodeOpus(rs io.ReadSeeker) (clip, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return clip{}, err
	}
	defer dec.Destroy()

	c := clip{channels: max(dec.ChannelCount(), 1), rate: opusRate}
	buf := make([]int16, opusRate/2*c.channels)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			c.samples = append(c.samples, fromInt16(buf[:n*c.channels])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return clip{}, err
		}
	}
	if len(c.samples) == 0 {
		return clip{}, errors.New("opus: no samples")
	}
	return c, nil
}
