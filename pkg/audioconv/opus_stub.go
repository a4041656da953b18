//go:build !opus

package audioconv

import (
	"fmt"
	"io"
)

func decodeOpus(io.ReadSeeker) (clip, error) {
	return clip{}, fmt.Errorf("%w: opus support not built in (build with -tags opus)", ErrUnsupported)
}
