package textutil

import (
	"fmt"
	log "log/slog"
	"time"
)

const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t, or now when t is zero.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format(TimestampLayout)
}

// FormatFileSize renders a byte count with one decimal, e.g. "1.5 KB".
func FormatFileSize(n int64) string {
	if n < 0 {
		return "Unknown"
	}
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}

// Chunk splits s into consecutive slices of at most size elements.
func Chunk[T any](s []T, size int) [][]T {
	if size <= 0 || len(s) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(s)+size-1)/size)
	for i := 0; i < len(s); i += size {
		end := min(i+size, len(s))
		out = append(out, s[i:end])
	}
	return out
}

// Merge returns a new map holding a overlaid with b.
func Merge[K comparable, V any](a, b map[K]V) map[K]V {
	out := make(map[K]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

type Timer struct {
	what  string
	start time.Time
}

func StartTimer(what string) *Timer {
	return &Timer{what: what, start: time.Now()}
}

// Stop logs and returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	log.Debug("Timed", "op", t.what, "took", d)
	return d
}
