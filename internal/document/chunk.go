package document

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into windows of at most size bytes that overlap by
// overlap bytes. A window that does not reach the end is cut back to its last
// space. Cuts always land on rune boundaries and empty chunks are dropped.
func Chunk(text string, size, overlap int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var (
		chunks []string
		n      = len(text)
		start  = 0
	)
	for start < n {
		end := start + size
		if end < n {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if sp := strings.LastIndexByte(text[start:end], ' '); sp > 0 {
				end = start + sp
			}
			if end <= start {
				_, w := utf8.DecodeRuneInString(text[start:])
				end = start + w
			}
		} else {
			end = n
		}

		if c := strings.TrimSpace(text[start:end]); c != "" {
			chunks = append(chunks, c)
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next < 0 {
			next = 0
		}
		for next < end && !utf8.RuneStart(text[next]) {
			next++
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
