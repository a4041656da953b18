package textutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	wordRe     = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
	badFileRe  = regexp.MustCompile(`[<>:"/\\|?*]`)
	maxNameLen = 255
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an and or but in on at to for of with by from up about into
		through during before after above below between among is are was were be been being have has
		had do does did will would could should may might must can this that these those`) {
		stopWords[w] = struct{}{}
	}
}

// Clean applies NFKD normalization, collapses whitespace runs and trims.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKD.String(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most max runes. With ellipsis the last three runes
// become "..." as long as max leaves room for them.
func Truncate(s string, max int, ellipsis bool) string {
	if max < 0 {
		max = 0
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if ellipsis && max > 3 {
		return string(r[:max-3]) + "..."
	}
	return string(r[:max])
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Keywords returns up to max distinct lowercase words of three or more
// letters that are not stop words, in order of first appearance.
func Keywords(text string, max int) []string {
	if text == "" || max <= 0 {
		return nil
	}

	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) >= max {
			break
		}
	}
	return out
}

// Jaccard is the word-set similarity of a and b in [0, 1].
func Jaccard(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	sa := wordSet(a)
	sb := wordSet(b)

	inter := 0
	union := len(sb)
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		} else {
			union++
		}
	}
	return SafeDivide(float64(inter), float64(union), 0)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

// SanitizeFilename makes name safe to use as a single path element.
func SanitizeFilename(name string) string {
	name = badFileRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")

	if len(name) > maxNameLen {
		ext := filepath.Ext(name)
		if len(ext) >= maxNameLen {
			ext = ""
		}
		base := name[:len(name)-len(ext)]
		keep := maxNameLen - len(ext)
		for keep > 0 && !utf8.RuneStart(base[keep]) {
			keep--
		}
		name = base[:keep] + ext
	}
	return name
}

func SafeDivide(a, b, def float64) float64 {
	if b == 0 {
		return def
	}
	return a / b
}
