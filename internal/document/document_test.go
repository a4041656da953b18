package document

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{name: "empty", text: "", size: 10, want: nil},
		{name: "single window", text: "hello world", size: 100, overlap: 10, want: []string{"hello world"}},
		{
			name: "word boundaries with overlap",
			text: "aaaa bbbb cccc dddd", size: 10, overlap: 3,
			want: []string{"aaaa bbbb", "bbb cccc", "ccc dddd"},
		},
		{
			name: "multibyte runes are never split",
			text: "ééééé", size: 3, overlap: 1,
			want: []string{"é", "é", "é", "é", "é"},
		},
		{name: "whitespace only", text: "     ", size: 2, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunk(tt.text, tt.size, tt.overlap))
		})
	}
}

func TestChunk_AlwaysAdvances(t *testing.T) {
	got := Chunk("abcdefghijklmnop", 4, 3)
	require.Len(t, got, 13)
	assert.Equal(t, "abcd", got[0])
	assert.Equal(t, "mnop", got[len(got)-1])

	// overlap >= size is ignored rather than looping forever.
	assert.Equal(t, []string{"abcd", "efgh"}, Chunk("abcdefgh", 4, 9))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("notes.TXT"))
	assert.True(t, IsSupported("/a/b/report.pdf"))
	assert.False(t, IsSupported("image.png"))
	assert.Equal(t, []string{".pdf", ".docx", ".txt"}, SupportedFormats())
}

func TestRead_Text(t *testing.T) {
	dir := t.TempDir()

	utf := filepath.Join(dir, "utf.txt")
	require.NoError(t, os.WriteFile(utf, []byte("\xef\xbb\xbfnaïve café"), 0o644))
	got, err := Read(utf)
	require.NoError(t, err)
	assert.Equal(t, "naïve café", got)

	latin := filepath.Join(dir, "latin.txt")
	require.NoError(t, os.WriteFile(latin, []byte("caf\xe9 \x93quoted\x94"), 0o644))
	got, err = Read(latin)
	require.NoError(t, err)
	assert.Equal(t, "café “quoted”", got)
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "nope.txt"))
	assert.ErrorIs(t, err, ErrNotFound)

	png := filepath.Join(dir, "x.png")
	require.NoError(t, os.WriteFile(png, []byte{0x89}, 0o644))
	_, err = Read(png)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadBytes([]byte("not a pdf"), "pdf")
	assert.Error(t, err)

	_, err = ReadBytes([]byte("x"), "rtf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReadBytes_DOCX(t *testing.T) {
	data := buildDOCX(t,
		`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> there</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Col</w:t><w:tab/><w:t>B</w:t></w:r></w:p>`+
			`<w:p></w:p>`)

	got, err := ReadBytes(data, ".docx")
	require.NoError(t, err)
	assert.Equal(t, "Hello there\nCol\tB", got)

	_, err = ReadBytes([]byte("PK not really"), "docx")
	assert.Error(t, err)
}

func TestLoad_Describes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Notes.docx")
	data := buildDOCX(t, `<w:p><w:r><w:t>one two three</w:t></w:r></w:p>`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	text, m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "one two three", text)
	assert.Equal(t, "Notes.docx", m.Name)
	assert.Equal(t, path, m.Path)
	assert.Equal(t, ".docx", m.Type)
	assert.Equal(t, 3, m.WordCount)
	assert.Equal(t, len("one two three"), m.CharCount)
	assert.Equal(t, int64(len(data)), m.Size)
	assert.Zero(t, m.PageCount)

	_, _, err = Load(filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDescribe_Text(t *testing.T) {
	m := Describe("uploads/Journal.TXT", []byte("héllo wörld"), "héllo wörld")
	assert.Equal(t, "Journal.TXT", m.Name)
	assert.Equal(t, ".txt", m.Type)
	assert.Equal(t, 2, m.WordCount)
	assert.Equal(t, 11, m.CharCount)
	assert.Equal(t, int64(len("héllo wörld")), m.Size)
}
