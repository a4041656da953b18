// Package document extracts plain text from uploaded files and splits it into chunks.
package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/vanshikaxcx/emotibot/pkg/textutil"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

var supported = []string{".pdf", ".docx", ".txt"}

func SupportedFormats() []string {
	out := make([]string, len(supported))
	copy(out, supported)
	return out
}

func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range supported {
		if s == ext {
			return true
		}
	}
	return false
}

// Read extracts text from the file at path, picking the parser by extension.
func Read(path string) (string, error) {
	text, _, err := Load(path)
	return text, err
}

// Load is Read that also describes the file it parsed.
func Load(path string) (string, Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", Metadata{}, fmt.Errorf("stat %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !IsSupported(path) {
		return "", Metadata{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", Metadata{}, fmt.Errorf("read %s: %w", path, err)
	}
	text, err := ReadBytes(data, ext)
	if err != nil {
		return "", Metadata{}, err
	}
	return text, Describe(path, data, text), nil
}

// ReadBytes extracts text from an in-memory file. fileType may be given with
// or without the leading dot.
func ReadBytes(data []byte, fileType string) (string, error) {
	switch strings.TrimPrefix(strings.ToLower(fileType), ".") {
	case "pdf":
		return readPDF(data)
	case "docx":
		return readDOCX(data)
	case "txt":
		return decodeText(data), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType)
	}
}

func readPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		b.WriteString(t)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func pdfPageCount(data []byte) (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return r.NumPage()
}

const docxBody = "word/document.xml"

func readDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", docxBody, err)
		}
		defer rc.Close()

		paras, err := paragraphs(rc)
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxBody, err)
		}
		return strings.TrimSpace(strings.Join(paras, "\n")), nil
	}
	return "", fmt.Errorf("open docx: %s missing", docxBody)
}

// paragraphs walks WordprocessingML and returns the text of every <w:p>.
func paragraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		out    []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out = append(out, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

// decodeText treats invalid UTF-8 as Windows-1252, which also covers Latin-1 text.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		out, _ = charmap.ISO8859_1.NewDecoder().Bytes(data)
	}
	return string(out)
}

type Metadata struct {
	Path      string `json:"file_path"`
	Name      string `json:"file_name"`
	Size      int64  `json:"file_size"`
	Type      string `json:"file_type"`
	PageCount int    `json:"page_count"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"character_count"`
}

// Describe summarises a file already read into data whose extracted text
// is text. name supplies the base name and the type.
func Describe(name string, data []byte, text string) Metadata {
	m := Metadata{
		Path:      name,
		Name:      filepath.Base(name),
		Size:      int64(len(data)),
		Type:      strings.ToLower(filepath.Ext(name)),
		WordCount: textutil.WordCount(text),
		CharCount: utf8.RuneCountInString(text),
	}
	if m.Type == ".pdf" {
		m.PageCount = pdfPageCount(data)
	}
	return m
}
