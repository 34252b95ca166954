// Package extract pulls plain text out of user-uploaded documents for
// completion-prompt embedding. Supported: PDF, DOCX, and anything readable
// as plain text. An empty result means "no extractable text" and is not an
// error; callers decide how to report it.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxTextRunes caps extracted text; the completion backend rejects longer
// prompts.
const MaxTextRunes = 8000

// MaxInputBytes is the largest document accepted for extraction.
const MaxInputBytes = 5 * 1024 * 1024

// Text extracts text from data, choosing the reader by the filename
// extension. The result is trimmed of surrounding whitespace and capped at
// MaxTextRunes runes.
func Text(data []byte, filename string) (string, error) {
	if len(data) > MaxInputBytes {
		return "", fmt.Errorf("document too large: %d bytes", len(data))
	}
	name := strings.ToLower(strings.TrimSpace(filename))
	var (
		text string
		err  error
	)
	switch {
	case strings.HasSuffix(name, ".pdf"):
		text, err = pdfText(data)
	case strings.HasSuffix(name, ".docx"):
		text, err = docxText(data)
	default:
		text = plainText(data)
	}
	if err != nil {
		return "", err
	}
	return capRunes(strings.TrimSpace(text)), nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not void the rest.
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// docxBody mirrors the parts of word/document.xml we care about: paragraphs
// containing text runs.
type docxBody struct {
	Paragraphs []struct {
		Runs []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"body>p"`
}

func docxText(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var document *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			document = f
			break
		}
	}
	if document == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}
	rc, err := document.Open()
	if err != nil {
		return "", fmt.Errorf("open docx body: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read docx body: %w", err)
	}
	var body docxBody
	if err := xml.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("parse docx body: %w", err)
	}
	lines := make([]string, 0, len(body.Paragraphs))
	for _, p := range body.Paragraphs {
		var line strings.Builder
		for _, r := range p.Runs {
			line.WriteString(r.Text)
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n"), nil
}

func plainText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

func capRunes(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxTextRunes])
}
