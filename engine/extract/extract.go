// Package extract turns uploaded files into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/logbotai/logbot/engine/domain"
)

// Extract returns the text of a .docx or .txt file. Other formats fail with
// domain.ErrUnsupportedFormat.
func Extract(filename string, data []byte) (domain.Document, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".docx":
		text, err = docxText(data)
	case ".txt":
		text, err = plainText(data)
	default:
		return domain.Document{}, domain.NewValidationError("filename", filename, domain.ErrUnsupportedFormat)
	}
	if errors.Is(err, domain.ErrDocumentTooLarge) {
		return domain.Document{}, domain.NewValidationError("file", filename, err)
	}
	if err != nil {
		return domain.Document{}, domain.NewValidationError("file", filename,
			fmt.Errorf("%w: %w", domain.ErrUnsupportedFormat, err))
	}
	return domain.Document{Text: text, Filename: filename}, nil
}

// maxDocumentXML bounds the decompressed size of word/document.xml. Markup
// is several times the size of the text it carries.
var maxDocumentXML int64 = 16 * domain.MaxDocumentBytes

func plainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(data) > domain.MaxDocumentBytes {
		return "", fmt.Errorf("extract: %w", domain.ErrDocumentTooLarge)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("extract: text is not utf-8")
	}
	return string(data), nil
}

// docxText reads word/document.xml and returns its paragraphs, one per
// line. Tabs and breaks inside a paragraph are kept as whitespace.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: open docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		if f.UncompressedSize64 > uint64(maxDocumentXML) {
			return "", fmt.Errorf("extract: document.xml is %d bytes: %w", f.UncompressedSize64, domain.ErrDocumentTooLarge)
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract: open document.xml: %w", err)
		}
		defer rc.Close()
		// The header size can lie; cap what is actually inflated.
		return paragraphs(&capReader{r: rc, n: maxDocumentXML + 1})
	}
	return "", fmt.Errorf("extract: docx has no word/document.xml")
}

func paragraphs(r io.Reader) (string, error) {
	const ns = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

	dec := xml.NewDecoder(r)
	var (
		out    []string
		cur    strings.Builder
		inText bool
		size   int // joined length of out
	)
	for {
		if size+cur.Len() > domain.MaxDocumentBytes {
			return "", fmt.Errorf("extract: %w", domain.ErrDocumentTooLarge)
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("extract: parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != ns {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != ns {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if len(out) > 0 {
					size++
				}
				size += cur.Len()
				out = append(out, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return strings.Join(out, "\n"), nil
}

// capReader fails with ErrDocumentTooLarge once n bytes have been read.
type capReader struct {
	r io.Reader
	n int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.n <= 0 {
		return 0, fmt.Errorf("extract: document.xml exceeds %d bytes: %w", maxDocumentXML, domain.ErrDocumentTooLarge)
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	return n, err
}
