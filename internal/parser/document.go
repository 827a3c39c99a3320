package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnsupportedDocument is returned for attachments no text could be taken from
var ErrUnsupportedDocument = errors.New("unsupported resume document")

// BuildDocument prepares an attachment for the model. PDFs are sent as-is;
// Word and text formats are reduced to plain text.
func BuildDocument(filename, contentType string, data []byte) (Document, error) {
	var text string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return Document{MIMEType: "application/pdf", Data: data}, nil
	case ".docx":
		extracted, err := docxText(data)
		if err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrUnsupportedDocument, err)
		}
		text = extracted
	case ".txt":
		text = string(data)
	case ".rtf":
		text = rtfText(string(data))
	case ".doc":
		text = printableRuns(data, 4)
	default:
		if strings.HasPrefix(contentType, "text/") {
			text = string(data)
		}
	}

	text = strings.TrimSpace(text)
	if text == "" || !utf8.ValidString(text) {
		return Document{}, fmt.Errorf("%w: no readable text in %s", ErrUnsupportedDocument, filename)
	}
	return Document{MIMEType: "text/plain", Text: text}, nil
}

// docxText concatenates the text runs of word/document.xml
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		var b strings.Builder
		dec := xml.NewDecoder(rc)
		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", err
			}
			switch t := tok.(type) {
			case xml.CharData:
				b.Write(t)
			case xml.EndElement:
				if t.Name.Local == "p" {
					b.WriteByte('\n')
				}
			}
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("word/document.xml not found")
}

// rtfText drops control words and groups markers, keeping literal text
func rtfText(src string) string {
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '{', '}':
		case '\\':
			j := i + 1
			if j < len(src) && (src[j] == '\\' || src[j] == '{' || src[j] == '}') {
				b.WriteByte(src[j])
				i = j
				continue
			}
			for j < len(src) && (isASCIILetter(src[j]) || src[j] == '-' || (src[j] >= '0' && src[j] <= '9')) {
				j++
			}
			if j < len(src) && src[j] == ' ' {
				j++
			}
			if strings.HasPrefix(src[i+1:], "par") {
				b.WriteByte('\n')
			}
			i = j - 1
		case '\r', '\n':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// printableRuns keeps runs of at least min printable ASCII characters, which
// recovers most body text from legacy binary Word files
func printableRuns(data []byte, min int) string {
	var out, run strings.Builder
	flush := func() {
		if run.Len() >= min {
			out.WriteString(run.String())
			out.WriteByte('\n')
		}
		run.Reset()
	}
	for _, c := range data {
		if c < utf8.RuneSelf && (unicode.IsPrint(rune(c)) || c == '\t') {
			run.WriteByte(c)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}
