// Package textsource turns uploaded laboratory report files (PDF, HTML or
// plain text) into the ordered text lines the extraction engine consumes.
package textsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/labextract/labextract/internal/platform/labparse"
)

// Kind identifies the container format of a document.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindHTML Kind = "html"
	KindText Kind = "text"
)

var (
	ErrUnsupported = errors.New("unsupported document type")
	ErrUnreadable  = errors.New("document could not be read")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Document is an uploaded report file.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Lines extracts the text lines of a document in reading order.
func Lines(ctx context.Context, doc Document) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, err := DetectKind(doc)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindPDF:
		return pdfLines(ctx, doc.Data)
	case KindHTML:
		return htmlLines(doc.Data)
	default:
		return labparse.SplitLines(decodeText(doc.Data)), nil
	}
}

// DetectKind decides the document kind from its content type, then its file
// extension, then its leading bytes.
func DetectKind(doc Document) (Kind, error) {
	mime := strings.ToLower(strings.TrimSpace(strings.Split(doc.ContentType, ";")[0]))
	switch mime {
	case "application/pdf":
		return KindPDF, nil
	case "text/html", "application/xhtml+xml":
		return KindHTML, nil
	case "text/plain", "text/csv":
		return KindText, nil
	}

	switch strings.ToLower(filepath.Ext(doc.Name)) {
	case ".pdf":
		return KindPDF, nil
	case ".html", ".htm":
		return KindHTML, nil
	case ".txt", ".text", ".csv":
		return KindText, nil
	}

	head := bytes.TrimPrefix(doc.Data, utf8BOM)
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimSpace(head)
	lower := bytes.ToLower(head)
	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return KindPDF, nil
	case bytes.HasPrefix(lower, []byte("<!doctype html")), bytes.Contains(lower, []byte("<html")):
		return KindHTML, nil
	case len(head) > 0 && !bytes.ContainsRune(head, 0):
		return KindText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, doc.Name)
}

// decodeText strips a UTF-8 byte order mark and decodes legacy Central
// European exports, which arrive as Windows-1250 rather than UTF-8.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.Windows1250.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(decoded)
}

func pdfLines(ctx context.Context, data []byte) (lines []string, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			lines, err = nil, fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			lines = nil
			break
		}
		for _, row := range rows {
			lines = append(lines, rowText(row))
		}
	}
	if len(lines) > 0 {
		return lines, nil
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return labparse.SplitLines(buf.String()), nil
}

// rowText joins the text runs of one PDF row. Runs drawn at the same x
// position belong to one positioned string; separate positions are
// separate cells.
func rowText(row *pdf.Row) string {
	var b strings.Builder
	for i, t := range row.Content {
		if i > 0 && t.X != row.Content[i-1].X {
			b.WriteString("  ")
		}
		b.WriteString(t.S)
	}
	return strings.TrimSpace(b.String())
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "table": true, "tbody": true, "thead": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "pre": true, "body": true,
}

func htmlLines(data []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML: %v", ErrUnreadable, err)
	}
	doc.Find("script, style, noscript, head").Remove()

	var b strings.Builder
	writeNodes(&b, doc.Selection)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func writeNodes(b *strings.Builder, s *goquery.Selection) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch name := goquery.NodeName(c); {
		case name == "#text":
			text := c.Text()
			words := strings.Join(strings.Fields(text), " ")
			if words == "" {
				if text != "" {
					b.WriteByte(' ')
				}
				return
			}
			if strings.TrimLeftFunc(text, unicode.IsSpace) != text {
				b.WriteByte(' ')
			}
			b.WriteString(words)
			if strings.TrimRightFunc(text, unicode.IsSpace) != text {
				b.WriteByte(' ')
			}
		case name == "br":
			b.WriteByte('\n')
		case name == "tr":
			var cells []string
			c.Children().Each(func(_ int, cell *goquery.Selection) {
				if text := strings.Join(strings.Fields(cell.Text()), " "); text != "" {
					cells = append(cells, text)
				}
			})
			b.WriteByte('\n')
			b.WriteString(strings.Join(cells, "  "))
			b.WriteByte('\n')
		case blockElements[name]:
			b.WriteByte('\n')
			writeNodes(b, c)
			b.WriteByte('\n')
		default:
			writeNodes(b, c)
		}
	})
}
