package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"docvault/internal/models"
)

const (
	MimePDF         = "application/pdf"
	MimeDocx        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDoc         = "application/msword"
	MimeMarkdown    = "text/markdown"
	MimeSpreadsheet = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Extract produces plain text from a document's raw bytes. It is a pure
// function: same bytes and MIME type always yield the same text. Decoder
// failures come back wrapping models.ErrExtractionFailed so the caller can
// mark the document unprocessed instead of failing the upload.
func Extract(data []byte, mimeType string) (string, error) {
	switch {
	case mimeType == MimePDF:
		return extractPDF(data)
	case mimeType == MimeDocx || mimeType == MimeDoc:
		return extractWord(data)
	case mimeType == MimeMarkdown:
		return extractMarkdown(data)
	case mimeType == MimeSpreadsheet:
		return extractSpreadsheet(data)
	case strings.HasPrefix(mimeType, "text/"):
		return strings.ToValidUTF8(string(data), "�"), nil
	default:
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedType, mimeType)
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", models.ErrExtractionFailed, err)
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: pdf page %d: %v", models.ErrExtractionFailed, i, err)
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractWord(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: docx: %v", models.ErrExtractionFailed, err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return textFromRuns(content, "<w:t"), nil
}

// textFromRuns pulls the text runs out of OOXML content. Runs within a
// paragraph join with spaces; paragraph ends become newlines.
func textFromRuns(xmlContent, runTag string) string {
	var sb strings.Builder
	parts := strings.Split(xmlContent, runTag)
	for i, part := range parts {
		if i == 0 {
			continue
		}
		// runTag may carry attributes; skip to the closing bracket.
		open := strings.Index(part, ">")
		if open < 0 {
			continue
		}
		rest := part[open+1:]
		end := strings.Index(rest, "</")
		if end >= 0 {
			sb.WriteString(rest[:end])
			sb.WriteString(" ")
		}
		if strings.Contains(part, "</w:p>") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func extractMarkdown(data []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(data))

	var sb strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if _, ok := n.(*ast.Text); !ok && n.Type() == ast.TypeBlock {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			sb.Write(t.Segment.Value(data))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: markdown: %v", models.ErrExtractionFailed, err)
	}
	return sb.String(), nil
}

func extractSpreadsheet(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: spreadsheet: %v", models.ErrExtractionFailed, err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		sb.WriteString("Sheet: " + sheetName + "\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
