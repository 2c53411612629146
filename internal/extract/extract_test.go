package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/models"
)

func TestExtract_PlainText(t *testing.T) {
	text, err := Extract([]byte("hello world"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtract_TextSubtypes(t *testing.T) {
	text, err := Extract([]byte("a,b,c"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", text)
}

func TestExtract_InvalidUTF8Replaced(t *testing.T) {
	text, err := Extract([]byte{'o', 'k', 0xff, 0xfe, '!'}, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "ok�!", text)
}

func TestExtract_Deterministic(t *testing.T) {
	data := []byte("# Title\n\nSome *body* text.\n")
	first, err := Extract(data, "text/markdown")
	require.NoError(t, err)
	second, err := Extract(data, "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtract_Markdown(t *testing.T) {
	data := []byte("# Warranty\n\nCovers **parts** and labor.\n")
	text, err := Extract(data, "text/markdown")
	require.NoError(t, err)
	assert.Contains(t, text, "Warranty")
	assert.Contains(t, text, "parts")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "**")
}

func TestExtract_UnsupportedType(t *testing.T) {
	_, err := Extract([]byte("x"), "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnsupportedType)
}

func TestExtract_CorruptPDF(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"), MimePDF)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExtractionFailed)
}

func TestExtract_CorruptWord(t *testing.T) {
	for _, mt := range []string{MimeDocx, MimeDoc} {
		_, err := Extract([]byte("not a zip archive"), mt)
		require.Error(t, err, mt)
		assert.ErrorIs(t, err, models.ErrExtractionFailed, mt)
	}
}

func TestExtract_CorruptSpreadsheet(t *testing.T) {
	_, err := Extract([]byte("not a workbook"), MimeSpreadsheet)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExtractionFailed)
}

func TestTextFromRuns(t *testing.T) {
	xml := `<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve">world</w:t></w:r></w:p>`
	got := textFromRuns(xml, "<w:t")
	assert.Contains(t, got, "Hello")
	assert.Contains(t, got, "world")
}
