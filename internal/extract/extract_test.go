package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodekb/lodestone/internal/errors"
)

func TestExtractPlainParagraphBreaks(t *testing.T) {
	res, err := Extract([]byte("First paragraph.\r\n\r\nSecond paragraph.\r\n"), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", res.Text)
	require.Len(t, res.Breaks, 2)
	assert.Equal(t, len("First paragraph."), res.Breaks[0])
	assert.Equal(t, len(res.Text), res.Breaks[1])
}

func TestExtractSourceKeepsCodeVerbatim(t *testing.T) {
	code := "package main\n\nfunc main() {}\n"
	res, err := Extract([]byte(code), "cmd/main.go")
	require.NoError(t, err)
	assert.Equal(t, "go", res.Language)
	assert.Equal(t, "[go]\n"+code, res.Text)
}

func TestExtractHTMLStripsTags(t *testing.T) {
	res, err := Extract([]byte("<html><body><h1>Title</h1><p>Hello world</p></body></html>"), "page.html")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Title")
	assert.Contains(t, res.Text, "Hello world")
	assert.NotContains(t, res.Text, "<p>")
}

func TestExtractJSONStableOrdering(t *testing.T) {
	res, err := Extract([]byte(`{"zebra": 1, "apple": {"y": 2, "x": 3}}`), "data.json")
	require.NoError(t, err)
	assert.Less(t, strings.Index(res.Text, "apple"), strings.Index(res.Text, "zebra"))
	assert.Less(t, strings.Index(res.Text, `"x"`), strings.Index(res.Text, `"y"`))

	again, err := Extract([]byte(`{"apple": {"x": 3, "y": 2}, "zebra": 1}`), "data.json")
	require.NoError(t, err)
	assert.Equal(t, res.Text, again.Text)
}

func TestExtractYAML(t *testing.T) {
	res, err := Extract([]byte("name: lodestone\nitems:\n  - a\n  - b\n"), "cfg.yaml")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "name: lodestone")
	assert.Contains(t, res.Text, "- a")
}

func TestExtractCSV(t *testing.T) {
	res, err := Extract([]byte("name,role\nada,engineer\ngrace,admiral\n"), "people.csv")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "name | role")
	assert.Contains(t, res.Text, "ada | engineer")
}

func TestExtractTSV(t *testing.T) {
	res, err := Extract([]byte("a\tb\n1\t2\n"), "table.tsv")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "a | b")
	assert.Contains(t, res.Text, "1 | 2")
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hello </w:t></w:r><w:r><w:t>world</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>
  </w:body>
</w:document>`
	data := buildZip(t, map[string]string{"word/document.xml": doc})

	res, err := Extract(data, "report.docx")
	require.NoError(t, err)
	assert.Equal(t, "Hello world\n\nSecond paragraph", res.Text)
	assert.Len(t, res.Breaks, 2)
}

func TestExtractPptx(t *testing.T) {
	slide := `<?xml version="1.0"?>
<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"
       xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
  <a:p><a:r><a:t>Agenda</a:t></a:r></a:p>
</p:sld>`
	data := buildZip(t, map[string]string{"ppt/slides/slide1.xml": slide})

	res, err := Extract(data, "deck.pptx")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Slide 1")
	assert.Contains(t, res.Text, "Agenda")
}

func TestExtractXlsx(t *testing.T) {
	shared := `<?xml version="1.0"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <si><t>product</t></si>
  <si><t>widget</t></si>
</sst>`
	sheet := `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row><c t="s"><v>0</v></c><c><v>42</v></c></row>
    <row><c t="s"><v>1</v></c><c><v>7</v></c></row>
  </sheetData>
</worksheet>`
	data := buildZip(t, map[string]string{
		"xl/sharedStrings.xml":     shared,
		"xl/worksheets/sheet1.xml": sheet,
	})

	res, err := Extract(data, "inventory.xlsx")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Sheet 1")
	assert.Contains(t, res.Text, "product | 42")
	assert.Contains(t, res.Text, "widget | 7")
}

func TestExtractODT(t *testing.T) {
	content := `<?xml version="1.0"?>
<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
                         xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">
  <office:body>
    <text:h>Heading</text:h>
    <text:p>Body text</text:p>
  </office:body>
</office:document-content>`
	data := buildZip(t, map[string]string{"content.xml": content})

	res, err := Extract(data, "doc.odt")
	require.NoError(t, err)
	assert.Equal(t, "Heading\n\nBody text", res.Text)
}

func TestExtractUnknownFormatIsEmptyNotError(t *testing.T) {
	res, err := Extract([]byte{0x00, 0x01, 0x02}, "blob.bin")
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestExtractCorruptDocxFails(t *testing.T) {
	_, err := Extract([]byte("not a zip archive"), "broken.docx")
	require.Error(t, err)
	assert.Equal(t, errors.KindExtractFailed, errors.KindOf(err))
}

func TestExtractCorruptPDFFails(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"), "broken.pdf")
	require.Error(t, err)
	assert.Equal(t, errors.KindExtractFailed, errors.KindOf(err))
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a/b.md"))
	assert.True(t, Supported("a/b.go"))
	assert.True(t, Supported("a/b.docx"))
	assert.False(t, Supported("a/b.bin"))
	assert.False(t, Supported("a/b"))
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "text/markdown", DetectMIME("readme.md", nil))
	assert.Equal(t, "application/pdf", DetectMIME("doc.pdf", nil))
	assert.Equal(t, "text/plain", DetectMIME("main.go", nil))
	assert.Equal(t, "application/octet-stream", DetectMIME("blob.xyz", nil))
	assert.Equal(t, "text/plain", DetectMIME("noext", []byte("plain words here")))
}

func TestNormalizeTextInvalidUTF8(t *testing.T) {
	out := normalizeText([]byte{'h', 'i', 0xff, '!'})
	assert.Contains(t, out, "hi")
	assert.Contains(t, out, "!")
}
