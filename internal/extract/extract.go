// Package extract converts file bytes into plain UTF-8 text for
// chunking. Dispatch is by extension with a MIME sniff fallback;
// unknown formats yield an empty result so callers can skip the file.
package extract

import (
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/k3a/html2text"

	"github.com/lodekb/lodestone/internal/errors"
)

// Result is extracted text plus the byte offsets of soft breaks,
// the preferred split points for the chunker.
type Result struct {
	Text     string
	Breaks   []int
	Language string
}

// Empty reports whether extraction produced no indexable text.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

type extractFn func(data []byte, filePath string) (Result, error)

var dispatch = map[string]extractFn{
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
	".log":  extractPlain,
	".html": extractHTML,
	".htm":  extractHTML,
	".json": extractJSON,
	".yaml": extractYAML,
	".yml":  extractYAML,
	".csv":  extractCSV,
	".tsv":  extractCSV,
	".docx": extractDocx,
	".pptx": extractPptx,
	".xlsx": extractXlsx,
	".odt":  extractODF,
	".odp":  extractODF,
	".ods":  extractODF,
	".pdf":  extractPDF,
}

// sourceLanguages maps source-code extensions to a language hint.
var sourceLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".jsx":   "javascript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".rs":    "rust",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".r":     "r",
	".lua":   "lua",
	".pl":    "perl",
	".toml":  "toml",
	".xml":   "xml",
	".proto": "protobuf",
}

// Supported reports whether the path's extension has an extractor.
func Supported(filePath string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	if _, ok := dispatch[ext]; ok {
		return true
	}
	_, ok := sourceLanguages[ext]
	return ok
}

// DetectMIME returns the MIME type for a file, by extension first and
// content sniffing second.
func DetectMIME(filePath string, data []byte) string {
	ext := strings.ToLower(path.Ext(filePath))
	if mt, ok := extensionMIMEs[ext]; ok {
		return mt
	}
	if _, ok := sourceLanguages[ext]; ok {
		return "text/plain"
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

var extensionMIMEs = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".rst":  "text/x-rst",
	".log":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".odt":  "application/vnd.oasis.opendocument.text",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".pdf":  "application/pdf",
}

// Extract converts raw bytes into indexable text. Unknown formats
// return an empty result with a nil error; failures on a recognized
// format return an error of kind ExtractFailed.
func Extract(data []byte, filePath string) (Result, error) {
	ext := strings.ToLower(path.Ext(filePath))
	if fn, ok := dispatch[ext]; ok {
		res, err := fn(data, filePath)
		if err != nil {
			return Result{}, errors.Wrap(err, errors.KindExtractFailed, "extract "+ext)
		}
		return res, nil
	}
	if lang, ok := sourceLanguages[ext]; ok {
		return extractSource(data, lang)
	}
	return Result{}, nil
}

func extractPlain(data []byte, _ string) (Result, error) {
	text := normalizeText(data)
	b := newBuilder()
	for _, para := range splitParagraphs(text) {
		b.AddBlock(para)
	}
	return b.Result(""), nil
}

// extractSource keeps the code verbatim under a one-line language tag.
func extractSource(data []byte, lang string) (Result, error) {
	text := normalizeText(data)
	res := Result{
		Text:     "[" + lang + "]\n" + text,
		Language: lang,
	}
	return res, nil
}

func extractHTML(data []byte, _ string) (Result, error) {
	text := html2text.HTML2Text(string(data))
	b := newBuilder()
	for _, para := range splitParagraphs(normalizeText([]byte(text))) {
		b.AddBlock(para)
	}
	return b.Result(""), nil
}

// normalizeText decodes bytes as UTF-8 (invalid sequences replaced)
// and normalizes newlines to \n.
func normalizeText(data []byte) string {
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func splitParagraphs(text string) []string {
	var paras []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paras = append(paras, block)
		}
	}
	return paras
}

// textBuilder accumulates blocks separated by blank lines, recording
// each boundary as a soft break.
type textBuilder struct {
	sb     strings.Builder
	breaks []int
}

func newBuilder() *textBuilder {
	return &textBuilder{}
}

func (b *textBuilder) AddBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	if b.sb.Len() > 0 {
		b.sb.WriteString("\n\n")
	}
	b.sb.WriteString(block)
	b.breaks = append(b.breaks, b.sb.Len())
}

func (b *textBuilder) Result(lang string) Result {
	return Result{Text: b.sb.String(), Breaks: b.breaks, Language: lang}
}
