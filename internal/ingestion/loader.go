package ingestion

import (
	"archive/zip"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// ErrUnsupportedFormat is returned by LoadFile for extensions without a loader.
var ErrUnsupportedFormat = errors.New("ingestion: unsupported file format")

// loaderFunc extracts plain text from a file on disk.
type loaderFunc func(path string) (string, error)

var loaders = map[string]loaderFunc{
	".txt":  loadText,
	".md":   loadMarkdown,
	".pdf":  loadPDF,
	".docx": loadDOCX,
	".xlsx": loadXLSX,
	".pptx": loadPPTX,
}

// SupportedExtensions returns the lowercase extensions LoadFile understands,
// sorted.
func SupportedExtensions() []string {
	out := make([]string, 0, len(loaders))
	for ext := range loaders {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// IsSupported reports whether path has a loadable extension.
func IsSupported(path string) bool {
	_, ok := loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadFile extracts the plain text of the document at path, dispatching on
// its extension.
func LoadFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	load, ok := loaders[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	out, err := load(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: load %s: %w", path, err)
	}
	return out, nil
}

func loadText(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// loadMarkdown renders markdown to plain text by walking the goldmark AST.
// Markup is dropped; code blocks keep their literal lines.
func loadMarkdown(path string) (string, error) {
	src, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return "", err
	}
	return markdownText(src), nil
}

func markdownText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// loadPDF concatenates the plain text of every page under a page marker.
func loadPDF(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		fmt.Fprintf(&b, "\n--- Page %d ---\n%s", i, pageText)
	}
	return b.String(), nil
}

var (
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
	paragraphEnd = regexp.MustCompile(`</w:p>|</a:p>`)
)

// stripXML turns WordprocessingML or DrawingML into text with one line per
// paragraph.
func stripXML(s string) string {
	s = paragraphEnd.ReplaceAllString(s, "\n")
	s = xmlTag.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

func loadDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return strings.TrimSpace(stripXML(r.Editable().GetContent())), nil
}

// loadXLSX renders each sheet as a heading followed by tab-separated rows.
func loadXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %q: %w", sheet, err)
		}
		fmt.Fprintf(&b, "## Sheet: %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// loadPPTX reads the text runs of every slide in slide order.
func loadPPTX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.num, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.num, err)
		}
		fmt.Fprintf(&b, "\n--- Slide %d ---\n%s", s.num, strings.TrimSpace(stripXML(string(data))))
	}
	return b.String(), nil
}
