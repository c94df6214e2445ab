package ingestion

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFile_Text(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "notes.TXT", "plain text\nsecond line")
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "plain text\nsecond line" {
		t.Errorf("got %q", got)
	}
}

func TestLoadFile_Markdown(t *testing.T) {
	t.Parallel()

	src := "# Title\n\nSome *bold* text with a [link](http://example.com).\n\n```go\nfmt.Println(1)\n```\n\n- item one\n- item two\n"
	path := writeFile(t, t.TempDir(), "readme.md", src)
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, want := range []string{"Title", "Some bold text with a link.", "fmt.Println(1)", "item one", "item two"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	for _, markup := range []string{"#", "*", "```", "](", "http://example.com"} {
		if strings.Contains(got, markup) {
			t.Errorf("markup %q leaked into %q", markup, got)
		}
	}
}

func TestLoadFile_XLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "budget.xlsx")
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "item")
	_ = f.SetCellValue("Sheet1", "B1", "cost")
	_ = f.SetCellValue("Sheet1", "A2", "laptop")
	_ = f.SetCellValue("Sheet1", "B2", 1200)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	_ = f.Close()

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := "## Sheet: Sheet1\nitem\tcost\nlaptop\t1200\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadFile_PPTX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deck.pptx")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(out)
	slides := map[string]string{
		"ppt/slides/slide2.xml":  `<p:sld><a:p><a:r><a:t>Second &amp; last</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld><a:p><a:r><a:t>First slide</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide10.xml": `<p:sld><a:p><a:r><a:t>Tenth</a:t></a:r></a:p></p:sld>`,
		"ppt/presentation.xml":   `<p:presentation/>`,
	}
	for name, body := range slides {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	_ = out.Close()

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := "\n--- Slide 1 ---\nFirst slide\n--- Slide 2 ---\nSecond & last\n--- Slide 10 ---\nTenth"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadFile_Unsupported(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "image.png", "not really")
	if _, err := LoadFile(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("want ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil || errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("want read error, got %v", err)
	}
}

func TestStripXML(t *testing.T) {
	t.Parallel()

	in := `<w:body><w:p><w:r><w:t>Hello</w:t></w:r></w:p><w:p><w:r><w:t>R&amp;D team</w:t></w:r></w:p></w:body>`
	if got := stripXML(in); got != "Hello\nR&D team\n" {
		t.Errorf("stripXML = %q", got)
	}
}

func TestSupportedExtensions(t *testing.T) {
	t.Parallel()

	want := []string{".docx", ".md", ".pdf", ".pptx", ".txt", ".xlsx"}
	if got := SupportedExtensions(); !reflect.DeepEqual(got, want) {
		t.Errorf("SupportedExtensions = %v, want %v", got, want)
	}
	if !IsSupported("a/B.PDF") || IsSupported("a/b.csv") || IsSupported("noext") {
		t.Error("IsSupported returned unexpected results")
	}
}
