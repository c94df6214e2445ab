package ingestion

import (
	"path/filepath"
	"strings"

	"github.com/54b3r/docqa-go/internal/rag"
)

// InferredMetadata holds the file type, category and document kind inferred
// from a document's path. Caller-supplied metadata takes precedence over
// inferred values; this is the best-effort fallback when the operator does
// not tag documents explicitly.
type InferredMetadata struct {
	// FileType classifies the container format (pdf, word, spreadsheet,
	// presentation, markdown, text).
	FileType string
	// Category is the name of the directory holding the file, lowercased.
	Category string
	// DocType classifies the document kind (guide, reference, faq,
	// changelog, overview, document).
	DocType string
}

// fileTypes maps an extension to its file_type label.
var fileTypes = map[string]string{
	".pdf":  "pdf",
	".docx": "word",
	".xlsx": "spreadsheet",
	".pptx": "presentation",
	".md":   "markdown",
	".txt":  "text",
}

// docTypeKeywords is checked in order against the lowercased file stem.
var docTypeKeywords = []struct {
	keyword string
	docType string
}{
	{"changelog", "changelog"},
	{"release-notes", "changelog"},
	{"readme", "overview"},
	{"faq", "faq"},
	{"tutorial", "guide"},
	{"guide", "guide"},
	{"howto", "guide"},
	{"api", "reference"},
	{"reference", "reference"},
	{"spec", "reference"},
}

// InferMetadata inspects path and returns best-effort metadata. Paths that
// match no pattern get defaults ("other", "general", "document").
//
// Examples:
//
//	data/documents/hr/leave-policy.pdf    → pdf, hr, document
//	data/documents/api/REFERENCE.md       → markdown, api, reference
//	notes/CHANGELOG.txt                   → text, notes, changelog
func InferMetadata(path string) InferredMetadata {
	m := InferredMetadata{
		FileType: "other",
		Category: "general",
		DocType:  "document",
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ft, ok := fileTypes[ext]; ok {
		m.FileType = ft
	}

	if dir := filepath.Base(filepath.Dir(path)); dir != "." && dir != string(filepath.Separator) && dir != "" {
		m.Category = strings.ToLower(dir)
	}

	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	for _, k := range docTypeKeywords {
		if strings.Contains(stem, k.keyword) {
			m.DocType = k.docType
			break
		}
	}

	return m
}

// Metadata returns the inferred values as chunk metadata entries.
func (m InferredMetadata) Metadata() rag.Metadata {
	return rag.Metadata{
		"file_type": m.FileType,
		"category":  m.Category,
		"doc_type":  m.DocType,
	}
}
