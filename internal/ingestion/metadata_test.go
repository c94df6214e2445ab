package ingestion

import (
	"path/filepath"
	"testing"
)

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		fileType string
		category string
		docType  string
	}{
		// ── File types ──────────────────────────────────────────────────
		{
			name:     "pdf in category dir",
			path:     filepath.Join("data", "documents", "hr", "leave-policy.pdf"),
			fileType: "pdf",
			category: "hr",
			docType:  "document",
		},
		{
			name:     "docx",
			path:     filepath.Join("docs", "Onboarding.DOCX"),
			fileType: "word",
			category: "docs",
			docType:  "document",
		},
		{
			name:     "xlsx",
			path:     filepath.Join("finance", "budget.xlsx"),
			fileType: "spreadsheet",
			category: "finance",
			docType:  "document",
		},
		{
			name:     "pptx",
			path:     filepath.Join("sales", "deck.pptx"),
			fileType: "presentation",
			category: "sales",
			docType:  "document",
		},
		// ── Doc types ───────────────────────────────────────────────────
		{
			name:     "markdown reference",
			path:     filepath.Join("Engineering", "API-Reference.md"),
			fileType: "markdown",
			category: "engineering",
			docType:  "reference",
		},
		{
			name:     "changelog wins over other keywords",
			path:     filepath.Join("notes", "CHANGELOG-guide.txt"),
			fileType: "text",
			category: "notes",
			docType:  "changelog",
		},
		{
			name:     "readme",
			path:     filepath.Join("project", "README.md"),
			fileType: "markdown",
			category: "project",
			docType:  "overview",
		},
		{
			name:     "tutorial",
			path:     filepath.Join("learn", "getting-started-tutorial.md"),
			fileType: "markdown",
			category: "learn",
			docType:  "guide",
		},
		// ── Defaults ────────────────────────────────────────────────────
		{
			name:     "bare file name",
			path:     "notes.txt",
			fileType: "text",
			category: "general",
			docType:  "document",
		},
		{
			name:     "unknown extension",
			path:     filepath.Join("misc", "image.png"),
			fileType: "other",
			category: "misc",
			docType:  "document",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := InferMetadata(tc.path)
			if got.FileType != tc.fileType {
				t.Errorf("FileType: got %q, want %q", got.FileType, tc.fileType)
			}
			if got.Category != tc.category {
				t.Errorf("Category: got %q, want %q", got.Category, tc.category)
			}
			if got.DocType != tc.docType {
				t.Errorf("DocType: got %q, want %q", got.DocType, tc.docType)
			}
		})
	}
}

func TestInferredMetadata_Metadata(t *testing.T) {
	t.Parallel()

	md := InferMetadata(filepath.Join("hr", "faq.md")).Metadata()
	if md.String("file_type") != "markdown" || md.String("category") != "hr" || md.String("doc_type") != "faq" {
		t.Errorf("unexpected metadata: %#v", md)
	}
}
