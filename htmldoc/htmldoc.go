// Package htmldoc loads HTML input documents and produces the structural
// summaries that feed the analysis stages.
package htmldoc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is one HTML input file.
type Document struct {
	Name    string
	Path    string
	Content string
}

// LoadFile reads a single HTML document.
func LoadFile(path string) (Document, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Document{
		Name:    filepath.Base(path),
		Path:    path,
		Content: string(payload),
	}, nil
}

// LoadDir reads every .html/.htm file directly under dir, sorted by name.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".html") && !strings.HasSuffix(name, ".htm") {
			continue
		}
		doc, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Summary captures the structural shape of a document for analysis prompts.
type Summary struct {
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Headings   []string `json:"headings"`
	Tables     int      `json:"tables"`
	Lists      int      `json:"lists"`
	Links      int      `json:"links"`
	Images     int      `json:"images"`
	TextLength int      `json:"text_length"`
}

// Summarize parses the document and extracts its structural summary.
func Summarize(doc Document) (Summary, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Content))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to parse %s: %w", doc.Name, err)
	}

	summary := Summary{
		Name:  doc.Name,
		Title: strings.TrimSpace(parsed.Find("title").First().Text()),
	}
	parsed.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			summary.Headings = append(summary.Headings, text)
		}
	})
	summary.Tables = parsed.Find("table").Length()
	summary.Lists = parsed.Find("ul, ol").Length()
	summary.Links = parsed.Find("a[href]").Length()
	summary.Images = parsed.Find("img").Length()
	summary.TextLength = len(strings.TrimSpace(parsed.Find("body").Text()))
	return summary, nil
}

// SummarizeAll summarizes every document, skipping unparseable ones.
func SummarizeAll(docs []Document) []Summary {
	summaries := make([]Summary, 0, len(docs))
	for _, doc := range docs {
		summary, err := Summarize(doc)
		if err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// SummaryMaps converts summaries to the generic payload shape carried in
// checkpoints.
func SummaryMaps(summaries []Summary) []map[string]any {
	out := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		headings := make([]any, 0, len(s.Headings))
		for _, h := range s.Headings {
			headings = append(headings, h)
		}
		out = append(out, map[string]any{
			"name":        s.Name,
			"title":       s.Title,
			"headings":    headings,
			"tables":      s.Tables,
			"lists":       s.Lists,
			"links":       s.Links,
			"images":      s.Images,
			"text_length": s.TextLength,
		})
	}
	return out
}
