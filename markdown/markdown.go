// Package markdown renders extraction results as Markdown documents.
package markdown

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/deepnoodle-ai/distill"
)

var _ distill.MarkdownRenderer = (*Renderer)(nil)

// RendererOptions configures a Renderer.
type RendererOptions struct {
	// Agent, when set, is asked to format each document; on any failure
	// the deterministic local rendering is used instead.
	Agent  distill.Agent
	Logger *slog.Logger
}

// Renderer converts extraction-result JSON files into Markdown.
type Renderer struct {
	agent  distill.Agent
	conv   *converter.Converter
	logger *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(opts RendererOptions) *Renderer {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	return &Renderer{agent: opts.Agent, conv: conv, logger: opts.Logger}
}

// RenderAll converts every .json result under resultsDir into a .md file
// under outDir and returns the number of documents written. A document that
// fails to render is logged and skipped.
func (r *Renderer) RenderAll(ctx context.Context, resultsDir, outDir string) (int, error) {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read results directory %s: %w", resultsDir, err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create markdown directory %s: %w", outDir, err)
	}

	converted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(resultsDir, entry.Name()))
		if err != nil {
			r.logger.Warn("failed to read result", "file", entry.Name(), "error", err)
			continue
		}
		var result map[string]any
		if err := json.Unmarshal(payload, &result); err != nil {
			r.logger.Warn("failed to parse result", "file", entry.Name(), "error", err)
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".json")
		doc := r.render(ctx, name, result)
		outPath := filepath.Join(outDir, name+".md")
		if err := os.WriteFile(outPath, []byte(doc), 0644); err != nil {
			return converted, fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		converted++
	}
	return converted, nil
}

// render asks the collaborator for a formatted document when an agent is
// configured, falling back to the deterministic local rendering.
func (r *Renderer) render(ctx context.Context, name string, result map[string]any) string {
	if r.agent != nil {
		payload, err := r.agent.Call(ctx, distill.TaskMarkdownConversion, map[string]any{
			"name":   name,
			"result": result,
		})
		if err == nil {
			if doc, ok := payload["markdown"].(string); ok && strings.TrimSpace(doc) != "" {
				return doc
			}
		} else {
			r.logger.Warn("markdown conversion call failed, using local rendering",
				"file", name, "error", err)
		}
	}
	return r.RenderResult(name, result)
}

// RenderResult deterministically renders one extraction result. Section
// values that look like HTML fragments are converted to Markdown; plain
// values are emitted as text or lists.
func (r *Renderer) RenderResult(name string, result map[string]any) string {
	var sb strings.Builder
	title := name
	if t, ok := result["title"].(string); ok && strings.TrimSpace(t) != "" {
		title = strings.TrimSpace(t)
	}
	fmt.Fprintf(&sb, "# %s\n", title)

	keys := make([]string, 0, len(result))
	for key := range result {
		if key == "title" || strings.HasPrefix(key, "_") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fmt.Fprintf(&sb, "\n## %s\n\n", sectionHeading(key))
		r.renderValue(&sb, result[key])
	}
	return sb.String()
}

func (r *Renderer) renderValue(sb *strings.Builder, value any) {
	switch v := value.(type) {
	case string:
		sb.WriteString(r.renderText(v))
		sb.WriteString("\n")
	case []any:
		for _, item := range v {
			fmt.Fprintf(sb, "- %s\n", strings.TrimSpace(fmt.Sprint(item)))
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(sb, "- **%s**: %s\n", key, strings.TrimSpace(fmt.Sprint(v[key])))
		}
	case nil:
		sb.WriteString("\n")
	default:
		fmt.Fprintf(sb, "%v\n", v)
	}
}

// sectionHeading turns a snake_case schema key into a readable heading.
func sectionHeading(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// renderText converts HTML fragments to Markdown and passes plain text
// through unchanged.
func (r *Renderer) renderText(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	converted, err := r.conv.ConvertString(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(converted)
}

// ConvertHTML converts a whole HTML document directly to Markdown. It is
// the fallback for inputs that produced no extraction result.
func (r *Renderer) ConvertHTML(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", fmt.Errorf("empty HTML input")
	}
	return r.conv.ConvertString(html)
}
