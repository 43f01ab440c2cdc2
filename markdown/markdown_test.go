package markdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deepnoodle-ai/distill"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	payload map[string]any
	err     error
	calls   int
}

func (a *stubAgent) Call(ctx context.Context, task distill.Task, input map[string]any) (map[string]any, error) {
	a.calls++
	return a.payload, a.err
}

func writeResult(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestRenderResult(t *testing.T) {
	renderer := NewRenderer(RendererOptions{})

	t.Run("title comes from the result", func(t *testing.T) {
		doc := renderer.RenderResult("page", map[string]any{"title": " My Page "})
		require.True(t, strings.HasPrefix(doc, "# My Page\n"))
	})

	t.Run("falls back to the file name", func(t *testing.T) {
		doc := renderer.RenderResult("page", map[string]any{})
		require.True(t, strings.HasPrefix(doc, "# page\n"))
	})

	t.Run("sections are sorted with readable headings", func(t *testing.T) {
		doc := renderer.RenderResult("page", map[string]any{
			"title":        "T",
			"zeta_section": "last",
			"alpha_notes":  "first",
			"_fallback":    true,
		})
		alphaIdx := strings.Index(doc, "## Alpha Notes")
		zetaIdx := strings.Index(doc, "## Zeta Section")
		require.Greater(t, alphaIdx, 0)
		require.Greater(t, zetaIdx, alphaIdx)
		require.NotContains(t, doc, "_fallback")
	})

	t.Run("list values become bullets", func(t *testing.T) {
		doc := renderer.RenderResult("page", map[string]any{
			"items": []any{"one", "two"},
		})
		require.Contains(t, doc, "- one\n- two\n")
	})

	t.Run("map values become definition bullets", func(t *testing.T) {
		doc := renderer.RenderResult("page", map[string]any{
			"specs": map[string]any{"width": "10cm", "height": "20cm"},
		})
		require.Contains(t, doc, "- **height**: 20cm")
		require.Contains(t, doc, "- **width**: 10cm")
	})

	t.Run("html fragments are converted", func(t *testing.T) {
		doc := renderer.RenderResult("page", map[string]any{
			"body": "<p>Hello <strong>world</strong></p>",
		})
		require.Contains(t, doc, "Hello **world**")
		require.NotContains(t, doc, "<strong>")
	})

	t.Run("deterministic output", func(t *testing.T) {
		result := map[string]any{"title": "T", "b": "2", "a": "1", "c": []any{"x"}}
		first := renderer.RenderResult("page", result)
		for i := 0; i < 5; i++ {
			require.Equal(t, first, renderer.RenderResult("page", result))
		}
	})
}

func TestRenderAll(t *testing.T) {
	ctx := context.Background()

	t.Run("renders every result file", func(t *testing.T) {
		resultsDir := t.TempDir()
		writeResult(t, resultsDir, "a.json", `{"title": "A", "body": "text a"}`)
		writeResult(t, resultsDir, "b.json", `{"title": "B", "body": "text b"}`)
		writeResult(t, resultsDir, "skip.txt", "not json")

		outDir := filepath.Join(t.TempDir(), "markdown")
		renderer := NewRenderer(RendererOptions{})
		converted, err := renderer.RenderAll(ctx, resultsDir, outDir)
		require.NoError(t, err)
		require.Equal(t, 2, converted)

		payload, err := os.ReadFile(filepath.Join(outDir, "a.md"))
		require.NoError(t, err)
		require.Contains(t, string(payload), "# A")
	})

	t.Run("unparseable result is skipped", func(t *testing.T) {
		resultsDir := t.TempDir()
		writeResult(t, resultsDir, "good.json", `{"title": "Good"}`)
		writeResult(t, resultsDir, "bad.json", `{broken`)

		renderer := NewRenderer(RendererOptions{})
		converted, err := renderer.RenderAll(ctx, resultsDir, t.TempDir())
		require.NoError(t, err)
		require.Equal(t, 1, converted)
	})

	t.Run("missing results directory returns error", func(t *testing.T) {
		renderer := NewRenderer(RendererOptions{})
		_, err := renderer.RenderAll(ctx, filepath.Join(t.TempDir(), "absent"), t.TempDir())
		require.Error(t, err)
	})

	t.Run("agent formatting is preferred", func(t *testing.T) {
		resultsDir := t.TempDir()
		writeResult(t, resultsDir, "a.json", `{"title": "A"}`)

		agent := &stubAgent{payload: map[string]any{"markdown": "# Agent Formatted\n"}}
		renderer := NewRenderer(RendererOptions{Agent: agent})
		outDir := t.TempDir()
		converted, err := renderer.RenderAll(ctx, resultsDir, outDir)
		require.NoError(t, err)
		require.Equal(t, 1, converted)
		require.Equal(t, 1, agent.calls)

		payload, err := os.ReadFile(filepath.Join(outDir, "a.md"))
		require.NoError(t, err)
		require.Equal(t, "# Agent Formatted\n", string(payload))
	})

	t.Run("agent failure falls back to local rendering", func(t *testing.T) {
		resultsDir := t.TempDir()
		writeResult(t, resultsDir, "a.json", `{"title": "Local"}`)

		agent := &stubAgent{err: errors.New("unavailable")}
		renderer := NewRenderer(RendererOptions{Agent: agent})
		outDir := t.TempDir()
		_, err := renderer.RenderAll(ctx, resultsDir, outDir)
		require.NoError(t, err)

		payload, err := os.ReadFile(filepath.Join(outDir, "a.md"))
		require.NoError(t, err)
		require.Contains(t, string(payload), "# Local")
	})
}

func TestConvertHTML(t *testing.T) {
	renderer := NewRenderer(RendererOptions{})

	t.Run("converts headings and emphasis", func(t *testing.T) {
		doc, err := renderer.ConvertHTML("<h1>Title</h1><p>Some <em>text</em>.</p>")
		require.NoError(t, err)
		require.Contains(t, doc, "# Title")
		require.Contains(t, doc, "*text*")
	})

	t.Run("converts tables", func(t *testing.T) {
		doc, err := renderer.ConvertHTML("<table><tr><th>A</th><th>B</th></tr><tr><td>1</td><td>2</td></tr></table>")
		require.NoError(t, err)
		require.Contains(t, doc, "|")
	})

	t.Run("empty input is rejected", func(t *testing.T) {
		_, err := renderer.ConvertHTML("   ")
		require.Error(t, err)
	})
}

func TestSectionHeading(t *testing.T) {
	require.Equal(t, "Product Name", sectionHeading("product_name"))
	require.Equal(t, "Price", sectionHeading("price"))
	require.Equal(t, "A B C", sectionHeading("a_b_c"))
}
