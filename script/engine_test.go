package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<html>
<head><title>  Sample Page  </title></head>
<body>
  <h1>Heading</h1>
  <p class="intro">First paragraph.</p>
  <p>Second paragraph.</p>
  <a href="https://example.com/a">link a</a>
  <a href="https://example.com/b">link b</a>
  <a>no href</a>
</body>
</html>`

func evalExtraction(t *testing.T, source string) any {
	t.Helper()
	engine := NewEngine(ExtractionGlobals())
	program, err := engine.Compile(context.Background(), source)
	require.NoError(t, err)
	result, err := program.Eval(context.Background(), map[string]any{
		"doc": map[string]any{"html": samplePage, "name": "sample.html"},
	})
	require.NoError(t, err)
	return result
}

func TestEngineCompileAndEval(t *testing.T) {
	t.Run("builtins and doc global are available", func(t *testing.T) {
		result := evalExtraction(t, `len(doc["html"])`)
		require.Equal(t, int64(len(samplePage)), result)
	})

	t.Run("undefined identifiers fail at compile time", func(t *testing.T) {
		engine := NewEngine(ExtractionGlobals())
		_, err := engine.Compile(context.Background(), `no_such_helper("x")`)
		require.Error(t, err)
	})

	t.Run("maps convert to Go maps", func(t *testing.T) {
		result := evalExtraction(t, `{"a": 1, "b": "two", "c": [true, nil]}`)
		require.Equal(t, map[string]any{
			"a": int64(1),
			"b": "two",
			"c": []any{true, nil},
		}, result)
	})
}

func TestQueryHelpers(t *testing.T) {
	t.Run("page_title trims the title", func(t *testing.T) {
		result := evalExtraction(t, `page_title(doc["html"])`)
		require.Equal(t, "Sample Page", result)
	})

	t.Run("query_text returns all matches", func(t *testing.T) {
		result := evalExtraction(t, `query_text(doc["html"], "p")`)
		require.Equal(t, []any{"First paragraph.", "Second paragraph."}, result)
	})

	t.Run("query_text with class selector", func(t *testing.T) {
		result := evalExtraction(t, `query_text(doc["html"], "p.intro")`)
		require.Equal(t, []any{"First paragraph."}, result)
	})

	t.Run("query_text with no matches returns empty list", func(t *testing.T) {
		result := evalExtraction(t, `query_text(doc["html"], "table")`)
		require.Empty(t, result)
	})

	t.Run("query_attr skips elements missing the attribute", func(t *testing.T) {
		result := evalExtraction(t, `query_attr(doc["html"], "a", "href")`)
		require.Equal(t, []any{"https://example.com/a", "https://example.com/b"}, result)
	})

	t.Run("query_html returns inner html", func(t *testing.T) {
		result := evalExtraction(t, `query_html(doc["html"], "h1")`)
		require.Equal(t, []any{"Heading"}, result)
	})

	t.Run("wrong arity yields an evaluation error", func(t *testing.T) {
		engine := NewEngine(ExtractionGlobals())
		program, err := engine.Compile(context.Background(), `page_title()`)
		require.NoError(t, err)
		_, err = program.Eval(context.Background(), nil)
		require.Error(t, err)
	})
}
