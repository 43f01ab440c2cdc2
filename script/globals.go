package script

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/risor-io/risor/object"
)

// ExtractionGlobals returns the execution environment for generated
// extractors: the Risor builtins plus HTML query helpers backed by goquery.
// The "doc" placeholder is overridden per input at evaluation time.
func ExtractionGlobals() map[string]any {
	globals := BaseGlobals()
	globals["doc"] = map[string]any{}
	globals["page_title"] = object.NewBuiltin("page_title", pageTitleBuiltin)
	globals["query_text"] = object.NewBuiltin("query_text", queryTextBuiltin)
	globals["query_attr"] = object.NewBuiltin("query_attr", queryAttrBuiltin)
	globals["query_html"] = object.NewBuiltin("query_html", queryHTMLBuiltin)
	return globals
}

func parseDocument(html string) (*goquery.Document, *object.Error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, object.NewError(err)
	}
	return doc, nil
}

// page_title(html) returns the trimmed contents of the document's <title>.
func pageTitleBuiltin(ctx context.Context, args ...object.Object) object.Object {
	if len(args) != 1 {
		return object.NewArgsError("page_title", 1, len(args))
	}
	html, argErr := object.AsString(args[0])
	if argErr != nil {
		return argErr
	}
	doc, parseErr := parseDocument(html)
	if parseErr != nil {
		return parseErr
	}
	return object.NewString(strings.TrimSpace(doc.Find("title").First().Text()))
}

// query_text(html, selector) returns the trimmed text of every match.
func queryTextBuiltin(ctx context.Context, args ...object.Object) object.Object {
	if len(args) != 2 {
		return object.NewArgsError("query_text", 2, len(args))
	}
	html, argErr := object.AsString(args[0])
	if argErr != nil {
		return argErr
	}
	selector, argErr := object.AsString(args[1])
	if argErr != nil {
		return argErr
	}
	doc, parseErr := parseDocument(html)
	if parseErr != nil {
		return parseErr
	}
	var items []object.Object
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		items = append(items, object.NewString(strings.TrimSpace(s.Text())))
	})
	return object.NewList(items)
}

// query_attr(html, selector, attr) returns the attribute value of every
// match that has the attribute.
func queryAttrBuiltin(ctx context.Context, args ...object.Object) object.Object {
	if len(args) != 3 {
		return object.NewArgsError("query_attr", 3, len(args))
	}
	html, argErr := object.AsString(args[0])
	if argErr != nil {
		return argErr
	}
	selector, argErr := object.AsString(args[1])
	if argErr != nil {
		return argErr
	}
	attr, argErr := object.AsString(args[2])
	if argErr != nil {
		return argErr
	}
	doc, parseErr := parseDocument(html)
	if parseErr != nil {
		return parseErr
	}
	var items []object.Object
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if value, ok := s.Attr(attr); ok {
			items = append(items, object.NewString(value))
		}
	})
	return object.NewList(items)
}

// query_html(html, selector) returns the inner HTML of every match.
func queryHTMLBuiltin(ctx context.Context, args ...object.Object) object.Object {
	if len(args) != 2 {
		return object.NewArgsError("query_html", 2, len(args))
	}
	html, argErr := object.AsString(args[0])
	if argErr != nil {
		return argErr
	}
	selector, argErr := object.AsString(args[1])
	if argErr != nil {
		return argErr
	}
	doc, parseErr := parseDocument(html)
	if parseErr != nil {
		return parseErr
	}
	var items []object.Object
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		inner, err := s.Html()
		if err != nil {
			return
		}
		items = append(items, object.NewString(inner))
	})
	return object.NewList(items)
}
