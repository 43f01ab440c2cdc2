package script

import (
	"fmt"
	"sort"
	"strings"
)

// FallbackSource generates a minimal extractor from the schema's top-level
// sections. It is used when code generation exhausts its retries: every
// section is filled with the page body text so downstream stages still
// receive well-formed results.
func FallbackSource(schema map[string]any) string {
	keys := make([]string, 0, len(schema))
	for key := range schema {
		if strings.HasPrefix(key, "$") || strings.HasPrefix(key, "_") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("// Fallback extractor generated from schema.\n")
	sb.WriteString("func extract(doc) {\n")
	sb.WriteString("    html := doc[\"html\"]\n")
	sb.WriteString("    result := {\"_fallback\": true}\n")
	sb.WriteString("    result[\"title\"] = page_title(html)\n")
	sb.WriteString("    body := query_text(html, \"body\")\n")
	for _, key := range keys {
		fmt.Fprintf(&sb, "    if len(body) > 0 { result[%q] = body[0] } else { result[%q] = \"\" }\n", key, key)
	}
	sb.WriteString("    return result\n")
	sb.WriteString("}\n")
	return sb.String()
}
