package gemini

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/distill"
)

// extractorContract describes the runtime environment the generated Risor
// code runs in. It is included verbatim in code generation and repair
// prompts.
const extractorContract = `The code must be written in the Risor scripting language and define exactly one
top-level function:

    func extract(doc) { ... }

doc is a map with keys "html" (raw document text), "path", and "name". The
function must return a map from schema section names to extracted values.
Available helpers: page_title(html), query_text(html, selector),
query_attr(html, selector, attr), query_html(html, selector), plus the Risor
builtins (len, try, string, sprintf, ...). Do not use import statements.
Use lowercase true/false/nil literals. Wrap parsing operations in try() and
check len() before indexing query results.`

// BuildPrompt returns the system and user prompts for a task.
func BuildPrompt(task distill.Task, input map[string]any) (system string, user string, err error) {
	switch task {
	case distill.TaskTextAnalysis:
		return "You are an expert HTML structure analyst. Respond with a single JSON object describing the content regions shared by the sample documents.",
			buildContextPrompt("Analyze the structure of these HTML documents and identify their common content sections.", map[string]any{
				"documents": input["documents"],
			}), nil

	case distill.TaskVisualAnalysis:
		return "You are an expert in visual page layout analysis. Respond with a single JSON object describing the visually significant regions of the documents.",
			buildContextPrompt("Identify the visually prominent regions of these documents, given the prior text analysis.", map[string]any{
				"documents":        input["documents"],
				"analysis_results": input["analysis_results"],
			}), nil

	case distill.TaskSynthesis:
		return "You are coordinating multiple analysis results into one consolidated view. Respond with a single JSON object.",
			buildContextPrompt("Merge the text and visual analyses into a single consolidated description of the documents' content structure.", map[string]any{
				"analysis_results": input["analysis_results"],
				"visual_results":   input["visual_results"],
			}), nil

	case distill.TaskSchemaGeneration:
		return "You are an expert at designing JSON schemas for extracted web content. Respond with a single JSON object: the schema itself, mapping section names to field descriptions.",
			buildContextPrompt("Generate a JSON schema describing the structured data to extract from documents with this content structure.", map[string]any{
				"synthesized_results": input["synthesized_results"],
			}), nil

	case distill.TaskCodeGeneration:
		return "You are an expert Risor programmer generating HTML extraction code. Respond with only the code, no explanations.\n\n" + extractorContract,
			buildContextPrompt("Generate extraction code implementing this schema.", map[string]any{
				"json_schema": input["json_schema"],
			}), nil

	case distill.TaskCodeRepair:
		return "You are an expert Risor code reviewer. Fix every reported issue and improve robustness without changing the extraction behavior. Respond with only the corrected code.\n\n" + extractorContract,
			buildRepairPrompt(input), nil

	case distill.TaskMarkdownConversion:
		return "You convert structured extraction results into clean, readable Markdown documents. Respond with only the Markdown.",
			buildContextPrompt("Convert this extraction result into a well-formatted Markdown document.", map[string]any{
				"name":   input["name"],
				"result": input["result"],
			}), nil

	default:
		return "", "", fmt.Errorf("unknown task: %s", task)
	}
}

// buildContextPrompt renders the instruction followed by each context value
// as a labeled JSON block.
func buildContextPrompt(instruction string, contextValues map[string]any) string {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n")
	for _, key := range sortedKeys(contextValues) {
		value := contextValues[key]
		if value == nil {
			continue
		}
		fmt.Fprintf(&sb, "\n<%s>\n%s\n</%s>\n", key, toJSON(value), key)
	}
	return sb.String()
}

func buildRepairPrompt(input map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Fix the issues found in this extraction code.\n")
	if code, ok := input["code"].(string); ok {
		fmt.Fprintf(&sb, "\n<code>\n%s\n</code>\n", code)
	}
	if findings, ok := input["findings"].([]string); ok && len(findings) > 0 {
		sb.WriteString("\n<findings>\n")
		for _, finding := range findings {
			fmt.Fprintf(&sb, "- %s\n", finding)
		}
		sb.WriteString("</findings>\n")
	}
	if schema, ok := input["json_schema"]; ok && schema != nil {
		fmt.Fprintf(&sb, "\n<json_schema>\n%s\n</json_schema>\n", toJSON(schema))
	}
	return sb.String()
}

func toJSON(value any) string {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(payload)
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	// Map iteration order is not stable; sort for deterministic prompts.
	sort.Strings(keys)
	return keys
}
