// Package gemini implements the distill.Agent collaborator on the Google
// Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/deepnoodle-ai/distill"
)

const model = "gemini-2.5-flash"

// Ensure Agent implements distill.Agent at compile time.
var _ distill.Agent = (*Agent)(nil)

// Agent answers pipeline tasks with Gemini.
type Agent struct {
	client *genai.Client
	logger *slog.Logger
}

// NewAgent creates a new Agent.
func NewAgent(client *genai.Client, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{client: client, logger: logger}
}

// Call builds the prompt for the task, invokes the model, and parses the
// response into the task's payload shape.
func (a *Agent) Call(ctx context.Context, task distill.Task, input map[string]any) (map[string]any, error) {
	system, user, err := BuildPrompt(task, input)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		Temperature: temperatureFor(task),
	}
	if wantsJSON(task) {
		config.ResponseMIMEType = "application/json"
	}

	a.logger.Debug("calling collaborator", "task", task, "model", model)
	result, err := a.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{{
			Parts: []*genai.Part{{Text: user}},
		}},
		config,
	)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", task, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%s call returned nil result", task)
	}

	return ParseResponse(task, result.Text())
}

func temperatureFor(task distill.Task) *float32 {
	temp := float32(0.4)
	switch task {
	case distill.TaskCodeGeneration, distill.TaskCodeRepair:
		temp = 0.2
	}
	return &temp
}

// wantsJSON reports whether the task's response is a JSON object rather
// than source code or Markdown text.
func wantsJSON(task distill.Task) bool {
	switch task {
	case distill.TaskCodeGeneration, distill.TaskCodeRepair, distill.TaskMarkdownConversion:
		return false
	}
	return true
}

// ParseResponse converts raw model output into the task's payload map.
func ParseResponse(task distill.Task, text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	switch task {
	case distill.TaskCodeGeneration, distill.TaskCodeRepair:
		code := StripCodeFences(text)
		if code == "" {
			return nil, fmt.Errorf("%s returned no code", task)
		}
		return map[string]any{"code": code}, nil
	case distill.TaskMarkdownConversion:
		if text == "" {
			return nil, fmt.Errorf("%s returned no content", task)
		}
		return map[string]any{"markdown": StripCodeFences(text)}, nil
	default:
		payload := map[string]any{}
		if err := json.Unmarshal([]byte(StripCodeFences(text)), &payload); err != nil {
			return nil, fmt.Errorf("%s returned invalid JSON: %w", task, err)
		}
		return payload, nil
	}
}

// StripCodeFences removes a surrounding Markdown code fence, if present.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	// Drop the opening fence line (with any language tag) and a closing
	// fence line if one exists.
	lines = lines[1:]
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			lines = append(lines[:i], lines[i+1:]...)
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
