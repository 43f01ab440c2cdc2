package distill

import "context"

// Task identifies the kind of work requested from the external collaborator.
type Task string

const (
	TaskTextAnalysis       Task = "text_analysis"
	TaskVisualAnalysis     Task = "visual_analysis"
	TaskSynthesis          Task = "synthesis"
	TaskSchemaGeneration   Task = "schema_generation"
	TaskCodeGeneration     Task = "code_generation"
	TaskCodeRepair         Task = "code_repair"
	TaskMarkdownConversion Task = "markdown_conversion"
)

// Agent is the external AI collaborator interface. The request carries a
// structured context built from prior-stage payloads; the response carries a
// stage-specific payload. The pipeline never interprets payload semantics
// beyond passing required keys forward.
type Agent interface {
	Call(ctx context.Context, task Task, input map[string]any) (map[string]any, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, task Task, input map[string]any) (map[string]any, error)

func (f AgentFunc) Call(ctx context.Context, task Task, input map[string]any) (map[string]any, error) {
	return f(ctx, task, input)
}
