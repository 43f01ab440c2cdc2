package distill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.jetify.com/typeid"

	"github.com/deepnoodle-ai/distill/retry"
	"github.com/deepnoodle-ai/distill/script"
)

// NewRunID returns a new identifier for a pipeline run.
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// MarkdownRenderer converts extraction results into Markdown documents.
// The markdown package provides the html-to-markdown backed implementation.
type MarkdownRenderer interface {
	RenderAll(ctx context.Context, resultsDir, outDir string) (int, error)
}

// PipelineOptions configures a new Pipeline.
type PipelineOptions struct {
	Config    *Config
	Agent     Agent
	Renderer  MarkdownRenderer
	Logger    *slog.Logger
	Validator *script.Validator
	Executor  *script.Executor
	RunID     string
}

// Pipeline drives the fixed stage sequence: it orders stages, passes each
// stage's output forward, checkpoints completed stages, and recovers
// progress from checkpoints at startup. It never interprets payload
// semantics beyond moving required keys between stages.
type Pipeline struct {
	config    *Config
	agent     Agent
	renderer  MarkdownRenderer
	logger    *slog.Logger
	validator *script.Validator
	executor  *script.Executor
	runID     string

	// currentFlow is reused for every stage when auto-increment is off.
	currentFlow  Flow
	overrideUsed bool

	// lastSummary holds the batch execution summary from the most recent
	// code_validated stage, surfaced on the RunResult.
	lastSummary *script.ExecutionSummary
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Executor == nil {
		opts.Executor = script.NewExecutor(opts.Logger)
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	p := &Pipeline{
		config:    opts.Config,
		agent:     opts.Agent,
		renderer:  opts.Renderer,
		logger:    opts.Logger,
		validator: opts.Validator,
		executor:  opts.Executor,
		runID:     opts.RunID,
	}
	if p.validator == nil {
		p.validator = script.NewValidator(script.ValidatorOptions{
			Repairer: &agentRepairer{pipeline: p},
			Logger:   opts.Logger,
		})
	}
	return p, nil
}

// RunResult reports what a pipeline run did.
type RunResult struct {
	RunID     string                   `json:"run_id"`
	Completed []Stage                  `json:"completed"`
	Skipped   []Stage                  `json:"skipped"`
	Summary   *script.ExecutionSummary `json:"summary,omitempty"`
	StartTime time.Time                `json:"start_time"`
	EndTime   time.Time                `json:"end_time"`
}

// Run executes the pipeline, resuming from checkpoints unless resume is
// disabled. A stage failure halts the run without checkpointing that stage;
// the next run re-runs it.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{RunID: p.runID, StartTime: time.Now()}
	defer func() { result.EndTime = time.Now() }()

	state := map[string]any{}
	resumeAfter := -1
	if p.config.Resume {
		var completed map[Stage]int
		completed, state = p.recover(ctx)
		for tag, flowID := range completed {
			if idx := tag.Index(); idx > resumeAfter {
				resumeAfter = idx
			}
			p.logger.Info("found checkpoint", "stage", tag, "flow", flowID)
		}
	}

	for _, tag := range stageOrder {
		if tag == StageVisualAnalysis && !p.config.VisualAnalysis {
			p.logger.Info("stage disabled by configuration, skipping", "stage", tag)
			result.Skipped = append(result.Skipped, tag)
			continue
		}
		if tag.Index() <= resumeAfter {
			p.logger.Info("stage restored from checkpoint, skipping", "stage", tag)
			result.Skipped = append(result.Skipped, tag)
			continue
		}

		flow, err := p.allocateFlow()
		if err != nil {
			return result, ClassifyError(tag, err)
		}
		p.logger.Info("running stage", "stage", tag, "flow", flow.ID, "run", p.runID)

		payload, err := p.runStage(ctx, tag, state, flow.Dir)
		if err != nil {
			p.logger.Error("stage failed", "stage", tag, "flow", flow.ID, "error", err)
			return result, ClassifyError(tag, err)
		}
		for key, value := range payload {
			state[key] = value
		}

		checkpointer, err := NewFileCheckpointer(flow.Dir)
		if err != nil {
			return result, ClassifyError(tag, err)
		}
		// The checkpoint carries the full merged state, so any later run
		// can restore everything from the newest checkpoint alone.
		if err := checkpointer.Save(ctx, tag, state); err != nil {
			return result, ClassifyError(tag, err)
		}
		p.logger.Info("stage completed", "stage", tag, "flow", flow.ID)
		result.Completed = append(result.Completed, tag)

		if tag == StageCodeValidated {
			result.Summary = p.lastSummary
		}
	}
	return result, nil
}

// recover scans all flow directories under the output root, loads every
// parseable checkpoint in flow-id order, and merges their payloads. Later
// checkpoints win key collisions, since stage payloads are supersets of
// their predecessors. Completion is keyed off the stage tag recorded in
// each checkpoint, never off the flow id.
func (p *Pipeline) recover(ctx context.Context) (map[Stage]int, map[string]any) {
	completed := map[Stage]int{}
	state := map[string]any{}
	for _, flow := range ListFlows(p.config.OutputRoot) {
		checkpointer, err := NewFileCheckpointer(flow.Dir)
		if err != nil {
			continue
		}
		checkpoint, err := checkpointer.Load(ctx)
		if err != nil || checkpoint == nil {
			continue
		}
		if !checkpoint.Step.Known() {
			p.logger.Warn("ignoring checkpoint with unknown stage tag",
				"flow", flow.ID, "stage", checkpoint.Step)
			continue
		}
		completed[checkpoint.Step] = flow.ID
		for key, value := range checkpoint.Data {
			state[key] = value
		}
	}
	return completed, state
}

// allocateFlow picks the flow directory for the next stage. A configured
// flow-id override applies to the first allocation only; with
// auto-increment disabled every stage shares the first allocated flow.
func (p *Pipeline) allocateFlow() (Flow, error) {
	if !p.config.AutoIncrement && p.currentFlow.ID != 0 {
		return p.currentFlow, nil
	}
	var id int
	if p.config.FlowID > 0 && !p.overrideUsed {
		id = p.config.FlowID
		p.overrideUsed = true
	} else {
		id = NextFlowID(p.config.OutputRoot)
	}
	dir, err := FlowDir(p.config.OutputRoot, id)
	if err != nil {
		return Flow{}, err
	}
	p.currentFlow = Flow{ID: id, Dir: dir}
	return p.currentFlow, nil
}

// callAgent invokes the external collaborator with the configured bounded
// retry policy.
func (p *Pipeline) callAgent(ctx context.Context, task Task, input map[string]any) (map[string]any, error) {
	opts := retry.Options{
		MaxAttempts: p.config.MaxAttempts,
		BaseDelay:   p.config.BaseDelay,
		MaxDelay:    30 * time.Second,
		BackoffRate: 2.0,
		OnRetry: func(attempt int, err error) {
			p.logger.Warn("collaborator call failed, retrying",
				"task", task, "attempt", attempt, "error", err)
		},
	}
	return retry.DoValue(ctx, opts, func(ctx context.Context) (map[string]any, error) {
		return p.agent.Call(ctx, task, input)
	})
}

// agentRepairer adapts the pipeline's collaborator to the validator's
// Repairer interface.
type agentRepairer struct {
	pipeline *Pipeline
}

func (r *agentRepairer) Repair(ctx context.Context, source string, schema map[string]any, findings []string) (string, error) {
	payload, err := r.pipeline.callAgent(ctx, TaskCodeRepair, map[string]any{
		"code":        source,
		"findings":    findings,
		"json_schema": schema,
	})
	if err != nil {
		return "", err
	}
	code, ok := payload["code"].(string)
	if !ok || code == "" {
		return "", fmt.Errorf("repair call returned no code")
	}
	return code, nil
}
