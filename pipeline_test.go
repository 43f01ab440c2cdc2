package distill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testExtractorSource = `
func extract(doc) {
    html := doc["html"]
    texts := try(func() { return query_text(html, "p") }, [])
    body := ""
    if len(texts) > 0 {
        body = texts[0]
    }
    return {"title": page_title(html), "body": body}
}
`

// fakeAgent returns canned payloads per task and records every call.
type fakeAgent struct {
	mu    sync.Mutex
	calls []Task
	fail  map[Task]error
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{fail: map[Task]error{}}
}

func (a *fakeAgent) Call(ctx context.Context, task Task, input map[string]any) (map[string]any, error) {
	a.mu.Lock()
	a.calls = append(a.calls, task)
	a.mu.Unlock()

	if err := a.fail[task]; err != nil {
		return nil, err
	}
	switch task {
	case TaskTextAnalysis:
		return map[string]any{"sections": []any{"title", "body"}}, nil
	case TaskVisualAnalysis:
		return map[string]any{"regions": []any{"header", "main"}}, nil
	case TaskSynthesis:
		return map[string]any{"sections": []any{"title", "body"}, "merged": true}, nil
	case TaskSchemaGeneration:
		return map[string]any{"title": "string", "body": "string"}, nil
	case TaskCodeGeneration, TaskCodeRepair:
		return map[string]any{"code": testExtractorSource}, nil
	case TaskMarkdownConversion:
		return map[string]any{"markdown": "# converted"}, nil
	default:
		return nil, fmt.Errorf("unexpected task %s", task)
	}
}

func (a *fakeAgent) called(task Task) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, called := range a.calls {
		if called == task {
			return true
		}
	}
	return false
}

// fakeRenderer writes one .md per .json result.
type fakeRenderer struct{}

func (fakeRenderer) RenderAll(ctx context.Context, resultsDir, outDir string) (int, error) {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, err
	}
	converted := 0
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json") + ".md"
		if err := os.WriteFile(filepath.Join(outDir, name), []byte("# doc\n"), 0644); err != nil {
			return converted, err
		}
		converted++
	}
	return converted, nil
}

func writeInputDocs(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range names {
		html := fmt.Sprintf("<html><head><title>%s</title></head><body><p>Body of %s</p></body></html>", name, name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(html), 0644))
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	inputDir := filepath.Join(root, "input")
	writeInputDocs(t, inputDir, "alpha.html", "beta.html")
	return &Config{
		InputDir:       inputDir,
		OutputRoot:     filepath.Join(root, "output"),
		Resume:         true,
		VisualAnalysis: true,
		AutoIncrement:  true,
		MaxAttempts:    1,
		BaseDelay:      time.Millisecond,
	}
}

func newTestPipeline(t *testing.T, config *Config, agent Agent) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(PipelineOptions{
		Config:   config,
		Agent:    agent,
		Renderer: fakeRenderer{},
	})
	require.NoError(t, err)
	return pipeline
}

func TestNewPipelineValidation(t *testing.T) {
	t.Run("missing config returns error", func(t *testing.T) {
		_, err := NewPipeline(PipelineOptions{Agent: newFakeAgent()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "config is required")
	})

	t.Run("missing agent returns error", func(t *testing.T) {
		_, err := NewPipeline(PipelineOptions{Config: testConfig(t)})
		require.Error(t, err)
		require.Contains(t, err.Error(), "agent is required")
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		config := testConfig(t)
		config.OutputRoot = ""
		_, err := NewPipeline(PipelineOptions{Config: config, Agent: newFakeAgent()})
		require.Error(t, err)
	})
}

func TestPipelineRun_FullSequence(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	agent := newFakeAgent()
	pipeline := newTestPipeline(t, config, agent)

	result, err := pipeline.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StageSequence(), result.Completed)
	require.Empty(t, result.Skipped)

	// One flow per stage, each holding a checkpoint for that stage.
	flows := ListFlows(config.OutputRoot)
	require.Len(t, flows, len(StageSequence()))
	for i, flow := range flows {
		checkpointer, err := NewFileCheckpointer(flow.Dir)
		require.NoError(t, err)
		checkpoint, err := checkpointer.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, checkpoint)
		require.Equal(t, StageSequence()[i], checkpoint.Step)
	}

	// Both inputs were extracted and persisted.
	require.NotNil(t, result.Summary)
	require.Equal(t, 2, result.Summary.TotalFiles)
	require.Equal(t, 2, result.Summary.ProcessedFiles)
	require.Equal(t, 0, result.Summary.FailedFiles)

	// The final checkpoint embeds the full accumulated state.
	last, err := NewFileCheckpointer(flows[len(flows)-1].Dir)
	require.NoError(t, err)
	checkpoint, err := last.Load(ctx)
	require.NoError(t, err)
	for _, key := range []string{
		"analysis_results", "visual_results", "synthesized_results",
		"json_schema", "generated_code", "validated_code",
		"results_dir", "markdown_dir",
	} {
		require.Contains(t, checkpoint.Data, key)
	}

	// Markdown documents were rendered from the results.
	markdownDir := checkpoint.Data["markdown_dir"].(string)
	entries, err := os.ReadDir(markdownDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestPipelineRun_ResumeFromSchema(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)

	// Simulate a prior run that completed through the schema stage.
	flowDir, err := FlowDir(config.OutputRoot, 1)
	require.NoError(t, err)
	checkpointer, err := NewFileCheckpointer(flowDir)
	require.NoError(t, err)
	require.NoError(t, checkpointer.Save(ctx, StageSchema, map[string]any{
		"analysis_results":    map[string]any{"sections": []any{"title", "body"}},
		"visual_results":      map[string]any{"regions": []any{"main"}},
		"synthesized_results": map[string]any{"merged": true},
		"json_schema":         map[string]any{"title": "string", "body": "string"},
	}))

	agent := newFakeAgent()
	pipeline := newTestPipeline(t, config, agent)
	result, err := pipeline.Run(ctx)
	require.NoError(t, err)

	require.Equal(t, []Stage{
		StageTextAnalysis, StageVisualAnalysis, StageSynthesized, StageSchema,
	}, result.Skipped)
	require.Equal(t, []Stage{
		StageCodeGenerated, StageCodeValidated, StageMarkdownConverted,
	}, result.Completed)

	// Completed stages were not re-invoked against the collaborator.
	require.False(t, agent.called(TaskTextAnalysis))
	require.False(t, agent.called(TaskVisualAnalysis))
	require.False(t, agent.called(TaskSynthesis))
	require.False(t, agent.called(TaskSchemaGeneration))
	require.True(t, agent.called(TaskCodeGeneration))
}

func TestPipelineRun_FailedStageIsNotCheckpointed(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)

	agent := newFakeAgent()
	agent.fail[TaskSchemaGeneration] = fmt.Errorf("model unavailable")
	pipeline := newTestPipeline(t, config, agent)

	_, err := pipeline.Run(ctx)
	require.Error(t, err)

	// The three stages before the failure are checkpointed; the failed
	// stage's flow directory has no checkpoint.
	var tags []Stage
	for _, flow := range ListFlows(config.OutputRoot) {
		checkpointer, cerr := NewFileCheckpointer(flow.Dir)
		require.NoError(t, cerr)
		checkpoint, cerr := checkpointer.Load(ctx)
		require.NoError(t, cerr)
		if checkpoint != nil {
			tags = append(tags, checkpoint.Step)
		}
	}
	require.Equal(t, []Stage{StageTextAnalysis, StageVisualAnalysis, StageSynthesized}, tags)

	// A fresh run resumes at the failed stage and finishes.
	agent2 := newFakeAgent()
	pipeline2 := newTestPipeline(t, config, agent2)
	result, err := pipeline2.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []Stage{StageTextAnalysis, StageVisualAnalysis, StageSynthesized}, result.Skipped)
	require.Equal(t, StageSchema, result.Completed[0])
	require.False(t, agent2.called(TaskTextAnalysis))
	require.True(t, agent2.called(TaskSchemaGeneration))
}

func TestPipelineRun_ForcedRestartIgnoresCheckpoints(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)

	flowDir, err := FlowDir(config.OutputRoot, 1)
	require.NoError(t, err)
	checkpointer, err := NewFileCheckpointer(flowDir)
	require.NoError(t, err)
	require.NoError(t, checkpointer.Save(ctx, StageSchema, map[string]any{
		"json_schema": map[string]any{"title": "string"},
	}))

	config.Resume = false
	agent := newFakeAgent()
	pipeline := newTestPipeline(t, config, agent)
	result, err := pipeline.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StageSequence(), result.Completed)
	require.True(t, agent.called(TaskTextAnalysis))
	require.True(t, agent.called(TaskSchemaGeneration))
}

func TestPipelineRun_VisualAnalysisDisabled(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.VisualAnalysis = false

	agent := newFakeAgent()
	pipeline := newTestPipeline(t, config, agent)
	result, err := pipeline.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []Stage{StageVisualAnalysis}, result.Skipped)
	require.False(t, agent.called(TaskVisualAnalysis))
	require.Len(t, result.Completed, len(StageSequence())-1)
}

func TestPipelineRun_CorruptCheckpointReruns(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)

	flowDir, err := FlowDir(config.OutputRoot, 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(flowDir, CheckpointFileName), []byte("{broken"), 0644))

	agent := newFakeAgent()
	pipeline := newTestPipeline(t, config, agent)
	result, err := pipeline.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, result.Skipped)
	require.True(t, agent.called(TaskTextAnalysis))
}

func TestPipelineRun_SingleFlowMode(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.AutoIncrement = false
	config.FlowID = 5

	agent := newFakeAgent()
	pipeline := newTestPipeline(t, config, agent)
	result, err := pipeline.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StageSequence(), result.Completed)

	flows := ListFlows(config.OutputRoot)
	require.Len(t, flows, 1)
	require.Equal(t, 5, flows[0].ID)

	// The single shared checkpoint records the final stage.
	checkpointer, err := NewFileCheckpointer(flows[0].Dir)
	require.NoError(t, err)
	checkpoint, err := checkpointer.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, StageMarkdownConverted, checkpoint.Step)
}

func TestRecoverMergesLaterStagesOverEarlier(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)

	flow1, err := FlowDir(config.OutputRoot, 1)
	require.NoError(t, err)
	c1, err := NewFileCheckpointer(flow1)
	require.NoError(t, err)
	require.NoError(t, c1.Save(ctx, StageTextAnalysis, map[string]any{
		"analysis_results": "old",
		"only_in_first":    "kept",
	}))

	flow2, err := FlowDir(config.OutputRoot, 2)
	require.NoError(t, err)
	c2, err := NewFileCheckpointer(flow2)
	require.NoError(t, err)
	require.NoError(t, c2.Save(ctx, StageSynthesized, map[string]any{
		"analysis_results":    "new",
		"synthesized_results": "merged",
	}))

	pipeline := newTestPipeline(t, config, newFakeAgent())
	completed, state := pipeline.recover(ctx)

	require.Equal(t, map[Stage]int{StageTextAnalysis: 1, StageSynthesized: 2}, completed)
	require.Equal(t, "new", state["analysis_results"])
	require.Equal(t, "kept", state["only_in_first"])
	require.Equal(t, "merged", state["synthesized_results"])
}
