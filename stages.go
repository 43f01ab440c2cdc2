package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deepnoodle-ai/distill/fetch"
	"github.com/deepnoodle-ai/distill/htmldoc"
	"github.com/deepnoodle-ai/distill/retry"
	"github.com/deepnoodle-ai/distill/script"
)

// ValidationReportFileName is the validation report artifact written into
// the code_validated flow directory.
const ValidationReportFileName = "validation_report.json"

// MarkdownDirName is the subdirectory of the markdown_converted flow
// directory holding the rendered documents.
const MarkdownDirName = "markdown"

// runStage dispatches one stage. Each stage receives the merged working
// state, calls out to its collaborator, and returns the keys it adds.
func (p *Pipeline) runStage(ctx context.Context, tag Stage, state map[string]any, flowDir string) (map[string]any, error) {
	switch tag {
	case StageTextAnalysis:
		return p.runTextAnalysis(ctx, state)
	case StageVisualAnalysis:
		return p.runVisualAnalysis(ctx, state)
	case StageSynthesized:
		return p.runSynthesis(ctx, state)
	case StageSchema:
		return p.runSchemaGeneration(ctx, state)
	case StageCodeGenerated:
		return p.runCodeGeneration(ctx, state)
	case StageCodeValidated:
		return p.runCodeValidation(ctx, state, flowDir)
	case StageMarkdownConverted:
		return p.runMarkdownConversion(ctx, state, flowDir)
	default:
		return nil, fmt.Errorf("unknown stage: %s", tag)
	}
}

func (p *Pipeline) runTextAnalysis(ctx context.Context, state map[string]any) (map[string]any, error) {
	docs, err := p.loadInputs(ctx, p.config.InputDir)
	if err != nil {
		return nil, err
	}
	summaries := htmldoc.SummaryMaps(htmldoc.SummarizeAll(docs))
	if len(summaries) == 0 {
		return nil, fmt.Errorf("no parseable HTML documents in %s", p.config.InputDir)
	}
	payload, err := p.callAgent(ctx, TaskTextAnalysis, map[string]any{"documents": summaries})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"documents":        summaries,
		"analysis_results": payload,
	}, nil
}

func (p *Pipeline) runVisualAnalysis(ctx context.Context, state map[string]any) (map[string]any, error) {
	payload, err := p.callAgent(ctx, TaskVisualAnalysis, map[string]any{
		"documents":        state["documents"],
		"analysis_results": state["analysis_results"],
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"visual_results": payload}, nil
}

func (p *Pipeline) runSynthesis(ctx context.Context, state map[string]any) (map[string]any, error) {
	payload, err := p.callAgent(ctx, TaskSynthesis, map[string]any{
		"analysis_results": state["analysis_results"],
		"visual_results":   state["visual_results"],
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"synthesized_results": payload}, nil
}

func (p *Pipeline) runSchemaGeneration(ctx context.Context, state map[string]any) (map[string]any, error) {
	payload, err := p.callAgent(ctx, TaskSchemaGeneration, map[string]any{
		"synthesized_results": state["synthesized_results"],
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"json_schema": payload}, nil
}

// runCodeGeneration asks the collaborator for extraction code. Exhausted
// retries do not fail the stage: a deterministic template built from the
// schema is used instead, so downstream stages always have an artifact.
func (p *Pipeline) runCodeGeneration(ctx context.Context, state map[string]any) (map[string]any, error) {
	schema := asMap(state["json_schema"])
	payload, err := p.callAgent(ctx, TaskCodeGeneration, map[string]any{"json_schema": schema})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("code generation failed after retries, using fallback template", "error", err)
		return map[string]any{
			"generated_code": script.FallbackSource(schema),
			"code_fallback":  true,
		}, nil
	}
	code, ok := payload["code"].(string)
	if !ok || code == "" {
		return nil, fmt.Errorf("code generation returned no code")
	}
	return map[string]any{
		"generated_code": code,
		"code_fallback":  false,
	}, nil
}

// runCodeValidation validates (and possibly repairs) the generated code,
// persists the validation report, and runs the validated extractor over the
// batch inputs. Syntax failure without a successful repair blocks the run;
// robustness findings do not.
func (p *Pipeline) runCodeValidation(ctx context.Context, state map[string]any, flowDir string) (map[string]any, error) {
	source, ok := state["generated_code"].(string)
	if !ok || source == "" {
		return nil, fmt.Errorf("no generated code in pipeline state")
	}
	schema := asMap(state["json_schema"])

	report := p.validator.Validate(ctx, source, schema)
	if err := writeJSON(filepath.Join(flowDir, ValidationReportFileName), report); err != nil {
		return nil, err
	}
	p.logger.Info("code validated",
		"valid", report.Valid,
		"syntax_errors", len(report.SyntaxErrors),
		"robustness_issues", len(report.RobustnessIssues),
		"repaired", report.FixedSource != "")
	if !report.Valid && report.FixedSource == "" {
		return nil, NewPipelineError(StageCodeValidated, ErrorTypeFatal,
			fmt.Sprintf("generated code has syntax errors and repair failed: %v", report.SyntaxErrors))
	}
	validated := report.Source(source)

	batchDir := p.config.BatchDir
	if batchDir == "" {
		batchDir = p.config.InputDir
	}
	docs, err := p.loadInputs(ctx, batchDir)
	if err != nil {
		return nil, err
	}
	inputs := make([]script.Input, 0, len(docs))
	for _, doc := range docs {
		inputs = append(inputs, script.Input{Name: doc.Name, Path: doc.Path, Content: doc.Content})
	}

	summary, err := p.executor.Execute(ctx, validated, inputs, flowDir)
	if err != nil {
		// No extractor instance exists: fatal for the whole stage.
		return nil, NewPipelineError(StageCodeValidated, ErrorTypeFatal, err.Error())
	}
	p.lastSummary = summary

	reportMap, err := toMap(report)
	if err != nil {
		return nil, err
	}
	summaryMap, err := toMap(summary)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"validated_code":    validated,
		"validation_report": reportMap,
		"results_dir":       filepath.Join(flowDir, script.ResultsDirName),
		"execution_summary": summaryMap,
	}, nil
}

func (p *Pipeline) runMarkdownConversion(ctx context.Context, state map[string]any, flowDir string) (map[string]any, error) {
	if p.renderer == nil {
		return nil, fmt.Errorf("markdown renderer is not configured")
	}
	resultsDir, ok := state["results_dir"].(string)
	if !ok || resultsDir == "" {
		return nil, fmt.Errorf("no extraction results in pipeline state")
	}
	outDir := filepath.Join(flowDir, MarkdownDirName)
	converted, err := p.renderer.RenderAll(ctx, resultsDir, outDir)
	if err != nil {
		return nil, err
	}
	p.logger.Info("markdown conversion finished", "converted", converted, "dir", outDir)
	return map[string]any{
		"markdown_dir":    outDir,
		"converted_files": converted,
	}, nil
}

// loadInputs reads the HTML documents under dir. When the directory holds
// no HTML but contains a urls.txt, the listed documents are downloaded
// first.
func (p *Pipeline) loadInputs(ctx context.Context, dir string) ([]htmldoc.Document, error) {
	docs, err := htmldoc.LoadDir(dir)
	if err == nil && len(docs) > 0 {
		return docs, nil
	}

	urlsPath := filepath.Join(dir, fetch.URLListFileName)
	if _, statErr := os.Stat(urlsPath); statErr == nil {
		urls, listErr := fetch.LoadURLList(urlsPath)
		if listErr != nil {
			return nil, listErr
		}
		downloader := fetch.NewDownloader(fetch.DownloaderOptions{
			Logger: p.logger,
			Retry: retry.Options{
				MaxAttempts: p.config.MaxAttempts,
				BaseDelay:   p.config.BaseDelay,
				BackoffRate: 2.0,
			},
		})
		if _, dlErr := downloader.DownloadAll(ctx, urls, dir); dlErr != nil {
			return nil, dlErr
		}
		docs, err = htmldoc.LoadDir(dir)
	}
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no HTML documents found in %s", dir)
	}
	return docs, nil
}

// asMap tolerantly converts a state value to a map. Values restored from a
// checkpoint are generic JSON shapes.
func asMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// toMap converts a typed value to the generic payload shape carried in
// checkpoints.
func toMap(value any) (map[string]any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("failed to convert payload: %w", err)
	}
	return out, nil
}

// writeJSON persists a JSON artifact.
func writeJSON(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
