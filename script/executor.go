package script

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ResultsDirName is the subdirectory of a flow directory that holds one JSON
// artifact per processed input.
const ResultsDirName = "extraction_results"

// SummaryFileName is the aggregate summary written after all inputs finish.
const SummaryFileName = "extraction_results_summary.json"

// Input is one HTML document for the extractor to process.
type Input struct {
	Name    string
	Path    string
	Content string
}

// ExecutionItem records the outcome for a single input.
type ExecutionItem struct {
	File       string `json:"file"`
	Path       string `json:"path,omitempty"`
	Status     string `json:"status"`
	ResultFile string `json:"result_file,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExecutionSummary aggregates per-input outcomes for one batch run. Exactly
// one entry exists per input, in input order; ProcessedFiles plus
// FailedFiles always equals TotalFiles.
type ExecutionSummary struct {
	TotalFiles       int             `json:"total_files"`
	ProcessedFiles   int             `json:"processed_files"`
	FailedFiles      int             `json:"failed_files"`
	ResultsDirectory string          `json:"results_directory"`
	Results          []ExecutionItem `json:"results"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Executor runs validated extraction code over a batch of inputs.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{logger: logger}
}

// Execute compiles source into a fresh program and runs its extract entry
// point once per input. A failure for one input is recorded and does not
// stop the batch; each successful result is persisted to outDir before the
// next input runs, and the aggregate summary is written last. Re-running
// with the same inputs overwrites prior outputs.
//
// A source without the required entry point, or one that fails to compile,
// is a load failure: no extractor exists, so no partial results are
// produced.
func (x *Executor) Execute(ctx context.Context, source string, inputs []Input, outDir string) (*ExecutionSummary, error) {
	if !reEntryPoint.MatchString(source) {
		return nil, fmt.Errorf("generated code must define a top-level 'extract' function")
	}

	// A fresh engine and program per call: generated artifacts from
	// different runs never share loaded symbols.
	engine := NewEngine(ExtractionGlobals())
	driver := source + "\n\nextract(doc)\n"
	program, err := engine.Compile(ctx, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to load extraction code: %w", err)
	}

	resultsDir := filepath.Join(outDir, ResultsDirName)
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	summary := &ExecutionSummary{
		TotalFiles:       len(inputs),
		ResultsDirectory: ResultsDirName,
		Results:          make([]ExecutionItem, 0, len(inputs)),
	}

	for _, input := range inputs {
		item := x.runOne(ctx, program, input, resultsDir)
		if item.Status == StatusSuccess {
			summary.ProcessedFiles++
		} else {
			summary.FailedFiles++
			x.logger.Error("extraction failed", "file", input.Name, "error", item.Error)
		}
		summary.Results = append(summary.Results, item)
	}

	summaryPath := filepath.Join(outDir, SummaryFileName)
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution summary: %w", err)
	}
	if err := os.WriteFile(summaryPath, payload, 0644); err != nil {
		return nil, fmt.Errorf("failed to write execution summary: %w", err)
	}
	x.logger.Info("batch extraction finished",
		"total", summary.TotalFiles,
		"processed", summary.ProcessedFiles,
		"failed", summary.FailedFiles)
	return summary, nil
}

// runOne evaluates the program against a single input behind a failure
// boundary: any error, including a panic escaping the engine, is recorded
// on the item rather than propagated.
func (x *Executor) runOne(ctx context.Context, program *Program, input Input, resultsDir string) (item ExecutionItem) {
	item = ExecutionItem{File: input.Name, Path: input.Path}

	defer func() {
		if r := recover(); r != nil {
			item.Status = StatusFailed
			item.Error = fmt.Sprintf("extractor panicked: %v", r)
		}
	}()

	content := input.Content
	if content == "" && input.Path != "" {
		payload, err := os.ReadFile(input.Path)
		if err != nil {
			item.Status = StatusFailed
			item.Error = fmt.Sprintf("failed to read input: %v", err)
			return item
		}
		content = string(payload)
	}
	if content == "" {
		item.Status = StatusFailed
		item.Error = "no HTML content available"
		return item
	}

	result, err := program.Eval(ctx, map[string]any{
		"doc": map[string]any{
			"html": content,
			"path": input.Path,
			"name": input.Name,
		},
	})
	if err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
		return item
	}

	mapped, ok := result.(map[string]any)
	if !ok {
		item.Status = StatusFailed
		item.Error = fmt.Sprintf("extract must return a map, got %T", result)
		return item
	}

	resultFile := ResultFileName(input.Name)
	payload, err := json.MarshalIndent(mapped, "", "  ")
	if err != nil {
		item.Status = StatusFailed
		item.Error = fmt.Sprintf("failed to marshal result: %v", err)
		return item
	}
	if err := os.WriteFile(filepath.Join(resultsDir, resultFile), payload, 0644); err != nil {
		item.Status = StatusFailed
		item.Error = fmt.Sprintf("failed to write result: %v", err)
		return item
	}

	item.Status = StatusSuccess
	item.ResultFile = resultFile
	return item
}

var reUnsafeFileName = regexp.MustCompile(`[^\w\-.]`)

// ResultFileName derives the output artifact name from an input name:
// the .html/.htm extension is dropped, unsafe characters are replaced, and
// .json is appended.
func ResultFileName(name string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".html"), ".htm")
	if base == "" {
		base = "result"
	}
	return reUnsafeFileName.ReplaceAllString(base, "_") + ".json"
}
