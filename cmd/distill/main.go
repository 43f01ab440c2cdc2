package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"google.golang.org/genai"

	"github.com/deepnoodle-ai/distill"
	"github.com/deepnoodle-ai/distill/gemini"
	"github.com/deepnoodle-ai/distill/markdown"
)

// CLI configuration
type cliConfig struct {
	ConfigFile      string
	InputDir        string
	BatchDir        string
	OutputRoot      string
	NoResume        bool
	NoVisual        bool
	NoAutoIncrement bool
	FlowID          int
	Timeout         time.Duration
	Verbose         bool
	JSON            bool
}

func main() {
	cli := parseFlags()

	config, err := buildConfig(cli)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	var logger *slog.Logger
	if cli.JSON {
		logger = distill.NewJSONLogger(level)
	} else {
		logger = distill.NewLogger(level)
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if cli.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", cli.Timeout)
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		color.Red("Error: GEMINI_API_KEY environment variable not set")
		os.Exit(1)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Fatalf("Failed to create Gemini client: %v", err)
	}
	agent := gemini.NewAgent(client, logger)

	pipeline, err := distill.NewPipeline(distill.PipelineOptions{
		Config:   config,
		Agent:    agent,
		Renderer: markdown.NewRenderer(markdown.RendererOptions{Agent: agent, Logger: logger}),
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	color.Blue("Input: %s", config.InputDir)
	color.Blue("Output: %s", config.OutputRoot)
	if config.Resume {
		color.Cyan("Resume: enabled")
	} else {
		color.Cyan("Resume: disabled (fresh run)")
	}

	result, err := pipeline.Run(ctx)
	showResult(result, err, cli.JSON)
	if err != nil {
		os.Exit(1)
	}
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to a YAML configuration file (optional)")
	flag.StringVar(&cli.InputDir, "input", "", "Directory of sample HTML documents")
	flag.StringVar(&cli.InputDir, "i", "", "Directory of sample HTML documents (shorthand)")
	flag.StringVar(&cli.BatchDir, "batch", "", "Directory of HTML documents to run the extractor over (default: input dir)")
	flag.StringVar(&cli.OutputRoot, "output", "", "Output root for flow directories")
	flag.StringVar(&cli.OutputRoot, "o", "", "Output root for flow directories (shorthand)")
	flag.BoolVar(&cli.NoResume, "no-resume", false, "Disable checkpoint resume and restart from the first stage")
	flag.BoolVar(&cli.NoVisual, "no-visual", false, "Disable the optional visual analysis stage")
	flag.BoolVar(&cli.NoAutoIncrement, "no-auto-increment", false, "Write every stage into a single flow directory")
	flag.IntVar(&cli.FlowID, "flow-id", 0, "Force the first allocated flow to use this id")
	flag.DurationVar(&cli.Timeout, "timeout", 0, "Run timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&cli.Timeout, "t", 0, "Run timeout (shorthand)")
	flag.BoolVar(&cli.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&cli.Verbose, "v", false, "Enable verbose logging (shorthand)")
	flag.BoolVar(&cli.JSON, "json", false, "Log and report in JSON format")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `distill - checkpointed HTML content-extraction pipeline

Usage: %s [options]

Examples:
  # Run against a directory of sample documents
  %s -input ./input/html -output ./output

  # Restart from scratch, skipping visual analysis
  %s -input ./input/html -output ./output -no-resume -no-visual

Options:
`, os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return cli
}

// buildConfig layers CLI flags over the config file (or the defaults).
func buildConfig(cli *cliConfig) (*distill.Config, error) {
	var config distill.Config
	if cli.ConfigFile != "" {
		loaded, err := distill.LoadConfig(cli.ConfigFile)
		if err != nil {
			return nil, err
		}
		config = *loaded
	} else {
		config = distill.DefaultConfig()
	}

	if cli.InputDir != "" {
		config.InputDir = cli.InputDir
	}
	if cli.BatchDir != "" {
		config.BatchDir = cli.BatchDir
	}
	if cli.OutputRoot != "" {
		config.OutputRoot = cli.OutputRoot
	}
	if cli.NoResume {
		config.Resume = false
	}
	if cli.NoVisual {
		config.VisualAnalysis = false
	}
	if cli.NoAutoIncrement {
		config.AutoIncrement = false
	}
	if cli.FlowID > 0 {
		config.FlowID = cli.FlowID
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func showResult(result *distill.RunResult, runErr error, asJSON bool) {
	if asJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			fmt.Println(string(payload))
		}
		if runErr != nil {
			color.Red("Run failed: %v", runErr)
		}
		return
	}

	fmt.Println()
	if runErr != nil {
		color.Red("Run %s failed: %v", result.RunID, runErr)
	} else {
		color.Green("Run %s completed in %v", result.RunID, result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	}
	for _, stage := range result.Skipped {
		color.White("  skipped   %s", stage)
	}
	for _, stage := range result.Completed {
		color.Cyan("  completed %s", stage)
	}
	if result.Summary != nil {
		color.Green("Extraction: %d/%d succeeded, %d failed",
			result.Summary.ProcessedFiles, result.Summary.TotalFiles, result.Summary.FailedFiles)
	}
}
