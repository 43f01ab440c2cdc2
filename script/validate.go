package script

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// ValidationReport holds the findings from inspecting a generated source
// artifact. FixedSource is present only when an automated repair produced a
// candidate that itself passed validation.
type ValidationReport struct {
	Valid            bool     `json:"valid"`
	SyntaxErrors     []string `json:"syntax_errors"`
	RobustnessIssues []string `json:"robustness_issues"`
	Suggestions      []string `json:"suggestions"`
	Warnings         []string `json:"warnings"`
	FixedSource      string   `json:"fixed_code,omitempty"`
}

// Source returns the best available source: the repaired version when one
// was accepted, otherwise the original (with mechanical fixes applied).
func (r *ValidationReport) Source(original string) string {
	if r.FixedSource != "" {
		return r.FixedSource
	}
	fixed, _ := ApplyMechanicalFixes(original)
	return fixed
}

// Repairer requests a corrected version of a source artifact from an
// external collaborator.
type Repairer interface {
	Repair(ctx context.Context, source string, schema map[string]any, findings []string) (string, error)
}

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	// Repairer enables AI-assisted repair. Nil keeps validation fully
	// offline and deterministic.
	Repairer Repairer

	// RepairRetries is the number of additional repair attempts after a
	// candidate fails re-validation. The default of 1 means a bad
	// candidate gets exactly one more chance before being abandoned.
	RepairRetries int

	Logger *slog.Logger
}

// Validator statically inspects generated Risor source.
type Validator struct {
	repairer      Repairer
	repairRetries int
	logger        *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(opts ValidatorOptions) *Validator {
	if opts.RepairRetries <= 0 {
		opts.RepairRetries = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Validator{
		repairer:      opts.Repairer,
		repairRetries: opts.RepairRetries,
		logger:        opts.Logger,
	}
}

var (
	reEntryPoint = regexp.MustCompile(`(?m)^\s*func\s+extract\s*\(`)
	reQueryCall  = regexp.MustCompile(`\b(query_text|query_attr|query_html)\s*\(`)
	reTryCall    = regexp.MustCompile(`\btry\s*\(`)
	reLenCheck   = regexp.MustCompile(`\blen\s*\(`)
	reImportStmt = regexp.MustCompile(`(?m)^\s*(import|from)\s+\w`)
	reHardPath   = regexp.MustCompile(`[A-Za-z]:\\\\|"/(?:home|tmp|var|Users)/`)
)

// Validate inspects source against the schema the code is supposed to
// implement. Run offline (no repairer) it is deterministic: identical input
// yields identical findings.
func (v *Validator) Validate(ctx context.Context, source string, schema map[string]any) *ValidationReport {
	report := &ValidationReport{
		Valid:            true,
		SyntaxErrors:     []string{},
		RobustnessIssues: []string{},
		Suggestions:      []string{},
		Warnings:         []string{},
	}

	fixed, fixes := ApplyMechanicalFixes(source)
	report.Warnings = append(report.Warnings, fixes...)

	report.SyntaxErrors = append(report.SyntaxErrors, v.checkSyntax(ctx, fixed)...)
	if len(report.SyntaxErrors) > 0 {
		report.Valid = false
	}

	v.checkRobustness(fixed, report)

	if v.repairer != nil && (!report.Valid || len(report.RobustnessIssues) > 0) {
		v.attemptRepair(ctx, fixed, schema, report)
	}
	return report
}

// checkSyntax parses and compiles the source. Compilation catches undefined
// identifiers (such as untranslated foreign literals) that parse cleanly.
func (v *Validator) checkSyntax(ctx context.Context, source string) []string {
	var errs []string
	engine := NewEngine(ExtractionGlobals())
	if _, err := engine.Compile(ctx, source); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

func (v *Validator) checkRobustness(source string, report *ValidationReport) {
	if !reEntryPoint.MatchString(source) {
		report.RobustnessIssues = append(report.RobustnessIssues,
			"missing required entry point: no top-level 'extract' function found")
		report.Suggestions = append(report.Suggestions,
			"define 'func extract(doc) { ... }' returning a map of section names to values")
	}

	queryCalls := len(reQueryCall.FindAllStringIndex(source, -1))
	if queryCalls > 0 && !reTryCall.MatchString(source) {
		report.RobustnessIssues = append(report.RobustnessIssues,
			"query operations lack error handling")
		report.Suggestions = append(report.Suggestions,
			"wrap parsing operations in try() so a malformed document yields a fallback value instead of an error")
	}

	if queryCalls > len(reLenCheck.FindAllStringIndex(source, -1)) {
		report.RobustnessIssues = append(report.RobustnessIssues,
			fmt.Sprintf("query operations (%d) may return empty lists, but fewer len() checks were found", queryCalls))
		report.Suggestions = append(report.Suggestions,
			"check len(results) > 0 before indexing query results")
	}

	if reImportStmt.MatchString(source) {
		report.RobustnessIssues = append(report.RobustnessIssues,
			"import statements are not available to generated extractors")
		report.Suggestions = append(report.Suggestions,
			"use the provided builtins and query helpers instead of module imports")
	}

	if reHardPath.MatchString(source) {
		report.RobustnessIssues = append(report.RobustnessIssues,
			"found hard-coded file paths")
		report.Suggestions = append(report.Suggestions,
			"operate on the provided doc contents instead of reading fixed paths")
	}
}

// attemptRepair asks the collaborator for a corrected version and accepts it
// only if the candidate passes syntax validation. A candidate that fails is
// retried a bounded number of times, then abandoned: the report keeps the
// original findings and records the failed repair as a warning.
func (v *Validator) attemptRepair(ctx context.Context, source string, schema map[string]any, report *ValidationReport) {
	findings := make([]string, 0, len(report.SyntaxErrors)+len(report.RobustnessIssues))
	findings = append(findings, report.SyntaxErrors...)
	findings = append(findings, report.RobustnessIssues...)

	attempts := v.repairRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		candidate, err := v.repairer.Repair(ctx, source, schema, findings)
		if err != nil {
			v.logger.Warn("code repair request failed", "attempt", attempt, "error", err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("automated repair failed: %v", err))
			return
		}
		fixedCandidate, _ := ApplyMechanicalFixes(candidate)
		if len(v.checkSyntax(ctx, fixedCandidate)) == 0 {
			report.FixedSource = fixedCandidate
			v.logger.Info("automated repair accepted", "attempt", attempt)
			return
		}
		v.logger.Warn("repair candidate failed re-validation", "attempt", attempt)
	}
	report.Warnings = append(report.Warnings,
		"automated repair produced invalid code and was abandoned")
}

var rePythonLiteral = regexp.MustCompile(`\b(True|False|None)\b`)

var pythonLiteralReplacements = map[string]string{
	"True":  "true",
	"False": "false",
	"None":  "nil",
}

// ApplyMechanicalFixes rewrites foreign-language literals that leak into
// generated code through schema substitution (Python True/False/None) into
// their Risor equivalents. String literals and comments are left untouched.
// Returns the fixed source and a description of each fix applied.
func ApplyMechanicalFixes(source string) (string, []string) {
	counts := map[string]int{}
	var out strings.Builder

	var quote rune // active string delimiter, 0 when in code
	inComment := false
	var segment strings.Builder

	flush := func() {
		out.WriteString(rewriteLiterals(segment.String(), counts))
		segment.Reset()
	}

	runes := []rune(source)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			out.WriteRune(r)
			if r == '\n' {
				inComment = false
			}
		case quote != 0:
			out.WriteRune(r)
			if r == '\\' && quote != '`' && i+1 < len(runes) {
				i++
				out.WriteRune(runes[i])
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			flush()
			quote = r
			out.WriteRune(r)
		case r == '#' || (r == '/' && i+1 < len(runes) && runes[i+1] == '/'):
			flush()
			inComment = true
			out.WriteRune(r)
		default:
			segment.WriteRune(r)
		}
	}
	flush()

	var fixes []string
	for _, literal := range []string{"True", "False", "None"} {
		if n := counts[literal]; n > 0 {
			fixes = append(fixes, fmt.Sprintf("replaced Python literal %s with %s (%d occurrence(s))",
				literal, pythonLiteralReplacements[literal], n))
		}
	}
	return out.String(), fixes
}

func rewriteLiterals(code string, counts map[string]int) string {
	return rePythonLiteral.ReplaceAllStringFunc(code, func(match string) string {
		counts[match]++
		return pythonLiteralReplacements[match]
	})
}
