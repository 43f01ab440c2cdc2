package distill

// Stage identifies one step of the fixed pipeline sequence.
type Stage string

const (
	StageTextAnalysis      Stage = "text_analysis"
	StageVisualAnalysis    Stage = "visual_analysis"
	StageSynthesized       Stage = "synthesized"
	StageSchema            Stage = "schema"
	StageCodeGenerated     Stage = "code_generated"
	StageCodeValidated     Stage = "code_validated"
	StageMarkdownConverted Stage = "markdown_converted"
)

// stageOrder is the fixed execution order of the pipeline. Visual analysis
// is the only stage that may be disabled by configuration.
var stageOrder = []Stage{
	StageTextAnalysis,
	StageVisualAnalysis,
	StageSynthesized,
	StageSchema,
	StageCodeGenerated,
	StageCodeValidated,
	StageMarkdownConverted,
}

// StageSequence returns the ordered list of pipeline stages.
func StageSequence() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of the stage in the pipeline sequence, or -1
// if the stage tag is unknown.
func (s Stage) Index() int {
	for i, tag := range stageOrder {
		if tag == s {
			return i
		}
	}
	return -1
}

// Known reports whether the tag names a stage of the pipeline.
func (s Stage) Known() bool {
	return s.Index() >= 0
}
