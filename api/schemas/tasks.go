package schemas

// -- Task Schemas --

// TaskType defines the kind of work a task asks the engine to perform.
type TaskType string

const (
	// TaskLearn runs an iterative extraction against a target and classifies the result.
	TaskLearn TaskType = "LEARN"
	// TaskAnalyzeModel classifies a previously recorded model file.
	TaskAnalyzeModel TaskType = "ANALYZE_MODEL"
)

func (t TaskType) String() string { return string(t) }

// Task represents a unit of work to be executed by the engine.
type Task struct {
	TaskID    string   `json:"task_id"`
	SessionID string   `json:"session_id"`
	Type      TaskType `json:"type"`
	// Target names what is probed: a recorded model file replayed through the simulated
	// executor, or the model file to classify.
	Target     string      `json:"target"`
	Parameters interface{} `json:"parameters"`
}

// -- Task Parameter Definitions --

// LearnTaskParams overrides the configured learning setup for one task.
type LearnTaskParams struct {
	// AlphabetFiles replaces alphabet.files; stages run in the given order.
	AlphabetFiles []string `json:"alphabet_files,omitempty"`
	// ModelOut, when set, receives the final learned model.
	ModelOut string `json:"model_out,omitempty"`
	// Noise injects random output corruption into the simulated target.
	Noise float64 `json:"noise,omitempty"`
}

// AnalyzeModelTaskParams configures the classification of a model file.
type AnalyzeModelTaskParams struct {
	// FlowsFile replaces analysis.flows_file.
	FlowsFile string `json:"flows_file,omitempty"`
}
