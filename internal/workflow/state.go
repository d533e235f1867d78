package workflow

import "perfeval-dashboard/internal/models"

// Phase is the evaluation lifecycle position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEvaluating Phase = "evaluating"
	PhaseEvaluated  Phase = "evaluated"
)

// Flags are the independent per-operation progress indicators.
type Flags struct {
	Evaluating bool `json:"evaluating"`
	Suggesting bool `json:"suggesting"`
	Exporting  bool `json:"exporting"`
}

// OperationError is the user-visible record of the last failed command.
type OperationError struct {
	Operation string `json:"operation"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// Snapshot is a read-only copy of the controller state. Version increases
// with every published transition.
type Snapshot struct {
	Version             uint64                   `json:"version"`
	Phase               Phase                    `json:"phase"`
	Inputs              models.EvaluationInputs  `json:"inputs"`
	LastEvaluatedInputs *models.EvaluationInputs `json:"last_evaluated_inputs"`
	Result              *models.EvaluationResult `json:"result"`
	SuggestionText      string                   `json:"suggestion_text"`
	Flags               Flags                    `json:"flags"`
	LastError           *OperationError          `json:"last_error"`
}

// PerformanceLevel returns the level of the current result, if any.
func (s Snapshot) PerformanceLevel() (models.PerformanceLevel, bool) {
	if s.Result == nil {
		return "", false
	}
	return s.Result.PerformanceLevel, true
}
