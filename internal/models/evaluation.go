package models

// PerformanceLevel is the categorical label the scoring service attaches to a fuzzy score.
type PerformanceLevel string

const (
	LevelExcellent PerformanceLevel = "Excellent"
	LevelGood      PerformanceLevel = "Good"
	LevelAverage   PerformanceLevel = "Average"
	LevelWeak      PerformanceLevel = "Weak"
)

// Valid reports whether the level is one of the four known labels.
func (l PerformanceLevel) Valid() bool {
	switch l {
	case LevelExcellent, LevelGood, LevelAverage, LevelWeak:
		return true
	}
	return false
}

// EvaluationInputs is the complete triple submitted for evaluation.
// Each field is a percentage in [0,100].
type EvaluationInputs struct {
	Attendance      float64 `json:"attendance"`
	TestScore       float64 `json:"test_score"`
	AssignmentScore float64 `json:"assignment_score"`
}

// DefaultInputs mirrors the dashboard's initial slider positions.
func DefaultInputs() EvaluationInputs {
	return EvaluationInputs{Attendance: 80, TestScore: 75, AssignmentScore: 90}
}

// InputsPatch is a partial update of the form inputs. Nil fields are left untouched.
type InputsPatch struct {
	Attendance      *float64 `json:"attendance,omitempty"`
	TestScore       *float64 `json:"test_score,omitempty"`
	AssignmentScore *float64 `json:"assignment_score,omitempty"`
}

// Apply merges the patch into in and returns the merged triple.
func (p InputsPatch) Apply(in EvaluationInputs) EvaluationInputs {
	if p.Attendance != nil {
		in.Attendance = *p.Attendance
	}
	if p.TestScore != nil {
		in.TestScore = *p.TestScore
	}
	if p.AssignmentScore != nil {
		in.AssignmentScore = *p.AssignmentScore
	}
	return in
}

// EvaluationResult is the scoring service's verdict for one set of inputs.
type EvaluationResult struct {
	FuzzyScore       float64          `json:"fuzzy_score"`
	PerformanceLevel PerformanceLevel `json:"performance_level"`
}

type SuggestionResponse struct {
	Suggestion string `json:"suggestion"`
}
