package services

import (
	"math"

	"perfeval-dashboard/internal/models"
)

const (
	minPercent = 0
	maxPercent = 100
)

// ValidateInputs rejects values that cannot be sent to the service at all
// (NaN and infinities). It does not enforce the 0..100 range: the form is
// responsible for that, and the workflow passes values through untouched.
func ValidateInputs(in models.EvaluationInputs) error {
	fields := map[string]string{}
	check := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fields[name] = "must be a finite number"
		}
	}
	check("attendance", in.Attendance)
	check("test_score", in.TestScore)
	check("assignment_score", in.AssignmentScore)

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CheckInputRange enforces the form contract: every field finite and in [0,100].
func CheckInputRange(in models.EvaluationInputs) error {
	if err := ValidateInputs(in); err != nil {
		return err
	}
	fields := map[string]string{}
	check := func(name string, v float64) {
		if v < minPercent || v > maxPercent {
			fields[name] = "must be between 0 and 100"
		}
	}
	check("attendance", in.Attendance)
	check("test_score", in.TestScore)
	check("assignment_score", in.AssignmentScore)

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
