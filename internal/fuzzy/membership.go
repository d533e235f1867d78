// Package fuzzy projects inputs and scores onto the triangular membership
// sets the scoring service is built on. The result is display data for the
// dashboard graphs; the authoritative evaluation stays with the service.
package fuzzy

import (
	"math"

	"perfeval-dashboard/internal/models"
)

// Set is a triangular fuzzy set with feet at A and C and its peak at B.
// A == B or B == C gives a shoulder.
type Set struct {
	Label string  `json:"label"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	C     float64 `json:"c"`
}

// Degree returns the membership of x in s, in [0,1].
func (s Set) Degree(x float64) float64 {
	switch {
	case x < s.A || x > s.C:
		return 0
	case x == s.B:
		return 1
	case x < s.B:
		return (x - s.A) / (s.B - s.A)
	default:
		return (s.C - x) / (s.C - s.B)
	}
}

type Variable struct {
	Name string
	Sets []Set
}

var (
	Attendance = Variable{Name: "attendance", Sets: []Set{
		{Label: "LOW", A: 0, B: 0, C: 50},
		{Label: "MEDIUM", A: 25, B: 50, C: 75},
		{Label: "HIGH", A: 50, B: 100, C: 100},
	}}
	TestScore = Variable{Name: "test_score", Sets: []Set{
		{Label: "LOW", A: 0, B: 0, C: 50},
		{Label: "MEDIUM", A: 30, B: 60, C: 80},
		{Label: "HIGH", A: 70, B: 100, C: 100},
	}}
	AssignmentScore = Variable{Name: "assignment_score", Sets: TestScore.Sets}
	Performance     = Variable{Name: "performance", Sets: []Set{
		{Label: "WEAK", A: 0, B: 0, C: 30},
		{Label: "AVERAGE", A: 20, B: 45, C: 70},
		{Label: "GOOD", A: 50, B: 75, C: 90},
		{Label: "EXCELLENT", A: 80, B: 100, C: 100},
	}}
)

type Degree struct {
	Label  string  `json:"label"`
	Degree float64 `json:"degree"`
}

// Membership is one variable's fuzzified value.
type Membership struct {
	Variable string   `json:"variable"`
	Value    float64  `json:"value"`
	Degrees  []Degree `json:"degrees"`
	Dominant string   `json:"dominant"`
}

// Fuzzify evaluates x against every set of v. Values outside [0,100] are
// clamped first. Ties go to the earlier set.
func (v Variable) Fuzzify(x float64) Membership {
	x = clamp(x)
	m := Membership{Variable: v.Name, Value: x, Degrees: make([]Degree, 0, len(v.Sets))}
	best := -1.0
	for _, s := range v.Sets {
		d := s.Degree(x)
		m.Degrees = append(m.Degrees, Degree{Label: s.Label, Degree: d})
		if d > best {
			best = d
			m.Dominant = s.Label
		}
	}
	return m
}

// Profile is the membership breakdown shown next to an evaluation.
type Profile struct {
	Attendance      Membership  `json:"attendance"`
	TestScore       Membership  `json:"test_score"`
	AssignmentScore Membership  `json:"assignment_score"`
	Performance     *Membership `json:"performance,omitempty"`
}

// ProfileFor fuzzifies the inputs and, when present, the service's score.
func ProfileFor(in models.EvaluationInputs, res *models.EvaluationResult) Profile {
	p := Profile{
		Attendance:      Attendance.Fuzzify(in.Attendance),
		TestScore:       TestScore.Fuzzify(in.TestScore),
		AssignmentScore: AssignmentScore.Fuzzify(in.AssignmentScore),
	}
	if res != nil {
		m := Performance.Fuzzify(res.FuzzyScore)
		p.Performance = &m
	}
	return p
}

func clamp(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(100, x))
}
