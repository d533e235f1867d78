package workflow

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfeval-dashboard/internal/models"
	"perfeval-dashboard/internal/services"
)

type evalReply struct {
	res *models.EvaluationResult
	err error
}

type pendingEval struct {
	in    models.EvaluationInputs
	reply chan evalReply
}

type suggestionReply struct {
	text string
	err  error
}

type pendingSuggestion struct {
	in    models.EvaluationInputs
	reply chan suggestionReply
}

type fakeClient struct {
	mu        sync.Mutex
	evaluated []models.EvaluationInputs
	suggested []models.EvaluationInputs
	exported  []models.EvaluationInputs

	evalFn    func(models.EvaluationInputs) (*models.EvaluationResult, error)
	suggestFn func(models.EvaluationInputs) (string, error)
	exportErr error

	// When set, calls block until the test replies through the pending value.
	evalGate    chan *pendingEval
	suggestGate chan *pendingSuggestion
}

func (f *fakeClient) Evaluate(ctx context.Context, in models.EvaluationInputs) (*models.EvaluationResult, error) {
	f.mu.Lock()
	f.evaluated = append(f.evaluated, in)
	f.mu.Unlock()

	if f.evalGate != nil {
		p := &pendingEval{in: in, reply: make(chan evalReply, 1)}
		f.evalGate <- p
		select {
		case r := <-p.reply:
			return r.res, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.evalFn(in)
}

func (f *fakeClient) GetSuggestion(ctx context.Context, in models.EvaluationInputs) (string, error) {
	f.mu.Lock()
	f.suggested = append(f.suggested, in)
	f.mu.Unlock()

	if f.suggestGate != nil {
		p := &pendingSuggestion{in: in, reply: make(chan suggestionReply, 1)}
		f.suggestGate <- p
		select {
		case r := <-p.reply:
			return r.text, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.suggestFn(in)
}

func (f *fakeClient) RequestReportExport(_ context.Context, in models.EvaluationInputs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, in)
	return f.exportErr
}

func (f *fakeClient) calls() (evaluated, suggested, exported int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evaluated), len(f.suggested), len(f.exported)
}

// scoring mimics the service closely enough for the dashboard flows.
func scoring(in models.EvaluationInputs) (*models.EvaluationResult, error) {
	score := (in.Attendance + in.TestScore + in.AssignmentScore) / 3
	level := models.LevelWeak
	switch {
	case score >= 85:
		level = models.LevelExcellent
	case score >= 70:
		level = models.LevelGood
	case score >= 45:
		level = models.LevelAverage
	}
	return &models.EvaluationResult{FuzzyScore: math.Round(score), PerformanceLevel: level}, nil
}

func newAutoClient() *fakeClient {
	return &fakeClient{
		evalFn: scoring,
		suggestFn: func(in models.EvaluationInputs) (string, error) {
			return "Keep reviewing past tests.", nil
		},
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client call")
	}
	var zero T
	return zero
}

func TestEvaluate_AppliesResult(t *testing.T) {
	c := NewController(newAutoClient())
	defer c.Close()

	in := models.EvaluationInputs{Attendance: 80, TestScore: 75, AssignmentScore: 90}
	require.NoError(t, c.Evaluate(context.Background(), in))

	snap := c.Snapshot()
	assert.Equal(t, PhaseEvaluated, snap.Phase)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 82.0, snap.Result.FuzzyScore)
	assert.Equal(t, models.LevelGood, snap.Result.PerformanceLevel)
	require.NotNil(t, snap.LastEvaluatedInputs)
	assert.Equal(t, in, *snap.LastEvaluatedInputs)
	assert.False(t, snap.Flags.Evaluating)
	assert.Nil(t, snap.LastError)

	level, ok := c.PerformanceLevel()
	assert.True(t, ok)
	assert.Equal(t, models.LevelGood, level)
}

func TestEvaluate_PreservesInputsExactly(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	in := models.EvaluationInputs{Attendance: 100.5, TestScore: -3, AssignmentScore: 42.125}
	require.NoError(t, c.Evaluate(context.Background(), in))

	snap := c.Snapshot()
	require.NotNil(t, snap.LastEvaluatedInputs)
	assert.Equal(t, in, *snap.LastEvaluatedInputs)
	assert.Equal(t, []models.EvaluationInputs{in}, client.evaluated)
}

func TestEvaluate_RejectsNonFiniteInputs(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	err := c.Evaluate(context.Background(), models.EvaluationInputs{Attendance: math.NaN(), TestScore: 50, AssignmentScore: 50})
	var vErr *services.ValidationError
	require.ErrorAs(t, err, &vErr)

	snap := c.Snapshot()
	require.NotNil(t, snap.LastError)
	assert.Equal(t, services.KindValidation, snap.LastError.Kind)
	assert.Equal(t, PhaseIdle, snap.Phase)
	n, _, _ := client.calls()
	assert.Zero(t, n)
}

func TestEvaluate_StaleResponseDropped(t *testing.T) {
	client := newAutoClient()
	client.evalGate = make(chan *pendingEval, 4)
	c := NewController(client)
	defer c.Close()

	a := models.EvaluationInputs{Attendance: 10, TestScore: 10, AssignmentScore: 10}
	b := models.EvaluationInputs{Attendance: 95, TestScore: 95, AssignmentScore: 95}
	require.NoError(t, c.StartEvaluate(context.Background(), a))
	require.NoError(t, c.StartEvaluate(context.Background(), b))

	pending := map[models.EvaluationInputs]*pendingEval{}
	for i := 0; i < 2; i++ {
		p := receive(t, client.evalGate)
		pending[p.in] = p
	}
	require.Contains(t, pending, a)
	require.Contains(t, pending, b)

	pending[b].reply <- evalReply{res: &models.EvaluationResult{FuzzyScore: 95, PerformanceLevel: models.LevelExcellent}}
	require.Eventually(t, func() bool {
		return !c.Snapshot().Flags.Evaluating
	}, 2*time.Second, 5*time.Millisecond)

	pending[a].reply <- evalReply{res: &models.EvaluationResult{FuzzyScore: 10, PerformanceLevel: models.LevelWeak}}
	c.Wait()

	snap := c.Snapshot()
	require.NotNil(t, snap.Result)
	assert.Equal(t, models.LevelExcellent, snap.Result.PerformanceLevel)
	assert.Equal(t, b, *snap.LastEvaluatedInputs)
	assert.False(t, snap.Flags.Evaluating)
}

func TestEvaluate_OlderResponseKeepsEvaluatingFlag(t *testing.T) {
	client := newAutoClient()
	client.evalGate = make(chan *pendingEval, 4)
	c := NewController(client)
	defer c.Close()

	a := models.EvaluationInputs{Attendance: 10, TestScore: 10, AssignmentScore: 10}
	b := models.EvaluationInputs{Attendance: 95, TestScore: 95, AssignmentScore: 95}
	require.NoError(t, c.StartEvaluate(context.Background(), a))
	require.NoError(t, c.StartEvaluate(context.Background(), b))

	pending := map[models.EvaluationInputs]*pendingEval{}
	for i := 0; i < 2; i++ {
		p := receive(t, client.evalGate)
		pending[p.in] = p
	}

	pending[a].reply <- evalReply{err: errors.New("boom")}
	// The superseded failure must not surface.
	time.Sleep(20 * time.Millisecond)
	snap := c.Snapshot()
	assert.True(t, snap.Flags.Evaluating)
	assert.Nil(t, snap.LastError)
	assert.Nil(t, snap.Result)

	pending[b].reply <- evalReply{res: &models.EvaluationResult{FuzzyScore: 95, PerformanceLevel: models.LevelExcellent}}
	c.Wait()

	snap = c.Snapshot()
	assert.False(t, snap.Flags.Evaluating)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 95.0, snap.Result.FuzzyScore)
}

func TestEvaluate_FailureKeepsPreviousResult(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	first := models.EvaluationInputs{Attendance: 80, TestScore: 75, AssignmentScore: 90}
	require.NoError(t, c.Evaluate(context.Background(), first))

	client.evalFn = func(models.EvaluationInputs) (*models.EvaluationResult, error) {
		return nil, &services.TransportError{Op: services.OpEvaluate, StatusCode: 503, Message: "service unavailable"}
	}
	err := c.Evaluate(context.Background(), models.EvaluationInputs{Attendance: 1, TestScore: 1, AssignmentScore: 1})
	require.Error(t, err)

	snap := c.Snapshot()
	require.NotNil(t, snap.Result)
	assert.Equal(t, models.LevelGood, snap.Result.PerformanceLevel)
	assert.Equal(t, first, *snap.LastEvaluatedInputs)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, services.OpEvaluate, snap.LastError.Operation)
	assert.Equal(t, services.KindTransport, snap.LastError.Kind)
	assert.Contains(t, snap.LastError.Message, "Evaluation failed: ")
	assert.Equal(t, PhaseEvaluated, snap.Phase)
}

func TestEvaluate_ClearsSuggestion(t *testing.T) {
	c := NewController(newAutoClient())
	defer c.Close()

	in := models.DefaultInputs()
	require.NoError(t, c.Evaluate(context.Background(), in))
	require.NoError(t, c.RequestSuggestion(context.Background()))
	assert.NotEmpty(t, c.Snapshot().SuggestionText)

	require.NoError(t, c.Evaluate(context.Background(), in))
	assert.Empty(t, c.Snapshot().SuggestionText)
}

func TestRequestSuggestion_RequiresEvaluation(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	err := c.RequestSuggestion(context.Background())
	var sErr *services.InvalidStateError
	require.ErrorAs(t, err, &sErr)

	snap := c.Snapshot()
	require.NotNil(t, snap.LastError)
	assert.Equal(t, services.OpSuggestion, snap.LastError.Operation)
	assert.Equal(t, services.KindInvalidState, snap.LastError.Kind)
	_, n, _ := client.calls()
	assert.Zero(t, n)
}

func TestRequestSuggestion_UsesLastEvaluatedInputs(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	evaluated := models.EvaluationInputs{Attendance: 60, TestScore: 55, AssignmentScore: 70}
	require.NoError(t, c.Evaluate(context.Background(), evaluated))

	edited := 12.0
	_, err := c.UpdateInputs(models.InputsPatch{Attendance: &edited})
	require.NoError(t, err)

	require.NoError(t, c.RequestSuggestion(context.Background()))
	assert.Equal(t, []models.EvaluationInputs{evaluated}, client.suggested)
	assert.Equal(t, "Keep reviewing past tests.", c.Snapshot().SuggestionText)
}

func TestRequestSuggestion_RejectsConcurrentRequest(t *testing.T) {
	client := newAutoClient()
	client.suggestGate = make(chan *pendingSuggestion, 2)
	c := NewController(client)
	defer c.Close()

	require.NoError(t, c.Evaluate(context.Background(), models.DefaultInputs()))
	require.NoError(t, c.StartSuggestion(context.Background()))
	assert.True(t, c.Snapshot().Flags.Suggesting)

	err := c.StartSuggestion(context.Background())
	var sErr *services.InvalidStateError
	require.ErrorAs(t, err, &sErr)

	p := receive(t, client.suggestGate)
	p.reply <- suggestionReply{text: "ok"}
	c.Wait()
	assert.False(t, c.Snapshot().Flags.Suggesting)
	assert.Equal(t, "ok", c.Snapshot().SuggestionText)
}

func TestRequestSuggestion_DroppedAfterNewerEvaluation(t *testing.T) {
	client := newAutoClient()
	client.suggestGate = make(chan *pendingSuggestion, 1)
	c := NewController(client)
	defer c.Close()

	require.NoError(t, c.Evaluate(context.Background(), models.DefaultInputs()))
	require.NoError(t, c.StartSuggestion(context.Background()))
	p := receive(t, client.suggestGate)

	newer := models.EvaluationInputs{Attendance: 20, TestScore: 30, AssignmentScore: 25}
	require.NoError(t, c.Evaluate(context.Background(), newer))

	p.reply <- suggestionReply{text: "advice for the old scores"}
	c.Wait()

	snap := c.Snapshot()
	assert.Empty(t, snap.SuggestionText)
	assert.False(t, snap.Flags.Suggesting)
	assert.Equal(t, newer, *snap.LastEvaluatedInputs)
}

func TestRequestSuggestion_FailureRecorded(t *testing.T) {
	client := newAutoClient()
	client.suggestFn = func(models.EvaluationInputs) (string, error) {
		return "", &services.TransportError{Op: services.OpSuggestion, Message: "HTTP error! status: 500"}
	}
	c := NewController(client)
	defer c.Close()

	require.NoError(t, c.Evaluate(context.Background(), models.DefaultInputs()))
	require.Error(t, c.RequestSuggestion(context.Background()))

	snap := c.Snapshot()
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "AI Suggestion failed: HTTP error! status: 500", snap.LastError.Message)
	assert.False(t, snap.Flags.Suggesting)
	assert.NotNil(t, snap.Result)
}

func TestRequestSuggestion_FailureKeepsEarlierText(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	require.NoError(t, c.Evaluate(context.Background(), models.DefaultInputs()))
	require.NoError(t, c.RequestSuggestion(context.Background()))
	require.Equal(t, "Keep reviewing past tests.", c.Snapshot().SuggestionText)

	client.suggestFn = func(models.EvaluationInputs) (string, error) {
		return "", &services.TransportError{Op: services.OpSuggestion, StatusCode: 502, Message: "bad gateway"}
	}
	require.Error(t, c.RequestSuggestion(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, "Keep reviewing past tests.", snap.SuggestionText)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, services.OpSuggestion, snap.LastError.Operation)
	assert.Equal(t, "AI Suggestion failed: bad gateway", snap.LastError.Message)
	assert.False(t, snap.Flags.Suggesting)
}

func TestRequestSuggestion_ShownUntilNewerEvaluationResolves(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	a := models.EvaluationInputs{Attendance: 60, TestScore: 55, AssignmentScore: 70}
	require.NoError(t, c.Evaluate(context.Background(), a))

	client.evalGate = make(chan *pendingEval, 1)
	client.suggestGate = make(chan *pendingSuggestion, 1)

	require.NoError(t, c.StartSuggestion(context.Background()))
	ps := receive(t, client.suggestGate)
	assert.Equal(t, a, ps.in)

	b := models.EvaluationInputs{Attendance: 95, TestScore: 90, AssignmentScore: 92}
	require.NoError(t, c.StartEvaluate(context.Background(), b))
	pe := receive(t, client.evalGate)

	ps.reply <- suggestionReply{text: "A"}
	require.Eventually(t, func() bool {
		return !c.Snapshot().Flags.Suggesting
	}, 2*time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, "A", snap.SuggestionText)
	assert.True(t, snap.Flags.Evaluating)
	assert.Equal(t, a, *snap.LastEvaluatedInputs)

	pe.reply <- evalReply{res: &models.EvaluationResult{FuzzyScore: 92, PerformanceLevel: models.LevelExcellent}}
	c.Wait()

	snap = c.Snapshot()
	assert.Empty(t, snap.SuggestionText)
	assert.False(t, snap.Flags.Evaluating)
	assert.Equal(t, b, *snap.LastEvaluatedInputs)
}

func TestFlags_IndependentAcrossOperations(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	var fire func()
	c.afterFunc = func(_ time.Duration, f func()) {
		fire = f
	}

	require.NoError(t, c.Evaluate(context.Background(), models.DefaultInputs()))

	client.evalGate = make(chan *pendingEval, 1)
	client.suggestGate = make(chan *pendingSuggestion, 1)

	b := models.EvaluationInputs{Attendance: 40, TestScore: 50, AssignmentScore: 45}
	require.NoError(t, c.StartEvaluate(context.Background(), b))
	pe := receive(t, client.evalGate)

	require.NoError(t, c.StartSuggestion(context.Background()))
	ps := receive(t, client.suggestGate)

	require.NoError(t, c.ExportReport(context.Background()))

	flags := c.Snapshot().Flags
	assert.True(t, flags.Evaluating)
	assert.True(t, flags.Suggesting)
	assert.True(t, flags.Exporting)

	ps.reply <- suggestionReply{text: "ok"}
	require.Eventually(t, func() bool {
		return !c.Snapshot().Flags.Suggesting
	}, 2*time.Second, 5*time.Millisecond)

	flags = c.Snapshot().Flags
	assert.True(t, flags.Evaluating)
	assert.True(t, flags.Exporting)

	require.NotNil(t, fire)
	fire()
	flags = c.Snapshot().Flags
	assert.True(t, flags.Evaluating)
	assert.False(t, flags.Exporting)

	pe.reply <- evalReply{res: &models.EvaluationResult{FuzzyScore: 45, PerformanceLevel: models.LevelAverage}}
	c.Wait()

	flags = c.Snapshot().Flags
	assert.False(t, flags.Evaluating)
	assert.False(t, flags.Suggesting)
	assert.False(t, flags.Exporting)
}

func TestExportReport_RequiresEvaluation(t *testing.T) {
	client := newAutoClient()
	c := NewController(client)
	defer c.Close()

	err := c.ExportReport(context.Background())
	var sErr *services.InvalidStateError
	require.ErrorAs(t, err, &sErr)
	assert.False(t, c.Snapshot().Flags.Exporting)
	_, _, n := client.calls()
	assert.Zero(t, n)
}

func TestExportReport_FlagClearedByTimer(t *testing.T) {
	client := newAutoClient()
	c := NewController(client, WithExportResetDelay(time.Second))
	defer c.Close()

	var (
		delay time.Duration
		fire  func()
	)
	c.afterFunc = func(d time.Duration, f func()) {
		delay = d
		fire = f
	}

	in := models.DefaultInputs()
	require.NoError(t, c.Evaluate(context.Background(), in))
	require.NoError(t, c.ExportReport(context.Background()))

	assert.True(t, c.Snapshot().Flags.Exporting)
	assert.Equal(t, []models.EvaluationInputs{in}, client.exported)
	assert.Equal(t, time.Second, delay)

	var sErr *services.InvalidStateError
	require.ErrorAs(t, c.ExportReport(context.Background()), &sErr)

	require.NotNil(t, fire)
	fire()
	assert.False(t, c.Snapshot().Flags.Exporting)
}

func TestExportReport_InitiationFailure(t *testing.T) {
	client := newAutoClient()
	client.exportErr = &services.InvalidStateError{Message: "report export is not configured"}
	c := NewController(client)
	defer c.Close()

	var fire func()
	c.afterFunc = func(_ time.Duration, f func()) { fire = f }

	require.NoError(t, c.Evaluate(context.Background(), models.DefaultInputs()))
	require.Error(t, c.ExportReport(context.Background()))

	snap := c.Snapshot()
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "Report download failed: report export is not configured", snap.LastError.Message)
	assert.True(t, snap.Flags.Exporting)

	require.NotNil(t, fire)
	fire()
	assert.False(t, c.Snapshot().Flags.Exporting)
}

func TestUpdateInputs_MergesPartialPatch(t *testing.T) {
	c := NewController(newAutoClient())
	defer c.Close()

	test := 64.5
	snap, err := c.UpdateInputs(models.InputsPatch{TestScore: &test})
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationInputs{Attendance: 80, TestScore: 64.5, AssignmentScore: 90}, snap.Inputs)

	bad := 101.0
	_, err = c.UpdateInputs(models.InputsPatch{Attendance: &bad})
	var vErr *services.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 80.0, c.Snapshot().Inputs.Attendance)

	require.NoError(t, c.EvaluateCurrent(context.Background()))
	assert.Equal(t, 64.5, c.Snapshot().LastEvaluatedInputs.TestScore)
}

func TestSubscribe_ReceivesTransitions(t *testing.T) {
	c := NewController(newAutoClient())
	updates, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.Evaluate(context.Background(), models.DefaultInputs()))

	var last Snapshot
	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			last = s
		default:
		}
		return last.Phase == PhaseEvaluated
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, c.Snapshot().Version, last.Version)

	c.Close()
	_, ok := <-updates
	assert.False(t, ok)
}
