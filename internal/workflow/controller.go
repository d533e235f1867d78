// Package workflow coordinates the evaluate → suggestion / report lifecycle
// against the scoring service.
package workflow

import (
	"context"
	"log"
	"sync"
	"time"

	"perfeval-dashboard/internal/metrics"
	"perfeval-dashboard/internal/models"
	"perfeval-dashboard/internal/pubsub"
	"perfeval-dashboard/internal/services"
)

// DefaultExportResetDelay is how long the exporting flag stays up after a
// report download has been initiated.
const DefaultExportResetDelay = 1500 * time.Millisecond

var failurePrefix = map[string]string{
	services.OpEvaluate:   "Evaluation failed: ",
	services.OpSuggestion: "AI Suggestion failed: ",
	services.OpExport:     "Report download failed: ",
}

// Client is the part of the scoring service the controller depends on.
type Client interface {
	Evaluate(ctx context.Context, in models.EvaluationInputs) (*models.EvaluationResult, error)
	GetSuggestion(ctx context.Context, in models.EvaluationInputs) (string, error)
	RequestReportExport(ctx context.Context, in models.EvaluationInputs) error
}

type Option func(*Controller)

func WithRecorder(r *metrics.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithExportResetDelay(d time.Duration) Option {
	return func(c *Controller) { c.exportResetDelay = d }
}

// Controller owns the evaluation workflow state. Every command runs its
// precondition checks and state changes under mu, then suspends exactly once
// on the client call, then applies the outcome under mu again.
type Controller struct {
	client           Client
	recorder         *metrics.Recorder
	exportResetDelay time.Duration
	afterFunc        func(time.Duration, func())

	mu            sync.Mutex
	inputs        models.EvaluationInputs
	lastEvaluated *models.EvaluationInputs
	result        *models.EvaluationResult
	suggestion    string
	flags         Flags
	lastErr       *OperationError
	evalSeq       uint64 // most recently dispatched evaluate
	resultGen     uint64 // bumped whenever a new result is applied
	version       uint64

	feed *pubsub.Feed[Snapshot]
	wg   sync.WaitGroup
}

func NewController(client Client, opts ...Option) *Controller {
	c := &Controller{
		client:           client,
		exportResetDelay: DefaultExportResetDelay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		inputs: models.DefaultInputs(),
		feed:   pubsub.NewFeed[Snapshot](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe streams snapshots after every state transition.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.feed.Subscribe()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// PerformanceLevel exposes the current result's level to the chat session.
func (c *Controller) PerformanceLevel() (models.PerformanceLevel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return "", false
	}
	return c.result.PerformanceLevel, true
}

// UpdateInputs merges a partial form update into the current inputs.
func (c *Controller) UpdateInputs(patch models.InputsPatch) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := patch.Apply(c.inputs)
	if err := services.CheckInputRange(merged); err != nil {
		return c.snapshotLocked(), err
	}
	c.inputs = merged
	c.publishLocked()
	return c.snapshotLocked(), nil
}

// Evaluate submits in and waits for the service. A response that arrives
// after a newer Evaluate was dispatched is dropped and nil is returned.
func (c *Controller) Evaluate(ctx context.Context, in models.EvaluationInputs) error {
	run, err := c.beginEvaluate(in)
	if err != nil {
		return err
	}
	return run(ctx)
}

// EvaluateCurrent evaluates the merged form inputs.
func (c *Controller) EvaluateCurrent(ctx context.Context) error {
	return c.Evaluate(ctx, c.currentInputs())
}

// StartEvaluate dispatches an evaluation and returns once it is in flight.
// Only precondition failures are returned; the outcome lands in the state.
func (c *Controller) StartEvaluate(ctx context.Context, in models.EvaluationInputs) error {
	run, err := c.beginEvaluate(in)
	if err != nil {
		return err
	}
	c.goRun(ctx, run)
	return nil
}

func (c *Controller) StartEvaluateCurrent(ctx context.Context) error {
	return c.StartEvaluate(ctx, c.currentInputs())
}

// RequestSuggestion asks for feedback on the last evaluated inputs.
func (c *Controller) RequestSuggestion(ctx context.Context) error {
	run, err := c.beginSuggestion()
	if err != nil {
		return err
	}
	return run(ctx)
}

func (c *Controller) StartSuggestion(ctx context.Context) error {
	run, err := c.beginSuggestion()
	if err != nil {
		return err
	}
	c.goRun(ctx, run)
	return nil
}

// ExportReport initiates the report download for the last evaluated inputs.
// The exporting flag is lowered by a timer, not by download completion.
func (c *Controller) ExportReport(ctx context.Context) error {
	c.mu.Lock()
	if c.lastEvaluated == nil {
		err := &services.InvalidStateError{Message: "run an evaluation before downloading a report"}
		c.failLocked(services.OpExport, err)
		c.publishLocked()
		c.mu.Unlock()
		return err
	}
	if c.flags.Exporting {
		c.mu.Unlock()
		return &services.InvalidStateError{Message: "a report download was just started"}
	}
	in := *c.lastEvaluated
	c.flags.Exporting = true
	c.publishLocked()
	c.mu.Unlock()

	err := c.client.RequestReportExport(ctx, in)
	if err != nil {
		log.Printf("[Workflow] Report export failed to start: %v", err)
		c.mu.Lock()
		c.failLocked(services.OpExport, err)
		c.publishLocked()
		c.mu.Unlock()
	}

	c.afterFunc(c.exportResetDelay, c.clearExporting)
	return err
}

// Wait blocks until every command started with a Start* method has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close waits for in-flight commands and closes all subscriptions.
func (c *Controller) Close() {
	c.wg.Wait()
	c.feed.Close()
}

func (c *Controller) beginEvaluate(in models.EvaluationInputs) (func(context.Context) error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := services.ValidateInputs(in); err != nil {
		c.failLocked(services.OpEvaluate, err)
		c.publishLocked()
		return nil, err
	}

	c.evalSeq++
	seq := c.evalSeq
	c.inputs = in
	c.lastErr = nil
	c.suggestion = ""
	c.flags.Evaluating = true
	c.publishLocked()

	log.Printf("[Workflow] Evaluate #%d dispatched (attendance=%v test=%v assignment=%v)", seq, in.Attendance, in.TestScore, in.AssignmentScore)

	return func(ctx context.Context) error {
		res, err := c.client.Evaluate(ctx, in)
		return c.finishEvaluate(seq, in, res, err)
	}, nil
}

func (c *Controller) finishEvaluate(seq uint64, in models.EvaluationInputs, res *models.EvaluationResult, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.evalSeq {
		log.Printf("[Workflow] Evaluate #%d superseded by #%d, response dropped", seq, c.evalSeq)
		c.recorder.IncStale(services.OpEvaluate)
		return nil
	}

	c.flags.Evaluating = false
	if err == nil && res == nil {
		err = &services.TransportError{Op: services.OpEvaluate, Message: "empty evaluation response"}
	}
	if err != nil {
		c.failLocked(services.OpEvaluate, err)
		c.publishLocked()
		return err
	}

	result := *res
	c.result = &result
	c.lastEvaluated = &in
	c.suggestion = ""
	c.resultGen++
	c.publishLocked()

	log.Printf("[Workflow] Evaluate #%d applied: score=%v level=%s", seq, result.FuzzyScore, result.PerformanceLevel)
	return nil
}

func (c *Controller) beginSuggestion() (func(context.Context) error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastEvaluated == nil {
		err := &services.InvalidStateError{Message: "run an evaluation before requesting a suggestion"}
		c.failLocked(services.OpSuggestion, err)
		c.publishLocked()
		return nil, err
	}
	if c.flags.Suggesting {
		return nil, &services.InvalidStateError{Message: "a suggestion is already being generated"}
	}

	in := *c.lastEvaluated
	gen := c.resultGen
	c.flags.Suggesting = true
	c.lastErr = nil
	c.publishLocked()

	return func(ctx context.Context) error {
		text, err := c.client.GetSuggestion(ctx, in)
		return c.finishSuggestion(gen, text, err)
	}, nil
}

func (c *Controller) finishSuggestion(gen uint64, text string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flags.Suggesting = false
	if err != nil {
		c.failLocked(services.OpSuggestion, err)
		c.publishLocked()
		return err
	}

	// A newer evaluation resolved while this suggestion was in flight.
	if gen != c.resultGen {
		log.Printf("[Workflow] Suggestion for an older evaluation dropped")
		c.recorder.IncStale(services.OpSuggestion)
		c.publishLocked()
		return nil
	}

	c.suggestion = text
	c.publishLocked()
	return nil
}

func (c *Controller) clearExporting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.flags.Exporting {
		return
	}
	c.flags.Exporting = false
	c.publishLocked()
}

func (c *Controller) currentInputs() models.EvaluationInputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs
}

func (c *Controller) goRun(ctx context.Context, run func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		run(ctx)
	}()
}

func (c *Controller) failLocked(op string, err error) {
	c.lastErr = &OperationError{
		Operation: op,
		Kind:      services.KindOf(err),
		Message:   failurePrefix[op] + err.Error(),
	}
	log.Printf("[Workflow] %s", c.lastErr.Message)
}

func (c *Controller) publishLocked() {
	c.version++
	c.feed.Publish(c.snapshotLocked())
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:        c.version,
		Phase:          PhaseIdle,
		Inputs:         c.inputs,
		SuggestionText: c.suggestion,
		Flags:          c.flags,
	}
	switch {
	case c.flags.Evaluating:
		s.Phase = PhaseEvaluating
	case c.result != nil:
		s.Phase = PhaseEvaluated
	}
	if c.lastEvaluated != nil {
		in := *c.lastEvaluated
		s.LastEvaluatedInputs = &in
	}
	if c.result != nil {
		res := *c.result
		s.Result = &res
	}
	if c.lastErr != nil {
		e := *c.lastErr
		s.LastError = &e
	}
	return s
}
