// Package ai coordinates AI rewrites of a selection and AI enhancement of a whole document
// with the editor session they modify.
package ai

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/editor"
	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
)

// Mode is what an operation reads and replaces.
type Mode string

const (
	ModeSelected Mode = "selected"
	ModeFull     Mode = "full"
)

// State is the coordinator's position in an operation's lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StateCapturing        State = "capturing"
	StateAwaitingResponse State = "awaitingResponse"
	StateApplying         State = "applying"
	StateFailed           State = "failed"
)

// RewriteRequest asks for a rewrite of selected text.
type RewriteRequest struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction"`
	Context     string `json:"context"`
}

// EnhanceRequest asks for an improved version of a whole document.
type EnhanceRequest struct {
	Content     string `json:"content"`
	Instruction string `json:"instruction"`
	Context     string `json:"context"`
}

// Rewriter rewrites a passage.
type Rewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}

// Enhancer improves a whole document.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (string, error)
}

// Target is the editor surface an operation reads from and writes back to.
// *editor.Session implements it.
type Target interface {
	SelectedText() string
	TrackSelection() editor.TrackedRange
	ReplaceRange(r editor.TrackedRange, text string) error
	HTML() string
	ReplaceDocument(html string) []*errs.Error
}

// OperationState describes the operation in flight.
type OperationState struct {
	Mode         Mode
	CapturedText string
	InFlight     bool
}

// Result is the outcome of one operation.
type Result struct {
	Mode    Mode
	Applied bool
	// Discarded is set when the operation was closed before its response arrived.
	Discarded bool
	Err       error
}

// Operation is a handle on a started operation.
type Operation struct {
	mode     Mode
	captured string
	rng      editor.TrackedRange
	cancel   context.CancelFunc
	done     chan struct{}
	result   Result
}

// Done is closed when the operation has finished, been discarded or failed.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation finishes or ctx ends.
func (o *Operation) Wait(ctx context.Context) (Result, error) {
	select {
	case <-o.done:
		return o.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (o *Operation) finish(r Result) {
	o.result = r
	close(o.done)
}

// Coordinator runs at most one AI operation at a time against one editor session.
type Coordinator struct {
	target   Target
	rewriter Rewriter
	enhancer Enhancer
	onResult func(Result)
	log      *logrus.Entry

	mu    sync.Mutex
	state State
	op    *Operation
	wg    sync.WaitGroup
}

// NewCoordinator wires a coordinator. onResult, when set, is told about every finished
// operation so failures reach the user.
func NewCoordinator(target Target, rewriter Rewriter, enhancer Enhancer, onResult func(Result), logger logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		target:   target,
		rewriter: rewriter,
		enhancer: enhancer,
		onResult: onResult,
		log:      logging.Component(logger, "ai"),
		state:    StateIdle,
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current describes the operation in flight, if any.
func (c *Coordinator) Current() (OperationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op == nil {
		return OperationState{}, false
	}
	return OperationState{Mode: c.op.mode, CapturedText: c.op.captured, InFlight: true}, true
}

// RewriteSelection rewrites the selected text according to instruction. The response
// replaces the range captured now, even if the selection has moved on since.
func (c *Coordinator) RewriteSelection(ctx context.Context, instruction, surrounding string) (*Operation, error) {
	const op = "ai.rewrite_selection"
	if strings.TrimSpace(instruction) == "" {
		return nil, errs.Validationf(op, "instruction is required")
	}
	if c.rewriter == nil {
		return nil, errs.E(errs.Network, op, "no rewrite service configured", nil)
	}
	if err := c.beginCapture(op); err != nil {
		return nil, err
	}

	text := c.target.SelectedText()
	rng := c.target.TrackSelection()
	if strings.TrimSpace(text) == "" {
		c.endCapture()
		return nil, errs.Validationf(op, "select some text to rewrite")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	operation := c.startLocked(ModeSelected, text, rng)
	req := RewriteRequest{Text: text, Instruction: instruction, Context: surrounding}
	c.launchLocked(ctx, operation, func(ctx context.Context) (string, error) {
		return c.rewriter.Rewrite(ctx, req)
	})
	return operation, nil
}

// EnhanceDocument sends the whole document for enhancement and replaces it with the result.
func (c *Coordinator) EnhanceDocument(ctx context.Context, instruction, about string) (*Operation, error) {
	const op = "ai.enhance_document"
	if c.enhancer == nil {
		return nil, errs.E(errs.Network, op, "no enhance service configured", nil)
	}
	if err := c.beginCapture(op); err != nil {
		return nil, err
	}

	content := c.target.HTML()
	if strings.TrimSpace(content) == "" {
		c.endCapture()
		return nil, errs.Validationf(op, "document is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	operation := c.startLocked(ModeFull, content, editor.TrackedRange{})
	req := EnhanceRequest{Content: content, Instruction: instruction, Context: about}
	c.launchLocked(ctx, operation, func(ctx context.Context) (string, error) {
		return c.enhancer.Enhance(ctx, req)
	})
	return operation, nil
}

// beginCapture claims the coordinator for a new operation. The target is read after the
// claim, without c.mu held, since reading it may run editor callbacks.
func (c *Coordinator) beginCapture(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op != nil || c.state == StateCapturing || c.state == StateApplying {
		return errs.E(errs.Concurrency, op, "an AI operation is already in progress", nil)
	}
	c.state = StateCapturing
	return nil
}

func (c *Coordinator) endCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
}

func (c *Coordinator) startLocked(mode Mode, captured string, rng editor.TrackedRange) *Operation {
	return &Operation{
		mode:     mode,
		captured: captured,
		rng:      rng,
		done:     make(chan struct{}),
	}
}

func (c *Coordinator) launchLocked(ctx context.Context, operation *Operation, call func(context.Context) (string, error)) {
	ctx, operation.cancel = context.WithCancel(ctx)
	c.op = operation
	c.state = StateAwaitingResponse
	c.log.WithField("mode", operation.mode).Debug("ai request sent")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		output, err := call(ctx)
		c.complete(operation, output, err)
	}()
}

// complete applies a response. The operation is detached under c.mu and applied with the
// lock released, because the target notifies its change listeners synchronously and those
// may call back into the coordinator.
func (c *Coordinator) complete(operation *Operation, output string, err error) {
	c.mu.Lock()
	if c.op != operation {
		c.mu.Unlock()
		c.log.WithField("mode", operation.mode).Debug("late ai response discarded")
		return
	}
	c.op = nil
	operation.cancel()
	if err == nil {
		c.state = StateApplying
	}
	c.mu.Unlock()

	if err == nil {
		err = c.apply(operation, output)
	}

	result := Result{Mode: operation.mode}
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.Network, "ai."+string(operation.mode), "ai request failed", err)
		}
		result.Err = err
		c.log.WithError(err).WithField("mode", operation.mode).Warn("ai operation failed")
	} else {
		result.Applied = true
	}

	c.mu.Lock()
	c.state = StateIdle
	onResult := c.onResult
	c.mu.Unlock()

	if onResult != nil {
		onResult(result)
	}
	operation.finish(result)
}

func (c *Coordinator) apply(operation *Operation, output string) error {
	switch operation.mode {
	case ModeSelected:
		text := SanitizeText(output)
		if text == "" {
			return errs.E(errs.Network, "ai.apply", "empty rewrite", nil)
		}
		return c.target.ReplaceRange(operation.rng, text)
	case ModeFull:
		content := SanitizeDocument(output)
		if content == "" {
			return errs.E(errs.Network, "ai.apply", "empty document", nil)
		}
		c.target.ReplaceDocument(content)
		return nil
	}
	return errs.Validationf("ai.apply", "unknown mode %q", operation.mode)
}

// Close cancels the operation in flight. Its response, whenever it arrives, is discarded.
func (c *Coordinator) Close() {
	c.mu.Lock()
	operation := c.op
	if operation == nil {
		c.mu.Unlock()
		return
	}
	c.op = nil
	c.state = StateIdle
	operation.cancel()
	operation.finish(Result{Mode: operation.mode, Discarded: true})
	c.mu.Unlock()
	c.log.WithField("mode", operation.mode).Debug("ai operation closed")
}

// Wait blocks until every request goroutine has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
