package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"blogdesk/api/internal/editor"
	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// stubModel answers each call with whatever is sent on reply, or with ctx.Err() when the
// call is cancelled first.
type stubModel struct {
	calls    atomic.Int32
	started  chan struct{}
	reply    chan stubReply
	mu       sync.Mutex
	rewrites []RewriteRequest
	enhances []EnhanceRequest
}

type stubReply struct {
	text string
	err  error
}

func newStubModel() *stubModel {
	return &stubModel{started: make(chan struct{}, 4), reply: make(chan stubReply, 1)}
}

func (m *stubModel) wait(ctx context.Context) (string, error) {
	m.calls.Add(1)
	m.started <- struct{}{}
	select {
	case r := <-m.reply:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *stubModel) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	m.mu.Lock()
	m.rewrites = append(m.rewrites, req)
	m.mu.Unlock()
	return m.wait(ctx)
}

func (m *stubModel) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	m.mu.Lock()
	m.enhances = append(m.enhances, req)
	m.mu.Unlock()
	return m.wait(ctx)
}

func newFixture(t *testing.T, html string) (*editor.Session, *stubModel, *Coordinator, *[]Result) {
	t.Helper()
	session, issues := editor.Load(html, nil, logging.Discard())
	require.Empty(t, issues)
	model := newStubModel()
	var mu sync.Mutex
	results := &[]Result{}
	c := NewCoordinator(session, model, model, func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		*results = append(*results, r)
	}, logging.Discard())
	t.Cleanup(func() {
		c.Close()
		c.Wait()
	})
	return session, model, c, results
}

func waitDone(t *testing.T, op *Operation) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := op.Wait(ctx)
	require.NoError(t, err)
	return r
}

func TestRewriteReplacesCapturedSelection(t *testing.T) {
	session, model, c, results := newFixture(t, "<p>the cat sat</p>")
	session.Select(5, 8)
	require.Equal(t, "cat", session.SelectedText())

	op, err := c.RewriteSelection(context.Background(), "make it a dog", "")
	require.NoError(t, err)
	<-model.started
	assert.Equal(t, StateAwaitingResponse, c.State())
	state, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, OperationState{Mode: ModeSelected, CapturedText: "cat", InFlight: true}, state)

	model.reply <- stubReply{text: "dog"}
	r := waitDone(t, op)
	assert.True(t, r.Applied)
	assert.NoError(t, r.Err)
	assert.Equal(t, "<p>the dog sat</p>", session.HTML())
	assert.Equal(t, StateIdle, c.State())
	assert.Len(t, *results, 1)
	assert.Equal(t, "cat", model.rewrites[0].Text)
}

func TestRewriteTargetsRangeNotText(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>cat and cat</p>")
	session.Select(9, 12)

	op, err := c.RewriteSelection(context.Background(), "shout", "")
	require.NoError(t, err)
	<-model.started

	// Edits before the captured range while the request is out shift it right.
	session.Select(1, 1)
	require.NoError(t, session.InsertText("a "))

	model.reply <- stubReply{text: "CAT"}
	r := waitDone(t, op)
	require.NoError(t, r.Err)
	assert.Equal(t, "<p>a cat and CAT</p>", session.HTML())
}

func TestRewriteConcurrentRejected(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>hello world</p>")
	session.Select(1, 6)

	op, err := c.RewriteSelection(context.Background(), "formal", "")
	require.NoError(t, err)
	<-model.started

	_, err = c.RewriteSelection(context.Background(), "formal", "")
	assert.True(t, errs.Is(err, errs.Concurrency))
	_, err = c.EnhanceDocument(context.Background(), "", "")
	assert.True(t, errs.Is(err, errs.Concurrency))
	assert.EqualValues(t, 1, model.calls.Load())

	model.reply <- stubReply{text: "Greetings"}
	waitDone(t, op)
	assert.Equal(t, "<p>Greetings world</p>", session.HTML())
}

func TestRewriteValidation(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>hello</p>")

	session.Select(1, 1)
	_, err := c.RewriteSelection(context.Background(), "anything", "")
	assert.True(t, errs.Is(err, errs.Validation))

	session.Select(1, 6)
	_, err = c.RewriteSelection(context.Background(), "  ", "")
	assert.True(t, errs.Is(err, errs.Validation))

	assert.EqualValues(t, 0, model.calls.Load())
	assert.Equal(t, StateIdle, c.State())
}

func TestFailureLeavesDocumentUntouched(t *testing.T) {
	session, model, c, results := newFixture(t, "<p>keep me</p>")
	session.Select(1, 5)

	op, err := c.RewriteSelection(context.Background(), "change", "")
	require.NoError(t, err)
	<-model.started
	model.reply <- stubReply{err: errors.New("upstream returned 502")}

	r := waitDone(t, op)
	assert.False(t, r.Applied)
	assert.True(t, errs.Is(r.Err, errs.Network))
	assert.Equal(t, "<p>keep me</p>", session.HTML())
	assert.Equal(t, StateIdle, c.State())
	require.Len(t, *results, 1)
	assert.Error(t, (*results)[0].Err)
}

func TestEmptyResponseIsFailure(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>keep me</p>")
	session.Select(1, 5)

	op, err := c.RewriteSelection(context.Background(), "change", "")
	require.NoError(t, err)
	<-model.started
	model.reply <- stubReply{text: "<b></b>"}

	r := waitDone(t, op)
	assert.Error(t, r.Err)
	assert.Equal(t, "<p>keep me</p>", session.HTML())
}

func TestCloseDiscardsLateResponse(t *testing.T) {
	session, model, c, results := newFixture(t, "<p>original</p>")
	session.Select(1, 9)
	mutations := session.Mutations()

	op, err := c.RewriteSelection(context.Background(), "rewrite", "")
	require.NoError(t, err)
	<-model.started

	c.Close()
	r := waitDone(t, op)
	assert.True(t, r.Discarded)
	c.Wait()

	assert.Equal(t, "<p>original</p>", session.HTML())
	assert.Equal(t, mutations, session.Mutations())
	assert.Empty(t, *results)
	assert.Equal(t, StateIdle, c.State())

	// A new operation can start once the old one is closed.
	op, err = c.RewriteSelection(context.Background(), "rewrite", "")
	require.NoError(t, err)
	<-model.started
	model.reply <- stubReply{text: "fresh"}
	waitDone(t, op)
	assert.Equal(t, "<p>fresh</p>", session.HTML())
}

func TestCapturedRangeDeletedMeanwhile(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>one</p><p>two</p>")
	session.Select(6, 9)

	op, err := c.RewriteSelection(context.Background(), "rewrite", "")
	require.NoError(t, err)
	<-model.started

	require.NoError(t, session.DeleteNode(5))
	before := session.HTML()
	model.reply <- stubReply{text: "TWO"}

	r := waitDone(t, op)
	assert.True(t, errs.Is(r.Err, errs.StateConflict))
	assert.Equal(t, before, session.HTML())
}

func TestChangeListenerMayReadCoordinator(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>the cat sat</p>")
	type seen struct {
		state    State
		inFlight bool
	}
	observed := make(chan seen, 1)
	session.OnChange(func(string) {
		_, inFlight := c.Current()
		observed <- seen{state: c.State(), inFlight: inFlight}
	})
	session.Select(5, 8)

	op, err := c.RewriteSelection(context.Background(), "make it a dog", "")
	require.NoError(t, err)
	<-model.started
	model.reply <- stubReply{text: "dog"}

	r := waitDone(t, op)
	require.NoError(t, r.Err)
	select {
	case got := <-observed:
		assert.Equal(t, seen{state: StateApplying}, got)
	default:
		t.Fatal("change listener did not run")
	}
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "<p>the dog sat</p>", session.HTML())
}

func TestChangeListenerMayStartNextOperation(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>draft</p>")
	rejected := make(chan error, 1)
	session.OnChange(func(string) {
		_, err := c.EnhanceDocument(context.Background(), "", "")
		rejected <- err
	})

	op, err := c.EnhanceDocument(context.Background(), "", "")
	require.NoError(t, err)
	<-model.started
	model.reply <- stubReply{text: "<p>better</p>"}
	waitDone(t, op)

	assert.True(t, errs.Is(<-rejected, errs.Concurrency))
	assert.EqualValues(t, 1, model.calls.Load())
}

func TestEnhanceReplacesDocument(t *testing.T) {
	session, model, c, _ := newFixture(t, "<p>draft</p>")

	op, err := c.EnhanceDocument(context.Background(), "", "markets")
	require.NoError(t, err)
	<-model.started
	assert.Equal(t, "<p>draft</p>", model.enhances[0].Content)

	model.reply <- stubReply{text: "```html\n<h2>Title</h2><p>Better <script>alert(1)</script>draft</p>\n```"}
	r := waitDone(t, op)
	require.NoError(t, r.Err)
	assert.Equal(t, "<h2>Title</h2><p>Better draft</p>", session.HTML())
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  hello  ", want: "hello"},
		{name: "markup stripped", in: "<p>hello <b>there</b></p>", want: "hello there"},
		{name: "entities decoded", in: "fish &amp; chips", want: "fish & chips"},
		{name: "fenced", in: "```\nhello\n```", want: "hello"},
		{name: "script dropped", in: "<script>x()</script>ok", want: "ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeText(tc.in))
		})
	}
}

func TestSanitizeDocumentKeepsNodeAttributes(t *testing.T) {
	in := `<div data-type="poll" data-question="Q?" onclick="x()"></div>`
	assert.Equal(t, `<div data-type="poll" data-question="Q?"></div>`, SanitizeDocument(in))
}
