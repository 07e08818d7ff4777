package poll

import (
	"context"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
	"blogdesk/api/internal/nodes"
)

// State is where a voter is with one poll.
type State string

const (
	StateUnvoted State = "unvoted"
	StateVoted   State = "voted"
)

// Submitter sends a vote to the server and returns the updated tally.
type Submitter interface {
	SubmitVote(ctx context.Context, req VoteRequest) (Tally, error)
}

// Options configure a Runtime.
type Options struct {
	// ParentDocID identifies the post holding the poll. Votes go to Submitter only when both
	// are set; otherwise tallies are counted locally.
	ParentDocID string
	Submitter   Submitter
	Store       Store
	// OnTally receives the poll attributes after every tally change.
	OnTally func(nodes.PollAttrs)
	Logger  logrus.FieldLogger
}

// OptionView is one option as shown to the voter.
type OptionView struct {
	Text     string
	Votes    int
	Percent  int
	Selected bool
}

// View is what a poll shows: the choice form while unvoted, results once voted.
type View struct {
	State         State
	Question      string
	AllowMultiple bool
	TotalVotes    int
	Options       []OptionView
}

// ShowResults reports whether results replace the choice form.
func (v View) ShowResults() bool {
	return v.State == StateVoted
}

// Runtime is one voter's interaction with one poll.
type Runtime struct {
	parentDocID string
	submitter   Submitter
	store       Store
	onTally     func(nodes.PollAttrs)
	log         *logrus.Entry

	mu         sync.Mutex
	attrs      nodes.PollAttrs
	state      State
	selected   []int
	submitting bool
}

// NewRuntime starts a runtime for attrs. A vote record already in the store brings the poll
// up voted, with the recorded choices marked.
func NewRuntime(ctx context.Context, attrs nodes.PollAttrs, opts Options) (*Runtime, error) {
	if attrs.PollID == "" {
		return nil, errs.Validationf("poll.runtime", "poll has no id")
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Runtime{
		parentDocID: opts.ParentDocID,
		submitter:   opts.Submitter,
		store:       store,
		onTally:     opts.OnTally,
		log:         logging.Component(opts.Logger, "poll").WithField("poll_id", attrs.PollID),
		attrs:       nodes.Clone(attrs).(nodes.PollAttrs),
		state:       StateUnvoted,
	}

	rec, ok, err := store.Load(ctx, attrs.PollID)
	if err != nil {
		return nil, errs.E(errs.Network, "poll.rehydrate", "load vote record", err)
	}
	if ok {
		r.state = StateVoted
		r.selected = validIndexes(rec.SelectedIndexes, len(attrs.Options))
		r.log.Debug("poll rehydrated as voted")
	}
	return r, nil
}

func validIndexes(indexes []int, n int) []int {
	out := make([]int, 0, len(indexes))
	for _, i := range indexes {
		if i >= 0 && i < n && !slices.Contains(out, i) {
			out = append(out, i)
		}
	}
	slices.Sort(out)
	return out
}

// State returns the voter's state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attrs returns the current poll attributes.
func (r *Runtime) Attrs() nodes.PollAttrs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return nodes.Clone(r.attrs).(nodes.PollAttrs)
}

// Selected returns the chosen option indexes in ascending order.
func (r *Runtime) Selected() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.selected)
}

// Select chooses option i. A single-choice poll replaces the previous choice; a
// multiple-choice poll toggles i.
func (r *Runtime) Select(i int) error {
	const op = "poll.select"
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateVoted {
		return errs.E(errs.StateConflict, op, "poll already voted", nil)
	}
	if i < 0 || i >= len(r.attrs.Options) {
		return errs.Validationf(op, "option %d out of range", i)
	}
	if !r.attrs.AllowMultiple {
		r.selected = []int{i}
		return nil
	}
	if at := slices.Index(r.selected, i); at >= 0 {
		r.selected = slices.Delete(r.selected, at, at+1)
		return nil
	}
	r.selected = append(r.selected, i)
	slices.Sort(r.selected)
	return nil
}

// Confirm casts the selected vote. With a server configured its tally replaces the local
// one; without, the local tally is incremented. Once the vote is counted the poll is voted;
// a vote record that cannot be stored is only logged, since retrying would count it twice.
func (r *Runtime) Confirm(ctx context.Context) (nodes.PollAttrs, error) {
	const op = "poll.confirm"
	r.mu.Lock()
	if r.state == StateVoted {
		r.mu.Unlock()
		return nodes.PollAttrs{}, errs.E(errs.StateConflict, op, "poll already voted", nil)
	}
	if r.submitting {
		r.mu.Unlock()
		return nodes.PollAttrs{}, errs.E(errs.Concurrency, op, "vote already being submitted", nil)
	}
	selected := slices.Clone(r.selected)
	attrs := nodes.Clone(r.attrs).(nodes.PollAttrs)
	if err := ValidateSelection(attrs, selected); err != nil {
		r.mu.Unlock()
		return nodes.PollAttrs{}, err
	}
	r.submitting = true
	r.mu.Unlock()

	updated, err := r.count(ctx, attrs, selected)
	if err == nil {
		if _, saveErr := r.store.Save(ctx, VoteRecord{PollID: attrs.PollID, SelectedIndexes: selected}); saveErr != nil {
			r.log.WithError(saveErr).Warn("store vote record")
		}
	}

	r.mu.Lock()
	r.submitting = false
	if err != nil {
		r.mu.Unlock()
		r.log.WithError(err).Warn("vote failed")
		return nodes.PollAttrs{}, err
	}
	r.attrs = updated
	r.state = StateVoted
	onTally := r.onTally
	r.mu.Unlock()

	r.log.WithField("selected", selected).Info("vote recorded")
	if onTally != nil {
		onTally(nodes.Clone(updated).(nodes.PollAttrs))
	}
	return updated, nil
}

func (r *Runtime) count(ctx context.Context, attrs nodes.PollAttrs, selected []int) (nodes.PollAttrs, error) {
	if r.submitter == nil || r.parentDocID == "" {
		return ApplyVote(attrs, selected)
	}
	tally, err := r.submitter.SubmitVote(ctx, VoteRequest{
		PollID:          attrs.PollID,
		SelectedIndexes: selected,
		ParentDocID:     r.parentDocID,
	})
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.Network, "poll.submit", "submit vote", err)
		}
		return attrs, err
	}
	return tally.Apply(attrs), nil
}

// View describes what the poll shows now.
func (r *Runtime) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := View{
		State:         r.state,
		Question:      r.attrs.Question,
		AllowMultiple: r.attrs.AllowMultiple,
		TotalVotes:    r.attrs.TotalVotes,
		Options:       make([]OptionView, len(r.attrs.Options)),
	}
	for i, option := range r.attrs.Options {
		v.Options[i] = OptionView{
			Text:     option.Text,
			Votes:    option.Votes,
			Percent:  Percent(r.attrs, i),
			Selected: slices.Contains(r.selected, i),
		}
	}
	return v
}
