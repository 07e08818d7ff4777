package nodes

import (
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// PollOption is one answer of a poll with its tally.
type PollOption struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// PollAttrs are the attributes of an embedded poll. PollID is minted once when the poll is
// inserted and never changes afterwards.
type PollAttrs struct {
	PollID        string
	Question      string
	Options       []PollOption
	AllowMultiple bool
	// TotalVotes counts voters, not option votes.
	TotalVotes int
}

func (PollAttrs) Kind() Kind { return KindPoll }

func (a PollAttrs) clone() Attrs {
	a.Options = append([]PollOption{}, a.Options...)
	return a
}

// VoteSum is the sum of all option tallies.
func (a PollAttrs) VoteSum() int {
	sum := 0
	for _, option := range a.Options {
		sum += option.Votes
	}
	return sum
}

// NewPollAttrs builds an unvoted poll from option labels.
func NewPollAttrs(pollID, question string, labels []string, allowMultiple bool) PollAttrs {
	options := make([]PollOption, 0, len(labels))
	for _, label := range labels {
		options = append(options, PollOption{Text: label})
	}
	return PollAttrs{
		PollID:        pollID,
		Question:      question,
		Options:       options,
		AllowMultiple: allowMultiple,
	}
}

type pollSpec struct{}

func (pollSpec) Kind() Kind        { return KindPoll }
func (pollSpec) HasContent() bool  { return false }
func (pollSpec) TrapsCursor() bool { return true }

func (pollSpec) Defaults() Attrs {
	return PollAttrs{Options: []PollOption{}}
}

func (pollSpec) Match(sel *goquery.Selection) bool {
	return isDiv(sel, KindPoll)
}

func (pollSpec) Parse(sel *goquery.Selection) (Attrs, []*errs.Error) {
	r := newReader(sel, KindPoll)
	attrs := PollAttrs{
		PollID:        r.str("data-poll-id", ""),
		Question:      r.str("data-question", ""),
		Options:       readList[PollOption](r, "data-options"),
		AllowMultiple: r.boolean("data-allow-multiple", false),
		TotalVotes:    r.integer("data-total-votes", 0),
	}
	if attrs.TotalVotes < 0 {
		r.report("data-total-votes", "negative total %d", attrs.TotalVotes)
		attrs.TotalVotes = 0
	}
	return attrs, r.issues
}

func (pollSpec) Render(a Attrs, _ string) string {
	attrs, _ := a.(PollAttrs)
	options := attrs.Options
	if options == nil {
		options = []PollOption{}
	}
	return openTag("div", KindPoll).
		attr("data-poll-id", attrs.PollID).
		attr("data-question", attrs.Question).
		attr("data-options", EncodeJSON(options)).
		attr("data-allow-multiple", EncodeBool(attrs.AllowMultiple)).
		attr("data-total-votes", strconv.Itoa(attrs.TotalVotes)).
		wrap("div", "")
}
