// Package poll runs the vote flow of embedded polls: option selection, submission, tallying
// and the per-voter record that brings a voted poll back as results.
package poll

import (
	"math"
	"slices"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/nodes"
)

// VoteRequest is sent to the server when a vote is confirmed.
type VoteRequest struct {
	PollID          string `json:"pollId"`
	SelectedIndexes []int  `json:"selectedIndexes"`
	ParentDocID     string `json:"parentDocId"`
}

// Tally is the server's view of a poll after a vote.
type Tally struct {
	UpdatedOptions []nodes.PollOption `json:"updatedOptions"`
	TotalVotes     int                `json:"totalVotes"`
}

// Apply writes the tally into attrs.
func (t Tally) Apply(attrs nodes.PollAttrs) nodes.PollAttrs {
	attrs.Options = append([]nodes.PollOption{}, t.UpdatedOptions...)
	attrs.TotalVotes = t.TotalVotes
	return attrs
}

// TallyOf reads the tally of attrs.
func TallyOf(attrs nodes.PollAttrs) Tally {
	return Tally{
		UpdatedOptions: append([]nodes.PollOption{}, attrs.Options...),
		TotalVotes:     attrs.TotalVotes,
	}
}

// ValidateSelection checks indexes against the options and choice mode of attrs.
func ValidateSelection(attrs nodes.PollAttrs, indexes []int) error {
	const op = "poll.validate"
	if len(indexes) == 0 {
		return errs.Validationf(op, "select at least one option")
	}
	if !attrs.AllowMultiple && len(indexes) > 1 {
		return errs.Validationf(op, "poll allows a single choice, got %d", len(indexes))
	}
	seen := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		if i < 0 || i >= len(attrs.Options) {
			return errs.Validationf(op, "option %d out of range", i)
		}
		if seen[i] {
			return errs.Validationf(op, "option %d selected twice", i)
		}
		seen[i] = true
	}
	return nil
}

// ApplyVote counts one voter choosing indexes. attrs is not modified.
func ApplyVote(attrs nodes.PollAttrs, indexes []int) (nodes.PollAttrs, error) {
	if err := ValidateSelection(attrs, indexes); err != nil {
		return attrs, err
	}
	attrs.Options = slices.Clone(attrs.Options)
	for _, i := range indexes {
		attrs.Options[i].Votes++
	}
	attrs.TotalVotes++
	return attrs, nil
}

// PercentBase is the denominator of option percentages: every option vote on a
// multiple-choice poll, the voter count otherwise.
func PercentBase(attrs nodes.PollAttrs) int {
	if attrs.AllowMultiple {
		return attrs.VoteSum()
	}
	return attrs.TotalVotes
}

// Percent is the rounded share of option i. A zero base gives 0.
func Percent(attrs nodes.PollAttrs, i int) int {
	base := PercentBase(attrs)
	if base <= 0 || i < 0 || i >= len(attrs.Options) {
		return 0
	}
	return int(math.Round(float64(attrs.Options[i].Votes) / float64(base) * 100))
}
