package domain

import (
	"errors"
	"time"
)

var (
	ErrPollActive   = errors.New("a poll is already active")
	ErrNoActivePoll = errors.New("no active poll")
	ErrPollInvalid  = errors.New("poll needs a question and at least two options")
)

// Poll is a single-question vote scoped to one room. Votes hold voter ids so
// a re-vote can be moved; only aggregate counts ever leave the core.
type Poll struct {
	ID        string
	Question  string
	Options   []string
	Votes     []map[UserID]struct{}
	StartedBy UserID
	StartedAt time.Time
}

// PollSnapshot is the public view broadcast to clients: counts, no voters.
type PollSnapshot struct {
	ID        string   `json:"id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Counts    []int    `json:"counts"`
	StartedBy UserID   `json:"startedBy"`
}

// Counts returns the current vote-set sizes in option order.
func (p *Poll) Counts() []int {
	counts := make([]int, len(p.Votes))
	for i, set := range p.Votes {
		counts[i] = len(set)
	}
	return counts
}

// Snapshot builds the public view of the poll.
func (p *Poll) Snapshot() PollSnapshot {
	return PollSnapshot{
		ID:        p.ID,
		Question:  p.Question,
		Options:   p.Options,
		Counts:    p.Counts(),
		StartedBy: p.StartedBy,
	}
}
