package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/domain"
)

// StartPoll opens the room's single poll slot. Host only; the question and
// options are trimmed, empty options dropped, and at least two must survive.
func (rs *RoomService) StartPoll(requester domain.UserID, question string, options []string) (domain.PollSnapshot, error) {
	question = strings.TrimSpace(question)
	cleaned := make([]string, 0, len(options))
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			cleaned = append(cleaned, o)
		}
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.room.HostUserID != requester {
		return domain.PollSnapshot{}, domain.ErrNotHost
	}
	if question == "" || len(cleaned) < 2 {
		return domain.PollSnapshot{}, domain.ErrPollInvalid
	}
	if rs.poll != nil {
		return domain.PollSnapshot{}, domain.ErrPollActive
	}

	votes := make([]map[domain.UserID]struct{}, len(cleaned))
	for i := range votes {
		votes[i] = make(map[domain.UserID]struct{})
	}
	rs.poll = &domain.Poll{
		ID:        uuid.NewString(),
		Question:  question,
		Options:   cleaned,
		Votes:     votes,
		StartedBy: requester,
		StartedAt: time.Now(),
	}
	log.Info().Str("module", "core.poll").Str("room", string(rs.room.ID)).Str("poll", rs.poll.ID).Msg("poll started")
	return rs.poll.Snapshot(), nil
}

// Vote records a voter's choice. A repeat vote moves the voter to the new
// option rather than accumulating, which also makes duplicate delivery a
// no-op. Stale poll ids and out-of-range indexes are silently ignored;
// ok reports whether anything was recorded.
func (rs *RoomService) Vote(pollID string, voter domain.UserID, optionIndex int) (counts []int, ok bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.poll == nil || rs.poll.ID != pollID {
		return nil, false
	}
	if optionIndex < 0 || optionIndex >= len(rs.poll.Options) {
		return nil, false
	}
	for _, set := range rs.poll.Votes {
		delete(set, voter)
	}
	rs.poll.Votes[optionIndex][voter] = struct{}{}
	return rs.poll.Counts(), true
}

// EndPoll closes the active poll and returns its final snapshot. Host only.
func (rs *RoomService) EndPoll(requester domain.UserID) (domain.PollSnapshot, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.room.HostUserID != requester {
		return domain.PollSnapshot{}, domain.ErrNotHost
	}
	if rs.poll == nil {
		return domain.PollSnapshot{}, domain.ErrNoActivePoll
	}
	final := rs.poll.Snapshot()
	rs.poll = nil
	log.Info().Str("module", "core.poll").Str("room", string(rs.room.ID)).Str("poll", final.ID).Msg("poll ended")
	return final, nil
}
