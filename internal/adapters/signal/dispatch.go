package signal

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/core"
	"github.com/AvisHuang/peer-chat/internal/domain"
)

// dispatch routes one inbound envelope. The relay is permissive: malformed
// or unknown messages are logged and dropped, the connection stays open, and
// nothing is retried.
func (ctl *Controller) dispatch(rs *core.RoomService, sender domain.Member, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Str("module", "adapters.signal").Str("user", string(sender.UserID)).Err(err).Msg("invalid json from client, ignoring")
		return
	}

	switch env.Type {
	case TypeOffer, TypeAnswer, TypeCandidate:
		ctl.forward(rs, sender, env.TargetUserID, data)

	case TypeChat:
		ctl.chat(rs, sender, env.Text)

	case TypeReaction:
		if env.Emoji == "" {
			return
		}
		ctl.Events.broadcast(rs.ID(), map[string]any{
			"type":  TypeReaction,
			"emoji": env.Emoji,
			"from":  Sender{UserID: sender.UserID, DisplayName: sender.DisplayName},
		}, "")

	case TypeStartPoll:
		ctl.startPoll(rs, sender.UserID, env)

	case TypeVote:
		idx, set := env.OptionIndex.Value()
		if !set {
			return
		}
		if counts, ok := rs.Vote(env.PollID, sender.UserID, idx); ok {
			ctl.Events.PollUpdate(rs.ID(), env.PollID, counts)
		}

	case TypeEndPoll:
		ctl.endPoll(rs, sender.UserID)

	case TypeSongRequest:
		if env.TargetUserID == "" {
			return
		}
		ctl.Events.toUser(rs.ID(), env.TargetUserID, map[string]any{
			"type":          TypeSongRequest,
			"requesterName": sender.DisplayName,
			"requesterId":   sender.UserID,
			"songName":      env.SongName,
			"artistName":    env.ArtistName,
		})

	case TypeSongRequestAccepted, TypeSongRequestRejected:
		ctl.Events.broadcast(rs.ID(), map[string]any{
			"type":          env.Type,
			"responderName": sender.DisplayName,
		}, "")

	case TypeTransferHost:
		// Documented no-op: host transfer is owned by the request/response
		// endpoint so the two channels never race on host state.
		log.Debug().Str("module", "adapters.signal").Str("user", string(sender.UserID)).Msg("transfer-host over socket ignored")

	default:
		log.Warn().Str("module", "adapters.signal").Str("type", env.Type).Msg("unknown message type from client")
	}
}

// forward relays a negotiation payload verbatim to one peer, with the sender
// identity attached. No target or a gone target means a silent drop; the
// negotiation protocol above tolerates loss.
func (ctl *Controller) forward(rs *core.RoomService, sender domain.Member, target domain.UserID, raw []byte) {
	if target == "" {
		return
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	from, err := json.Marshal(Sender{UserID: sender.UserID, DisplayName: sender.DisplayName})
	if err != nil {
		return
	}
	payload["from"] = from
	out, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctl.Hub.Forward(rs.ID(), target, out)
}

func (ctl *Controller) chat(rs *core.RoomService, sender domain.Member, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	ctl.Events.broadcast(rs.ID(), map[string]any{
		"type":      TypeChat,
		"text":      text,
		"from":      Sender{UserID: sender.UserID, DisplayName: sender.DisplayName},
		"timestamp": time.Now().UnixMilli(),
	}, "")
}

func (ctl *Controller) startPoll(rs *core.RoomService, requester domain.UserID, env envelope) {
	snap, err := rs.StartPoll(requester, env.Question, env.Options)
	switch {
	case err == nil:
		ctl.Events.PollStarted(rs.ID(), snap)
	case errors.Is(err, domain.ErrNotHost):
		ctl.Events.Notify(rs.ID(), requester, "Only the host can start a poll", true)
	case errors.Is(err, domain.ErrPollInvalid):
		ctl.Events.Notify(rs.ID(), requester, "A question and at least two options are required", true)
	case errors.Is(err, domain.ErrPollActive):
		ctl.Events.Notify(rs.ID(), requester, "A poll is already active, end it first", true)
	}
}

func (ctl *Controller) endPoll(rs *core.RoomService, requester domain.UserID) {
	snap, err := rs.EndPoll(requester)
	switch {
	case err == nil:
		ctl.Events.PollEnded(rs.ID(), snap)
	case errors.Is(err, domain.ErrNotHost):
		ctl.Events.Notify(rs.ID(), requester, "Only the host can end the poll", true)
	case errors.Is(err, domain.ErrNoActivePoll):
		// Nothing to end; dropped like any other stale message.
	}
}
