package signal

import (
	"strconv"

	"github.com/AvisHuang/peer-chat/internal/domain"
)

// Inbound message types. Negotiation payloads (offer/answer/candidate) are
// forwarded verbatim and never interpreted here.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"

	TypeChat     = "chat"
	TypeReaction = "reaction"

	TypeStartPoll = "start-poll"
	TypeVote      = "vote"
	TypeEndPoll   = "end-poll"

	TypeSongRequest         = "song-request"
	TypeSongRequestAccepted = "song-request-accepted"
	TypeSongRequestRejected = "song-request-rejected"

	// TypeTransferHost is accepted over the socket but deliberately ignored:
	// the request/response endpoint is the single source of truth for host
	// state, so the two channels cannot race on it.
	TypeTransferHost = "transfer-host"
)

// Outbound (pushed) message types.
const (
	TypeRoomState       = "room-state"
	TypeUserJoined      = "user-joined"
	TypeUserLeft        = "user-left"
	TypeNotification    = "notification"
	TypeHostTransferred = "host-transferred"
	TypePollStarted     = "poll-started"
	TypePollUpdate      = "poll-update"
	TypePollEnded       = "poll-ended"
)

// Close codes for handshake rejection, distinguishable by clients.
const (
	CloseMissingCredentials = 4001
	CloseRoomFull           = 4003
	CloseRoomNotFound       = 4004
)

// Sender identifies the originator attached to relayed and broadcast
// messages.
type Sender struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

// envelope carries every inbound field the router may need; unknown fields
// stay in the raw payload and travel with forwards untouched.
type envelope struct {
	Type         string        `json:"type"`
	TargetUserID domain.UserID `json:"targetUserId"`

	Text  string `json:"text"`
	Emoji string `json:"emoji"`

	Question    string      `json:"question"`
	Options     []string    `json:"options"`
	PollID      string      `json:"pollId"`
	OptionIndex optionIndex `json:"optionIndex"`

	SongName   string `json:"songName"`
	ArtistName string `json:"artistName"`
}

// optionIndex tolerates both a JSON number and a numeric string, which some
// clients send. Anything non-numeric leaves the index unset and the vote is
// ignored like any other malformed vote, without dropping the envelope.
type optionIndex struct {
	value int
	set   bool
}

func (o optionIndex) Value() (int, bool) { return o.value, o.set }

func (o *optionIndex) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	o.value = n
	o.set = true
	return nil
}
