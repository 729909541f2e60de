package core

import "time"

// EventKind classifies a translated chat line.
type EventKind string

const (
	KindMessage          EventKind = "message"
	KindRoomState        EventKind = "roomstate"
	KindModerationNotice EventKind = "moderation"
	KindIgnored          EventKind = "ignored"
)

// EmoteSpan marks one emote occurrence in a message body. Begin and End are
// inclusive rune offsets.
type EmoteSpan struct {
	ID    string `json:"_id"`
	Begin int    `json:"begin"`
	End   int    `json:"end"`
}

// Fragment is one run of a message body. EmoteID is empty for plain text;
// for emote runs Text holds the literal characters the emote replaces.
type Fragment struct {
	Text    string
	EmoteID string
}

func (f Fragment) IsEmote() bool { return f.EmoteID != "" }

type Badge struct {
	ID      string `json:"_id"`
	Version string `json:"version"`
}

// ChatEvent is the canonical record produced for each accepted protocol line.
type ChatEvent struct {
	ID              string // uid_N, monotonic per session
	Seq             int64
	Kind            EventKind
	Command         string
	OccurredAt      time.Time // local capture time
	ServerTimestamp time.Time // tmi-sent-ts when present, else OccurredAt
	Offset          time.Duration
	ChannelID       string
	PlatformMsgID   string
	AuthorID        string
	AuthorLogin     string
	AuthorName      string
	Colour          string
	Body            string
	IsAction        bool
	Fragments       []Fragment
	Emotes          []EmoteSpan
	Badges          []Badge
	NoticeID        string // msg-id tag on notices
	Raw             string // raw line, notices only
}
