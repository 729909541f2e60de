package chat

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/you/chatdump/internal/core"
	"github.com/you/chatdump/internal/twitchirc"
)

// DefaultColour is used when a chatter has never picked a name colour.
const DefaultColour = "#FFFFFF"

const (
	actionPrefix = "\x01ACTION "
	actionMark   = "\x01"
)

// Translator turns classified lines into ChatEvents for one session. It is
// not safe for concurrent use.
type Translator struct {
	start     time.Time
	now       func() time.Time
	seq       int64
	channelID string
	logger    *slog.Logger
}

// NewTranslator returns a translator whose offsets are measured from start.
// channelID may be empty; it is then learned from the room-id tag.
func NewTranslator(start time.Time, channelID string, now func() time.Time) *Translator {
	if now == nil {
		now = time.Now
	}
	return &Translator{
		start:     start,
		now:       now,
		channelID: channelID,
		logger:    slog.Default().With("component", "chat"),
	}
}

// ChannelID returns the numeric channel id, configured or observed.
func (t *Translator) ChannelID() string { return t.channelID }

// Seq returns the id number of the last event produced.
func (t *Translator) Seq() int64 { return t.seq }

// Translate produces the event for msg. Verbs that carry nothing worth
// recording return false; that is not an error.
func (t *Translator) Translate(msg twitchirc.Message) (core.ChatEvent, bool) {
	if id, ok := msg.Tags.Get("room-id"); ok && id != "" && t.channelID == "" {
		t.channelID = id
	}

	switch msg.Command {
	case "PRIVMSG":
		return t.message(msg), true
	case "ROOMSTATE":
		return t.notice(msg, core.KindRoomState), true
	case "USERNOTICE", "CLEARCHAT":
		return t.notice(msg, core.KindModerationNotice), true
	default:
		return core.ChatEvent{Kind: core.KindIgnored}, false
	}
}

func (t *Translator) base(msg twitchirc.Message, kind core.EventKind) core.ChatEvent {
	t.seq++
	captured := t.now().UTC()
	ev := core.ChatEvent{
		ID:              fmt.Sprintf("uid_%d", t.seq),
		Seq:             t.seq,
		Kind:            kind,
		Command:         msg.Command,
		OccurredAt:      captured,
		ServerTimestamp: captured,
		Offset:          captured.Sub(t.start),
		ChannelID:       t.channelID,
	}
	if ts, ok := serverTime(msg.Tags); ok {
		ev.ServerTimestamp = ts
	}
	if ev.Offset < 0 {
		ev.Offset = 0
	}
	ev.PlatformMsgID, _ = msg.Tags.Get("id")
	return ev
}

func (t *Translator) message(msg twitchirc.Message) core.ChatEvent {
	ev := t.base(msg, core.KindMessage)

	ev.AuthorLogin = msg.Nick
	if login, ok := msg.Tags.Get("login"); ok && login != "" {
		ev.AuthorLogin = login
	}
	ev.AuthorName = ev.AuthorLogin
	if name, ok := msg.Tags.Get("display-name"); ok && strings.TrimSpace(name) != "" {
		ev.AuthorName = strings.TrimSpace(name)
	}
	if id, ok := msg.Tags.Get("user-id"); ok && id != "" {
		ev.AuthorID = id
	} else {
		t.logger.Debug("chat: message without user-id", "nick", msg.Nick, "event", ev.ID)
	}
	ev.Colour = DefaultColour
	if c, ok := msg.Tags.Get("color"); ok && c != "" {
		ev.Colour = c
	}
	raw, _ := msg.Tags.Get("badges")
	ev.Badges = ParseBadges(raw)

	ev.Body, ev.IsAction = stripAction(msg.Payload)
	emotes, _ := msg.Tags.Get("emotes")
	spans := SegmentEmotes(emotes)
	ev.Fragments = BuildFragments(ev.Body, spans)
	ev.Emotes = sortedSpans(spans)
	return ev
}

func (t *Translator) notice(msg twitchirc.Message, kind core.EventKind) core.ChatEvent {
	ev := t.base(msg, kind)
	ev.Body = msg.Payload
	ev.Raw = msg.Raw
	ev.NoticeID, _ = msg.Tags.Get("msg-id")
	if login, ok := msg.Tags.Get("login"); ok {
		ev.AuthorLogin = login
	}
	if name, ok := msg.Tags.Get("display-name"); ok {
		ev.AuthorName = name
	}
	ev.AuthorID, _ = msg.Tags.Get("user-id")
	t.logger.Info("chat: notice", "command", msg.Command, "msg_id", ev.NoticeID, "channel", msg.Channel, "payload", msg.Payload)
	return ev
}

// ParseBadges decodes a badges tag such as "subscriber/3,premium/1". Entries
// without a version keep an empty one.
func ParseBadges(raw string) []core.Badge {
	badges := []core.Badge{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, version, _ := strings.Cut(item, "/")
		if id == "" {
			continue
		}
		badges = append(badges, core.Badge{ID: id, Version: version})
	}
	return badges
}

// stripAction removes the ACTION wrapper and trailing whitespace. Leading
// text is left alone so emote offsets still index the body.
func stripAction(payload string) (string, bool) {
	if strings.HasPrefix(payload, actionPrefix) {
		body := strings.TrimPrefix(payload, actionPrefix)
		body = strings.TrimSuffix(body, actionMark)
		return strings.TrimRightFunc(body, unicode.IsSpace), true
	}
	return strings.TrimRightFunc(payload, unicode.IsSpace), false
}

func serverTime(tags twitchirc.Tags) (time.Time, bool) {
	raw, ok := tags.Get("tmi-sent-ts")
	if !ok || raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func sortedSpans(spans []core.EmoteSpan) []core.EmoteSpan {
	out := append([]core.EmoteSpan{}, spans...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Begin < out[j].Begin })
	return out
}
