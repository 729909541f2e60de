package checkpoint

import (
	"fmt"
	"math"
	"time"

	"github.com/you/chatdump/internal/core"
)

// TimeFormat is used for every timestamp written to the snapshot and the
// text log.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Snapshot is the document rewritten on every flush. Readers depend on
// comments[].message.body, comments[].created_at and
// comments[].commenter.display_name; keep them stable.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Comments  []Comment `json:"comments"`
	Video     Video     `json:"video"`
	SavedAt   string    `json:"savedAt"`
}

type Comment struct {
	ID                   string    `json:"_id"`
	Kind                 string    `json:"kind"`
	ChannelID            string    `json:"channel_id"`
	Commenter            Commenter `json:"commenter"`
	ContentOffsetSeconds float64   `json:"content_offset_seconds"`
	CreatedAt            string    `json:"created_at"`
	UpdatedAt            string    `json:"updated_at"`
	ServerTimestamp      string    `json:"server_timestamp"`
	Message              Message   `json:"message"`
	Source               string    `json:"source"`
	State                string    `json:"state"`
}

type Commenter struct {
	ID          string `json:"_id"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type Message struct {
	Body       string            `json:"body"`
	Emoticons  []core.EmoteSpan  `json:"emoticons"`
	Fragments  []MessageFragment `json:"fragments"`
	IsAction   bool              `json:"is_action"`
	UserBadges []core.Badge      `json:"user_badges"`
	UserColor  string            `json:"user_color"`
}

type MessageFragment struct {
	Text     string    `json:"text"`
	Emoticon *Emoticon `json:"emoticon"`
}

type Emoticon struct {
	EmoticonID    string `json:"emoticon_id"`
	EmoticonSetID string `json:"emoticon_set_id"`
}

type Video struct {
	CreatedAt    string  `json:"created_at"`
	PublishedAt  string  `json:"published_at"`
	Description  string  `json:"description"`
	Duration     string  `json:"duration"`
	ID           int     `json:"id"`
	Language     string  `json:"language"`
	ThumbnailURL string  `json:"thumbnail_url"`
	Title        string  `json:"title"`
	Type         string  `json:"type"`
	URL          string  `json:"url"`
	UserID       string  `json:"user_id"`
	UserName     string  `json:"user_name"`
	ViewCount    int     `json:"view_count"`
	Viewable     string  `json:"viewable"`
	Start        int     `json:"start"`
	End          float64 `json:"end"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// FormatDuration renders d as "HhMmSs", dropping fractional seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%dh%dm%ds", total/3600, (total/60)%60, total%60)
}

func offsetSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

func newComment(ev core.ChatEvent) Comment {
	created := formatTime(ev.OccurredAt)
	frags := make([]MessageFragment, 0, len(ev.Fragments))
	for _, f := range ev.Fragments {
		mf := MessageFragment{Text: f.Text}
		if f.IsEmote() {
			mf.Emoticon = &Emoticon{EmoticonID: f.EmoteID}
		}
		frags = append(frags, mf)
	}
	badges := ev.Badges
	if badges == nil {
		badges = []core.Badge{}
	}
	emotes := ev.Emotes
	if emotes == nil {
		emotes = []core.EmoteSpan{}
	}
	return Comment{
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		ChannelID: ev.ChannelID,
		Commenter: Commenter{
			ID:          ev.AuthorID,
			DisplayName: ev.AuthorName,
			Name:        ev.AuthorLogin,
			Type:        "user",
			CreatedAt:   created,
			UpdatedAt:   created,
		},
		ContentOffsetSeconds: offsetSeconds(ev.Offset),
		CreatedAt:            created,
		UpdatedAt:            created,
		ServerTimestamp:      formatTime(ev.ServerTimestamp),
		Message: Message{
			Body:       ev.Body,
			Emoticons:  emotes,
			Fragments:  frags,
			IsAction:   ev.IsAction,
			UserBadges: badges,
			UserColor:  ev.Colour,
		},
		Source: "chat",
		State:  "published",
	}
}

// BuildSnapshot rebuilds the whole document from events. Only chat messages
// become comments.
func BuildSnapshot(sessionID, channel, channelID string, start, now time.Time, events []core.ChatEvent) Snapshot {
	comments := make([]Comment, 0, len(events))
	for _, ev := range events {
		if ev.Kind != core.KindMessage {
			continue
		}
		if channelID == "" && ev.ChannelID != "" {
			channelID = ev.ChannelID
		}
		comments = append(comments, newComment(ev))
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	started := formatTime(start)
	return Snapshot{
		SessionID: sessionID,
		Comments:  comments,
		Video: Video{
			CreatedAt:   started,
			PublishedAt: started,
			Duration:    FormatDuration(elapsed),
			Language:    "en",
			Title:       "Chat Dump",
			Type:        "archive",
			UserID:      channelID,
			UserName:    channel,
			ViewCount:   1000,
			Viewable:    "public",
			End:         offsetSeconds(elapsed),
		},
		SavedAt: formatTime(now),
	}
}
