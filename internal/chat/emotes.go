package chat

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/you/chatdump/internal/core"
)

// SegmentEmotes parses an emotes tag such as
//
//	304253289:12-22/555555563:13-14,29-30
//
// into one span per position pair, in annotation order. Malformed groups or
// pairs are skipped and logged; the result is never an error.
func SegmentEmotes(raw string) []core.EmoteSpan {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var spans []core.EmoteSpan
	for _, group := range strings.Split(raw, "/") {
		if group == "" {
			continue
		}
		id, positions, ok := strings.Cut(group, ":")
		if !ok || id == "" {
			slog.Debug("chat: skipping emote group", "group", group)
			continue
		}
		for _, pos := range strings.Split(positions, ",") {
			span, ok := parseSpan(id, pos)
			if !ok {
				slog.Debug("chat: skipping emote position", "emote", id, "position", pos)
				continue
			}
			spans = append(spans, span)
		}
	}
	return spans
}

func parseSpan(id, pos string) (core.EmoteSpan, bool) {
	b, e, ok := strings.Cut(pos, "-")
	if !ok {
		return core.EmoteSpan{}, false
	}
	begin, err := strconv.Atoi(b)
	if err != nil || begin < 0 {
		return core.EmoteSpan{}, false
	}
	end, err := strconv.Atoi(e)
	if err != nil || end < begin {
		return core.EmoteSpan{}, false
	}
	return core.EmoteSpan{ID: id, Begin: begin, End: end}, true
}
