package chat

import (
	"sort"

	"github.com/you/chatdump/internal/core"
)

// BuildFragments splits body into plain-text and emote runs. Positions are
// counted in runes. Spans may arrive in any order; overlapping spans are
// tolerated and the last boundary reached wins. Concatenating the Text of
// the result always reproduces body.
func BuildFragments(body string, spans []core.EmoteSpan) []core.Fragment {
	if len(spans) == 0 {
		return []core.Fragment{{Text: body}}
	}

	ordered := append([]core.EmoteSpan(nil), spans...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Begin < ordered[j].Begin })

	endsAt := make(map[int]string, len(ordered))
	startsAt := make(map[int]bool, len(ordered))
	for _, s := range ordered {
		endsAt[s.End] = s.ID
		startsAt[s.Begin] = true
	}

	var (
		out []core.Fragment
		buf []rune
	)
	emit := func(emoteID string) {
		if len(buf) == 0 {
			return
		}
		out = append(out, core.Fragment{Text: string(buf), EmoteID: emoteID})
		buf = buf[:0]
	}

	for i, r := range []rune(body) {
		buf = append(buf, r)
		if id, ok := endsAt[i]; ok {
			emit(id)
		}
		if startsAt[i+1] {
			emit("")
		}
	}
	emit("")

	if len(out) == 0 {
		return []core.Fragment{{Text: body}}
	}
	return out
}
