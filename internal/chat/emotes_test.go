package chat

import (
	"reflect"
	"strings"
	"testing"

	"github.com/you/chatdump/internal/core"
)

func TestSegmentEmotes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []core.EmoteSpan
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "25:0-4", want: []core.EmoteSpan{{ID: "25", Begin: 0, End: 4}}},
		{
			name: "repeated occurrences",
			raw:  "25:0-4,12-16",
			want: []core.EmoteSpan{{ID: "25", Begin: 0, End: 4}, {ID: "25", Begin: 12, End: 16}},
		},
		{
			name: "annotation order kept",
			raw:  "1902:6-10/25:0-4",
			want: []core.EmoteSpan{{ID: "1902", Begin: 6, End: 10}, {ID: "25", Begin: 0, End: 4}},
		},
		{
			name: "malformed pairs skipped",
			raw:  "25:0-4,x-2,7-3,9/:1-2/emotesv2_abc:6-8",
			want: []core.EmoteSpan{{ID: "25", Begin: 0, End: 4}, {ID: "emotesv2_abc", Begin: 6, End: 8}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SegmentEmotes(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SegmentEmotes(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestSegmentEmotesSpanCountMatchesPairs(t *testing.T) {
	inputs := []string{
		"25:0-4",
		"25:0-4,6-10,12-16",
		"1:0-1/2:3-4,6-7/3:9-9",
		"305954156:0-7,9-16,18-25/88:27-34",
	}
	for _, raw := range inputs {
		pairs := 0
		ids := map[string]int{}
		for _, group := range strings.Split(raw, "/") {
			id, list, _ := strings.Cut(group, ":")
			n := len(strings.Split(list, ","))
			pairs += n
			ids[id] += n
		}

		spans := SegmentEmotes(raw)
		if len(spans) != pairs {
			t.Fatalf("%q: got %d spans, want %d", raw, len(spans), pairs)
		}
		for _, s := range spans {
			ids[s.ID]--
		}
		for id, n := range ids {
			if n != 0 {
				t.Fatalf("%q: emote %s count off by %d", raw, id, n)
			}
		}
	}
}
