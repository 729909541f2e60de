package twitchirc

import "strings"

// Tags holds the IRCv3 tag annotations of one line.
type Tags map[string]string

// Get returns the tag value and whether the key was present.
func (t Tags) Get(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t[key]
	return v, ok
}

// DecodeTags parses "k1=v1;k2=v2". It never fails: segments without "=" get
// an empty value and empty segments are skipped.
func DecodeTags(raw string) Tags {
	raw = strings.TrimPrefix(raw, "@")
	tags := Tags{}
	if raw == "" {
		return tags
	}
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		key, val, _ := strings.Cut(kv, "=")
		if key == "" {
			continue
		}
		tags[key] = unescapeIRC(val)
	}
	return tags
}

func unescapeIRC(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			if s[i] != '\\' {
				b.WriteByte(s[i])
			}
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
