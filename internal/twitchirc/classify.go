package twitchirc

import "strings"

// Origin tells which line shape matched.
type Origin int

const (
	OriginUser Origin = iota + 1
	OriginServer
)

// Message is a classified protocol line.
type Message struct {
	Raw        string
	RawTags    string
	Tags       Tags
	Origin     Origin
	Nick       string // user-originated only
	Ident      string
	Host       string
	Server     string // server-originated only
	Command    string
	Channel    string // without '#'
	Payload    string
	HasPayload bool
}

// Control is a line handled before classification.
type Control int

const (
	ControlNone Control = iota
	ControlPing
	ControlReconnect
)

// ClassifyControl reports whether line is a keep-alive probe or a
// server-directed reconnect.
func ClassifyControl(line string) Control {
	p := lineParser{s: line}
	p.skipTags()
	if p.peek() == ':' {
		p.pos++
		p.word()
		p.spaces()
	}
	switch strings.ToUpper(p.word()) {
	case "PING":
		return ControlPing
	case "RECONNECT":
		return ControlReconnect
	}
	return ControlNone
}

// Classify matches line against the user-originated shape
//
//	[@tags] :nick!ident[@host] VERB #channel :payload
//
// and then the server-originated shape
//
//	[@tags] :server VERB #channel[ :payload]
//
// The first match wins.
func Classify(line string) (Message, bool) {
	if msg, ok := parseUserLine(line); ok {
		return msg, true
	}
	return parseServerLine(line)
}

func parseUserLine(line string) (Message, bool) {
	p := lineParser{s: line}
	msg := Message{Raw: line, Origin: OriginUser}
	if !p.tags(&msg) || !p.expect(':') {
		return Message{}, false
	}

	prefix := p.word()
	nick, rest, ok := strings.Cut(prefix, "!")
	if !ok || nick == "" || rest == "" {
		return Message{}, false
	}
	msg.Nick = nick
	msg.Ident, msg.Host, _ = strings.Cut(rest, "@")
	if msg.Ident == "" {
		return Message{}, false
	}

	if !p.command(&msg) || !p.channel(&msg) {
		return Message{}, false
	}
	if !p.trailing(&msg) {
		return Message{}, false
	}
	return msg, true
}

func parseServerLine(line string) (Message, bool) {
	p := lineParser{s: line}
	msg := Message{Raw: line, Origin: OriginServer}
	if !p.tags(&msg) || !p.expect(':') {
		return Message{}, false
	}

	server := p.word()
	if server == "" || strings.ContainsAny(server, "!@") {
		return Message{}, false
	}
	msg.Server = server

	if !p.command(&msg) || !p.channel(&msg) {
		return Message{}, false
	}
	if p.done() {
		return msg, true
	}
	if !p.trailing(&msg) {
		return Message{}, false
	}
	return msg, true
}

// lineParser is a small cursor over one line.
type lineParser struct {
	s   string
	pos int
}

func (p *lineParser) done() bool { return p.pos >= len(p.s) }

func (p *lineParser) peek() byte {
	if p.done() {
		return 0
	}
	return p.s[p.pos]
}

func (p *lineParser) expect(c byte) bool {
	if p.peek() != c {
		return false
	}
	p.pos++
	return true
}

func (p *lineParser) spaces() int {
	n := 0
	for !p.done() && p.s[p.pos] == ' ' {
		p.pos++
		n++
	}
	return n
}

// word consumes up to the next space and the spaces after it.
func (p *lineParser) word() string {
	start := p.pos
	for !p.done() && p.s[p.pos] != ' ' {
		p.pos++
	}
	w := p.s[start:p.pos]
	p.spaces()
	return w
}

func (p *lineParser) skipTags() {
	if p.peek() == '@' {
		p.word()
	}
}

func (p *lineParser) tags(msg *Message) bool {
	if p.peek() != '@' {
		msg.Tags = Tags{}
		return true
	}
	raw := p.word()
	if p.done() {
		return false
	}
	msg.RawTags = raw[1:]
	msg.Tags = DecodeTags(msg.RawTags)
	return true
}

func (p *lineParser) command(msg *Message) bool {
	verb := p.word()
	if verb == "" {
		return false
	}
	for i := 0; i < len(verb); i++ {
		c := verb[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	msg.Command = strings.ToUpper(verb)
	return true
}

func (p *lineParser) channel(msg *Message) bool {
	if !p.expect('#') {
		return false
	}
	start := p.pos
	for !p.done() && p.s[p.pos] != ' ' {
		p.pos++
	}
	if p.pos == start {
		return false
	}
	msg.Channel = p.s[start:p.pos]
	p.spaces()
	return true
}

func (p *lineParser) trailing(msg *Message) bool {
	if !p.expect(':') {
		return false
	}
	msg.Payload = p.s[p.pos:]
	msg.HasPayload = true
	p.pos = len(p.s)
	return true
}
