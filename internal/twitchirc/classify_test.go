package twitchirc

import "testing"

func TestClassifyUserLine(t *testing.T) {
	line := "@badge-info=;badges=subscriber/3;color=#FF0000;display-name=Foo;emotes=25:0-4;user-id=1 :foo!foo@foo.tmi.example.com PRIVMSG #bar :Kappa hello"
	msg, ok := Classify(line)
	if !ok {
		t.Fatalf("expected line to classify")
	}
	if msg.Origin != OriginUser {
		t.Fatalf("expected user origin, got %v", msg.Origin)
	}
	if msg.Nick != "foo" || msg.Ident != "foo" || msg.Host != "foo.tmi.example.com" {
		t.Fatalf("unexpected prefix fields: %+v", msg)
	}
	if msg.Command != "PRIVMSG" || msg.Channel != "bar" {
		t.Fatalf("unexpected command/channel: %q %q", msg.Command, msg.Channel)
	}
	if !msg.HasPayload || msg.Payload != "Kappa hello" {
		t.Fatalf("unexpected payload: %q", msg.Payload)
	}
	if msg.Tags["display-name"] != "Foo" || msg.Tags["emotes"] != "25:0-4" {
		t.Fatalf("unexpected tags: %#v", msg.Tags)
	}
}

func TestClassifyPayloadKeepsColons(t *testing.T) {
	msg, ok := Classify("@id=1 :a!a@a.tmi.twitch.tv PRIVMSG #chan :see https://example.com :) ok")
	if !ok {
		t.Fatalf("expected line to classify")
	}
	if msg.Payload != "see https://example.com :) ok" {
		t.Fatalf("unexpected payload %q", msg.Payload)
	}
}

func TestClassifyServerLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		command    string
		payload    string
		hasPayload bool
	}{
		{
			name:    "roomstate without payload",
			line:    "@emote-only=0;room-id=123 :tmi.twitch.tv ROOMSTATE #chan",
			command: "ROOMSTATE",
		},
		{
			name:       "clearchat with target",
			line:       "@ban-duration=600;room-id=123;target-user-id=9 :tmi.twitch.tv CLEARCHAT #chan :baduser",
			command:    "CLEARCHAT",
			payload:    "baduser",
			hasPayload: true,
		},
		{
			name:       "usernotice",
			line:       "@msg-id=resub;login=fan :tmi.twitch.tv USERNOTICE #chan :great stream",
			command:    "USERNOTICE",
			payload:    "great stream",
			hasPayload: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Classify(tt.line)
			if !ok {
				t.Fatalf("expected line to classify")
			}
			if msg.Origin != OriginServer || msg.Server != "tmi.twitch.tv" {
				t.Fatalf("expected server origin, got %+v", msg)
			}
			if msg.Command != tt.command || msg.Channel != "chan" {
				t.Fatalf("unexpected command/channel %q %q", msg.Command, msg.Channel)
			}
			if msg.HasPayload != tt.hasPayload || msg.Payload != tt.payload {
				t.Fatalf("unexpected payload %q (%v)", msg.Payload, msg.HasPayload)
			}
		})
	}
}

func TestClassifyUnmatched(t *testing.T) {
	lines := []string{
		":nick!nick@nick.tmi.twitch.tv JOIN #chan",
		":tmi.twitch.tv 001 justinfan1 :Welcome, GLHF!",
		":justinfan1.tmi.twitch.tv 353 justinfan1 = #chan :justinfan1",
		":tmi.twitch.tv CAP * ACK :twitch.tv/tags",
		"@only=tags",
		"garbage",
		"",
	}
	for _, line := range lines {
		if msg, ok := Classify(line); ok {
			t.Fatalf("expected %q to be unmatched, got %+v", line, msg)
		}
	}
}

func TestClassifyControl(t *testing.T) {
	tests := []struct {
		line string
		want Control
	}{
		{"PING :tmi.twitch.tv", ControlPing},
		{":tmi.twitch.tv RECONNECT", ControlReconnect},
		{"@id=1 :a!a@a.tmi.twitch.tv PRIVMSG #chan :PING me", ControlNone},
		{"@id=1 :a!a@a.tmi.twitch.tv PRIVMSG #chan :RECONNECT", ControlNone},
		{":tmi.twitch.tv ROOMSTATE #chan", ControlNone},
	}
	for _, tt := range tests {
		if got := ClassifyControl(tt.line); got != tt.want {
			t.Fatalf("ClassifyControl(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
