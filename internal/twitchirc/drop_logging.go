package twitchirc

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
	dropChannelMaxLen   = 32
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

type ircSummary struct {
	command string
	channel string
	sample  string
}

type dropReasonSummary struct {
	total        int
	byCommand    map[string]int
	sampleByCmd  map[string]string
	channelByCmd map[string]string
}

// DropLogger aggregates lines the pipeline discards and periodically logs a
// per-reason summary instead of one record per line.
type DropLogger struct {
	logger   *slog.Logger
	verbose  bool
	interval time.Duration
	nextEmit time.Time
	reasons  map[string]*dropReasonSummary
}

func NewDropLogger(logger *slog.Logger, now time.Time, verbose bool, interval time.Duration) *DropLogger {
	if interval <= 0 {
		interval = dropSummaryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DropLogger{
		logger:   logger,
		verbose:  verbose,
		interval: interval,
		nextEmit: now.Add(interval),
		reasons:  make(map[string]*dropReasonSummary),
	}
}

// Note records one dropped line and emits the summary when it is due.
func (d *DropLogger) Note(now time.Time, reason, rawLine string) {
	if d == nil {
		return
	}
	summary := summarizeIRC(rawLine)
	if d.verbose {
		d.logger.Info("twitchirc: dropped line",
			"reason", reason,
			"command", summary.command,
			"channel", summary.channel,
			"sample", summary.sample,
		)
	}

	entry := d.reasons[reason]
	if entry == nil {
		entry = &dropReasonSummary{
			byCommand:    make(map[string]int),
			sampleByCmd:  make(map[string]string),
			channelByCmd: make(map[string]string),
		}
		d.reasons[reason] = entry
	}

	entry.total++
	entry.byCommand[summary.command]++
	if _, ok := entry.sampleByCmd[summary.command]; !ok {
		entry.sampleByCmd[summary.command] = summary.sample
	}
	if _, ok := entry.channelByCmd[summary.command]; !ok {
		entry.channelByCmd[summary.command] = summary.channel
	}

	if now.After(d.nextEmit) || now.Equal(d.nextEmit) {
		d.Flush(now)
	}
}

// Total returns the number of lines noted since the last summary.
func (d *DropLogger) Total() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, rs := range d.reasons {
		n += rs.total
	}
	return n
}

// Tick emits the summary if the interval has elapsed.
func (d *DropLogger) Tick(now time.Time) {
	if d == nil {
		return
	}
	if now.After(d.nextEmit) || now.Equal(d.nextEmit) {
		d.Flush(now)
	}
}

func (d *DropLogger) Flush(now time.Time) {
	if d == nil {
		return
	}
	if len(d.reasons) == 0 {
		d.nextEmit = now.Add(d.interval)
		return
	}

	reasons := sortedKeys(d.reasons)
	for _, reason := range reasons {
		rs := d.reasons[reason]
		if rs == nil || rs.total == 0 {
			continue
		}
		d.logger.Info("twitchirc: dropped_"+reason,
			"total", rs.total,
			"commands", formatCommandCounts(rs.byCommand),
			"samples", formatCommandSamples(rs.sampleByCmd, rs.channelByCmd),
		)
	}

	clear(d.reasons)
	d.nextEmit = now.Add(d.interval)
}

// summarizeIRC reduces a dropped line to its verb, channel and a short
// sample. Lines matching one of the chat shapes reuse Classify; anything else
// is read with the bare cursor.
func summarizeIRC(rawLine string) ircSummary {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return ircSummary{command: "UNKNOWN"}
	}

	if msg, ok := Classify(line); ok {
		channel := "#" + msg.Channel
		sample := msg.Payload
		if msg.Command == "USERNOTICE" {
			if id, _ := msg.Tags.Get("msg-id"); id != "" {
				sample = "msg-id=" + id
			}
		}
		if sample == "" {
			sample = channel
		}
		return ircSummary{
			command: msg.Command,
			channel: sanitizeAndTruncate(channel, dropChannelMaxLen),
			sample:  sanitizeAndTruncate(sample, dropSampleMaxLen),
		}
	}

	p := lineParser{s: line}
	p.skipTags()
	if p.peek() == ':' {
		p.pos++
		p.word()
	}
	cmd := strings.ToUpper(p.word())
	if cmd == "" {
		return ircSummary{command: "UNKNOWN", sample: sanitizeAndTruncate(line, dropSampleMaxLen)}
	}
	rest := p.s[p.pos:]

	channel := ""
	for _, part := range strings.Fields(rest) {
		if strings.HasPrefix(part, "#") {
			channel = part
			break
		}
	}
	sample := rest
	if _, trailing, ok := strings.Cut(rest, " :"); ok {
		sample = trailing
	}
	sample = strings.TrimPrefix(sample, ":")
	if sample == "" {
		sample = channel
	}

	return ircSummary{
		command: cmd,
		channel: sanitizeAndTruncate(channel, dropChannelMaxLen),
		sample:  sanitizeAndTruncate(sample, dropSampleMaxLen),
	}
}

func sanitizeAndTruncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")

	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "PASS ") || upper == "PASS" {
		s = "PASS [REDACTED]"
	}

	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllStringFunc(s, func(v string) string {
		if strings.HasPrefix(v, "#") {
			return v
		}
		return "[REDACTED]"
	})

	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatCommandCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(counts))
	for _, cmd := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s:%d", cmd, counts[cmd]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func formatCommandSamples(samples map[string]string, channels map[string]string) string {
	if len(samples) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(samples))
	for _, cmd := range sortedKeys(samples) {
		sample := samples[cmd]
		channel := channels[cmd]
		if channel != "" {
			parts = append(parts, cmd+":'"+channel+" "+sample+"'")
			continue
		}
		parts = append(parts, cmd+":'"+sample+"'")
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
