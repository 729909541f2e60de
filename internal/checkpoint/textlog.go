package checkpoint

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/you/chatdump/internal/core"
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// TextLine renders ev as "<created_at> display_name: body" on one line.
func TextLine(ev core.ChatEvent) string {
	body := lineBreaks.Replace(ev.Body)
	return formatTime(ev.OccurredAt) + " " + ev.AuthorName + ": " + body
}

func appendLines(path string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open text log")
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "append text log")
	}
	return errors.Wrap(f.Close(), "close text log")
}
