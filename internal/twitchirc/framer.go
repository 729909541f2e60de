package twitchirc

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

const maxPendingBytes = 64 * 1024

// ErrClosed reports that the peer closed the stream (a zero-length read).
var ErrClosed = errors.New("twitchirc: connection closed by peer")

// DecodeError is returned when a chunk is not valid UTF-8. The chunk is
// discarded and framing continues with the next one. When the bytes carried
// from earlier chunks are the broken part, they are discarded instead and the
// lines completed by the new chunk are returned alongside the error.
type DecodeError struct {
	Chunk  []byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("twitchirc: undecodable chunk (%d bytes): %s", len(e.Chunk), e.Reason)
}

// Framer splits a byte stream into protocol lines. Bytes after the last
// terminator are kept and prepended to the next chunk.
type Framer struct {
	pending []byte
}

func NewFramer() *Framer { return &Framer{} }

// Feed consumes one chunk and returns every line it completes, without
// terminators. Empty lines are skipped. A zero-length chunk yields ErrClosed.
func (f *Framer) Feed(chunk []byte) ([]string, error) {
	if len(chunk) == 0 {
		return nil, ErrClosed
	}

	data := make([]byte, 0, len(f.pending)+len(chunk))
	data = append(data, f.pending...)
	data = append(data, chunk...)

	var dropped error
	if !validText(data) {
		if !validText(chunk) {
			return nil, &DecodeError{Chunk: chunk, Reason: "invalid utf-8"}
		}
		// The carried tail cannot be completed by this chunk.
		dropped = &DecodeError{Chunk: f.Pending(), Reason: "incomplete utf-8 sequence"}
		f.pending = f.pending[:0]
		data = append(data[:0], chunk...)
	}

	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		line := bytes.TrimRight(data[:idx], "\r")
		data = data[idx+1:]
		if len(line) == 0 {
			continue
		}
		lines = append(lines, string(line))
	}

	if len(data) > maxPendingBytes {
		f.pending = nil
		return lines, &DecodeError{Chunk: chunk, Reason: fmt.Sprintf("line exceeds %d bytes without terminator", maxPendingBytes)}
	}
	f.pending = append(f.pending[:0], data...)
	return lines, dropped
}

// validText reports whether b is UTF-8, ignoring a trailing partial rune.
func validText(b []byte) bool {
	return utf8.Valid(b[:len(b)-incompleteRuneTail(b)])
}

// Pending returns a copy of the buffered, not yet terminated bytes.
func (f *Framer) Pending() []byte {
	return append([]byte(nil), f.pending...)
}

// Reset drops buffered bytes; used when a new connection starts.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}

// incompleteRuneTail returns how many trailing bytes form the start of a
// multi-byte sequence that a later chunk may complete.
func incompleteRuneTail(b []byte) int {
	for n := 1; n <= utf8.UTFMax-1 && n <= len(b); n++ {
		c := b[len(b)-n]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-n:]) {
				return 0
			}
			return n
		}
	}
	return 0
}
