// Package protocol holds the framing rules shared by the server and its agents.
//
// Commands travel server -> agent as newline-terminated text. Responses travel
// agent -> server as free-form bytes followed by a fixed sentinel. There is no
// length prefix and no escaping, so a sentinel that occurs inside a response body
// is indistinguishable from the real terminator.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultSentinel marks the end of one agent response.
const DefaultSentinel = "##END##"

// ErrLineTooLong is returned by ReadLine for a line that does not fit the
// reader's buffer. The line has been consumed; the next call starts on the
// following line.
var ErrLineTooLong = errors.New("line too long")

// Display returns the chunk as text, cut at the first sentinel occurrence.
// The server prints every read as one unit, so this is for display only and
// says nothing about where a response really ends.
func Display(chunk []byte, sentinel string) string {
	if sentinel != "" {
		if i := bytes.Index(chunk, []byte(sentinel)); i >= 0 {
			chunk = chunk[:i]
		}
	}
	return string(chunk)
}

// WriteResponse writes body followed by the sentinel in a single write.
func WriteResponse(w io.Writer, body []byte, sentinel string) error {
	buf := make([]byte, 0, len(body)+len(sentinel))
	buf = append(buf, body...)
	buf = append(buf, sentinel...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// SplitResponses returns a bufio.SplitFunc that yields one response body per
// token, with the sentinel removed. A trailing partial response at EOF is
// returned as a final token.
func SplitResponses(sentinel string) bufio.SplitFunc {
	marker := []byte(sentinel)
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, marker); i >= 0 {
			return i + len(marker), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// FormatCommand terminates an operator line the way agents expect to read it.
func FormatCommand(text string) []byte {
	return []byte(text + "\n")
}

// ReadLine returns the next newline-terminated line from br without its line
// ending. A line longer than br's buffer is discarded up to and including its
// newline and reported as ErrLineTooLong, so the caller can keep reading. An
// unterminated final line is returned before io.EOF.
func ReadLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = br.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return "", fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, br.Size())
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return string(bytes.TrimRight(line, "\r")), nil
		}
		return "", err
	}
	return string(bytes.TrimRight(line, "\r\n")), nil
}
