package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplay(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  string
	}{
		{name: "no sentinel", chunk: "total 0\n", want: "total 0\n"},
		{name: "trailing sentinel", chunk: "hello\n##END##", want: "hello\n"},
		{name: "only sentinel", chunk: "##END##", want: ""},
		{name: "text after sentinel is dropped", chunk: "a##END##b", want: "a"},
		{name: "partial sentinel kept", chunk: "out##EN", want: "out##EN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Display([]byte(tt.chunk), DefaultSentinel))
		})
	}
}

func TestDisplay_EmptySentinel(t *testing.T) {
	assert.Equal(t, "x##END##", Display([]byte("x##END##"), ""))
}

func TestWriteResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, []byte("Directory changed\n"), DefaultSentinel))
	assert.Equal(t, "Directory changed\n##END##", buf.String())
}

func TestSplitResponses(t *testing.T) {
	stream := "first\n##END##second##END##tail"
	sc := bufio.NewScanner(iotest.OneByteReader(strings.NewReader(stream)))
	sc.Split(SplitResponses(DefaultSentinel))

	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"first\n", "second", "tail"}, got)
}

func TestSplitResponses_SentinelInPayloadSplitsEarly(t *testing.T) {
	// Framing has no escaping: a sentinel inside the body ends the response.
	sc := bufio.NewScanner(strings.NewReader("echo ##END## done##END##"))
	sc.Split(SplitResponses(DefaultSentinel))

	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	assert.Equal(t, []string{"echo ", " done"}, got)
}

func TestFormatCommand(t *testing.T) {
	assert.Equal(t, []byte("ls -la\n"), FormatCommand("ls -la"))
}

func TestReadLine(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader("list\r\nswitch 2\nlast"), 16)

	for _, want := range []string{"list", "switch 2", "last"} {
		line, err := ReadLine(br)
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := ReadLine(br)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadLine_OversizedLineIsSkipped(t *testing.T) {
	stream := strings.Repeat("x", 100) + "\nlist\n" + strings.Repeat("y", 40)
	br := bufio.NewReaderSize(iotest.OneByteReader(strings.NewReader(stream)), 16)

	_, err := ReadLine(br)
	assert.ErrorIs(t, err, ErrLineTooLong)

	line, err := ReadLine(br)
	require.NoError(t, err)
	assert.Equal(t, "list", line)

	_, err = ReadLine(br)
	assert.ErrorIs(t, err, ErrLineTooLong, "unterminated oversized tail")
	_, err = ReadLine(br)
	assert.ErrorIs(t, err, io.EOF)
}
