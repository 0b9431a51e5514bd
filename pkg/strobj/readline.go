package strobj

import (
	"bufio"
	"errors"
	"io"
)

// LineLimit is the default number of payload bytes kept from an input line.
const LineLimit = 99

// LineResult is a line read into the arena.
type LineResult struct {
	Handle    Handle
	Truncated bool // the line was longer than the limit and was cut
}

// ReadLine reads one line from r into a new object, keeping at most
// LineLimit bytes. See ReadLineLimit.
func (a *Arena) ReadLine(r *bufio.Reader) (LineResult, error) {
	return a.ReadLineLimit(r, LineLimit)
}

// ReadLineLimit reads one line from r into a new object holding at most
// limit bytes. One trailing newline is stripped. The remainder of an overlong
// line is consumed and dropped, and the result is marked Truncated.
// It returns io.EOF if r is exhausted before any byte is read.
func (a *Arena) ReadLineLimit(r *bufio.Reader, limit int) (LineResult, error) {
	line, truncated, err := ReadLineBytes(r, limit)
	if err != nil {
		return LineResult{}, err
	}
	return LineResult{Handle: a.adopt(line), Truncated: truncated}, nil
}

// ReadLineBytes reads one line from r and returns at most limit bytes of it
// with one trailing newline removed.
func ReadLineBytes(r *bufio.Reader, limit int) ([]byte, bool, error) {
	if limit < 0 {
		limit = 0
	}

	var (
		line      []byte
		truncated bool
		read      int
	)
	for {
		chunk, err := r.ReadSlice('\n')
		read += len(chunk)

		payload := chunk
		if n := len(payload); n > 0 && payload[n-1] == '\n' {
			payload = payload[:n-1]
		}
		if room := limit - len(line); room > 0 {
			if len(payload) > room {
				line = append(line, payload[:room]...)
				truncated = true
			} else {
				line = append(line, payload...)
			}
		} else if len(payload) > 0 {
			truncated = true
		}

		switch {
		case err == nil:
			return nonNil(line), truncated, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				return nil, false, io.EOF
			}
			return nonNil(line), truncated, nil
		default:
			return nil, false, err
		}
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
