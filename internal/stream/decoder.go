package stream

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
	// contentPath is where OpenAI-style chunks carry the incremental text.
	contentPath = "choices.0.delta.content"
)

// Decoder turns the chunks of an SSE response body into incremental text.
// A line split across two chunks is carried over and completed by the next
// chunk.
type Decoder struct {
	partial []byte
}

// Feed decodes one chunk and returns the text it contributes plus any frames
// that could not be parsed.
func (d *Decoder) Feed(chunk []byte) (string, []*MalformedFrameError) {
	data := chunk
	if len(d.partial) > 0 {
		data = append(d.partial, chunk...)
		d.partial = nil
	}

	var sb strings.Builder
	var bad []*MalformedFrameError

	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if err := decodeLine(string(data[:i]), &sb); err != nil {
			bad = append(bad, err)
		}
		data = data[i+1:]
	}

	// An unterminated line is decoded now if it already holds a complete
	// frame, otherwise it waits for the next chunk.
	if len(data) > 0 {
		if complete(string(data)) {
			if err := decodeLine(string(data), &sb); err != nil {
				bad = append(bad, err)
			}
		} else {
			d.partial = append([]byte(nil), data...)
		}
	}

	return sb.String(), bad
}

// Flush decodes whatever is still carried over. Call it at end of stream.
func (d *Decoder) Flush() (string, []*MalformedFrameError) {
	if len(d.partial) == 0 {
		return "", nil
	}
	line := string(d.partial)
	d.partial = nil

	var sb strings.Builder
	if err := decodeLine(line, &sb); err != nil {
		return "", []*MalformedFrameError{err}
	}
	return sb.String(), nil
}

// payload returns the data of a data line, and false for any other line.
func payload(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r"), dataPrefix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func complete(line string) bool {
	p, ok := payload(line)
	if !ok {
		return false
	}
	return p == doneMarker || gjson.Valid(p)
}

func decodeLine(line string, sb *strings.Builder) *MalformedFrameError {
	p, ok := payload(line)
	if !ok || p == "" || p == doneMarker {
		return nil
	}
	if !gjson.Valid(p) {
		return &MalformedFrameError{Frame: p}
	}
	if content := gjson.Get(p, contentPath); content.Type == gjson.String {
		sb.WriteString(content.String())
	}
	return nil
}
