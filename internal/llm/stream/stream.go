// Package stream implements the line-oriented event framing used between the
// provider gateway and the chat session: each event is a "data: " line
// carrying a small JSON payload, and a fixed sentinel line ends the stream.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
)

const (
	marker       = "data: "
	doneSentinel = "[DONE]"
)

// Event types carried inside a frame.
const (
	TypeText  = "text"
	TypeError = "error"
)

// Event is one decoded frame.
type Event struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Decoder reads framed events from r. Chunk boundaries need not align with
// line boundaries: partial lines are buffered until their terminator arrives.
// Unknown or malformed lines are logged and skipped. An immediate EOF with no
// events is a valid, empty stream.
type Decoder struct {
	r     io.Reader
	buf   []byte
	queue []Event
	done  bool
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next event, or io.EOF once the sentinel (or the underlying
// stream) ends.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.queue) > 0 {
			evt := d.queue[0]
			d.queue = d.queue[1:]
			return evt, nil
		}
		if d.done {
			return Event{}, io.EOF
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
			d.splitLines(false)
		}
		if err != nil {
			if err == io.EOF {
				d.splitLines(true)
				d.done = true
				continue
			}
			return Event{}, err
		}
	}
}

func (d *Decoder) splitLines(flush bool) {
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		d.parseLine(string(line))
		if d.done {
			return
		}
	}
	if flush && len(d.buf) > 0 {
		d.parseLine(string(d.buf))
		d.buf = nil
	}
}

func (d *Decoder) parseLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	if !strings.HasPrefix(line, marker) {
		log.Printf("stream: skipping unrecognized line %q", line)
		return
	}
	payload := line[len(marker):]
	if payload == doneSentinel {
		d.done = true
		return
	}

	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		log.Printf("stream: skipping malformed event: %v", err)
		return
	}
	switch evt.Type {
	case TypeText, TypeError:
		d.queue = append(d.queue, evt)
	default:
		log.Printf("stream: skipping event of unknown type %q", evt.Type)
	}
}

// Writer produces the framing consumed by Decoder.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Text(value string) error {
	return w.event(Event{Type: TypeText, Value: value})
}

func (w *Writer) Error(value string) error {
	return w.event(Event{Type: TypeError, Value: value})
}

// Done writes the completion sentinel.
func (w *Writer) Done() error {
	_, err := fmt.Fprintf(w.w, "%s%s\n", marker, doneSentinel)
	return err
}

func (w *Writer) event(evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w.w, "%s%s\n", marker, payload)
	return err
}
