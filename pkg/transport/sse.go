package transport

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DoneSentinel is the payload that marks the end of a reply stream.
	DoneSentinel = "[DONE]"

	// DefaultMaxFrameSize bounds a record that has not seen its delimiter yet.
	DefaultMaxFrameSize = 1 << 20

	dataPrefix = "data: "
)

var frameDelimiter = []byte("\n\n")

// ErrFrameTooLarge is returned by Feed once an unterminated record outgrows
// the decoder's limit.
var ErrFrameTooLarge = errors.New("event-stream record too large")

// FrameDecoder accumulates raw body bytes and cuts them into event-stream
// records on the blank-line delimiter. Splitting happens on bytes, so a
// multi-byte rune split across two reads is reassembled before it is decoded.
type FrameDecoder struct {
	// MaxSize bounds the pending record. Zero means DefaultMaxFrameSize.
	MaxSize int

	pending []byte
}

// Feed appends chunk and returns every record it completed, in order. The
// records completed by chunk are returned even when the remainder overflows.
func (d *FrameDecoder) Feed(chunk []byte) ([]string, error) {
	d.pending = append(d.pending, chunk...)

	var frames []string
	for {
		i := bytes.Index(d.pending, frameDelimiter)
		if i < 0 {
			break
		}
		frames = append(frames, string(d.pending[:i]))
		d.pending = d.pending[i+len(frameDelimiter):]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	if limit := d.maxSize(); len(d.pending) > limit {
		size := len(d.pending)
		d.pending = nil
		return frames, errors.Wrapf(ErrFrameTooLarge, "%d bytes without a delimiter, limit %d", size, limit)
	}
	return frames, nil
}

func (d *FrameDecoder) maxSize() int {
	if d.MaxSize > 0 {
		return d.MaxSize
	}
	return DefaultMaxFrameSize
}

// Pending returns the bytes of the record that has not been terminated yet.
func (d *FrameDecoder) Pending() string {
	return string(d.pending)
}

// FramePayload returns the payload of a "data: " record. Other records are
// not significant and report ok=false.
func FramePayload(frame string) (payload string, ok bool) {
	if !strings.HasPrefix(frame, dataPrefix) {
		return "", false
	}
	return frame[len(dataPrefix):], true
}
