// Package frame implements the line-based framing spoken with the speech
// synthesis service: a block of Key:Value header lines, an empty line, then
// the payload. Control messages travel as text frames, audio as binary frames.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"time"
)

const (
	HeaderRequestID   = "X-RequestId"
	HeaderTimestamp   = "X-Timestamp"
	HeaderContentType = "Content-Type"
	HeaderPath        = "Path"
)

const (
	PathSpeechConfig  = "speech.config"
	PathSSML          = "ssml"
	PathTurnStart     = "turn.start"
	PathTurnEnd       = "turn.end"
	PathAudio         = "audio"
	PathAudioMetadata = "audio.metadata"
	PathWordBoundary  = "word.boundary"
)

const (
	ContentTypeJSON = "application/json; charset=utf-8"
	ContentTypeSSML = "application/ssml+xml"
	ContentTypeMPEG = "audio/mpeg"
)

// timestampLayout is ISO-8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

var (
	crlf      = []byte("\r\n")
	delimiter = []byte("\r\n\r\n")
)

// ErrNoDelimiter reports a frame without the CRLF CRLF header terminator.
var ErrNoDelimiter = errors.New("frame: header delimiter not found")

// Header is one Key:Value line.
type Header struct {
	Key   string
	Value string
}

// Headers keeps header lines in wire order.
type Headers []Header

// Get returns the first value for key, compared case-insensitively.
func (h Headers) Get(key string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			return hdr.Value
		}
	}
	return ""
}

// Message is a decoded or to-be-encoded frame.
type Message struct {
	Headers Headers
	Payload []byte
}

// Path returns the Path header.
func (m Message) Path() string {
	return m.Headers.Get(HeaderPath)
}

// Timestamp formats t the way the service expects in X-Timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Encode renders m as header lines, an empty line and the payload.
func Encode(m Message) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize(m.Headers) + len(m.Payload))
	writeHeaders(&buf, m.Headers)
	buf.Write(m.Payload)
	return buf.Bytes()
}

// EncodeBinary renders m the way the service frames binary audio: a 2-byte
// big-endian length of the header block, the header block and the payload.
func EncodeBinary(m Message) []byte {
	var buf bytes.Buffer
	size := headerSize(m.Headers)
	buf.Grow(2 + size + len(m.Payload))
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(size))
	buf.Write(prefix[:])
	writeHeaders(&buf, m.Headers)
	buf.Write(m.Payload)
	return buf.Bytes()
}

func headerSize(headers Headers) int {
	n := len(delimiter) - len(crlf)
	for _, h := range headers {
		n += len(h.Key) + 1 + len(h.Value) + len(crlf)
	}
	return n
}

func writeHeaders(buf *bytes.Buffer, headers Headers) {
	for _, h := range headers {
		buf.WriteString(h.Key)
		buf.WriteByte(':')
		buf.WriteString(h.Value)
		buf.Write(crlf)
	}
	buf.Write(crlf)
}

// NewConfigMessage builds the speech.config frame carrying body as JSON.
func NewConfigMessage(now time.Time, body []byte) Message {
	return Message{
		Headers: Headers{
			{Key: HeaderTimestamp, Value: Timestamp(now)},
			{Key: HeaderContentType, Value: ContentTypeJSON},
			{Key: HeaderPath, Value: PathSpeechConfig},
		},
		Payload: body,
	}
}

// NewSSMLMessage builds the ssml frame for requestID.
func NewSSMLMessage(requestID string, now time.Time, markup string) Message {
	return Message{
		Headers: Headers{
			{Key: HeaderRequestID, Value: requestID},
			{Key: HeaderContentType, Value: ContentTypeSSML},
			{Key: HeaderTimestamp, Value: Timestamp(now)},
			{Key: HeaderPath, Value: PathSSML},
		},
		Payload: []byte(markup),
	}
}

// SplitHeader splits data at the first CRLF CRLF. ok is false when there is
// no delimiter.
func SplitHeader(data []byte) (header, payload []byte, ok bool) {
	idx := bytes.Index(data, delimiter)
	if idx < 0 {
		return nil, nil, false
	}
	return data[:idx], data[idx+len(delimiter):], true
}

// ParseHeaders parses Key:Value lines separated by CRLF. Lines without a
// colon are skipped.
func ParseHeaders(block []byte) Headers {
	var headers Headers
	for _, line := range bytes.Split(block, crlf) {
		key, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			continue
		}
		headers = append(headers, Header{
			Key:   strings.TrimSpace(string(key)),
			Value: strings.TrimSpace(string(value)),
		})
	}
	return headers
}
