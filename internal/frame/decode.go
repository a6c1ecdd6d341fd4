package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ticksPerMillisecond converts the service's 100ns offsets.
const ticksPerMillisecond = 10_000

const readChunk = 4096

// DecodeAudio reads a binary frame from r and returns everything after the
// first CRLF CRLF. The delimiter may straddle reads. A frame without the
// delimiter yields ErrNoDelimiter.
func DecodeAudio(r io.Reader) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, readChunk)
	searched := 0
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			// Resume a few bytes back so a split delimiter is still matched.
			from := searched - (len(delimiter) - 1)
			if from < 0 {
				from = 0
			}
			if idx := bytes.Index(buf[from:], delimiter); idx >= 0 {
				start := from + idx + len(delimiter)
				rest, rerr := io.ReadAll(r)
				if rerr != nil {
					return nil, fmt.Errorf("read audio payload: %w", rerr)
				}
				payload := make([]byte, 0, len(buf)-start+len(rest))
				payload = append(payload, buf[start:]...)
				return append(payload, rest...), nil
			}
			searched = len(buf)
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrNoDelimiter
		}
		if err != nil {
			return nil, fmt.Errorf("read audio frame: %w", err)
		}
	}
}

// Kind classifies a text frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindTurnStart
	KindTurnEnd
	KindWordBoundary
)

func (k Kind) String() string {
	switch k {
	case KindTurnStart:
		return PathTurnStart
	case KindTurnEnd:
		return PathTurnEnd
	case KindWordBoundary:
		return PathWordBoundary
	default:
		return "unknown"
	}
}

// BoundaryEvent marks when a word begins during playback.
type BoundaryEvent struct {
	Word     string `json:"word"`
	OffsetMS int64  `json:"offset_ms"`
}

// Event is a decoded text frame.
type Event struct {
	Kind       Kind
	Message    Message
	Boundaries []BoundaryEvent
}

// metadataDocument is the envelope the service uses for audio.metadata.
type metadataDocument struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   int64 `json:"Offset"`
			Duration int64 `json:"Duration"`
			Text     struct {
				Text string `json:"Text"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

// flatBoundary is a single boundary with an offset already in milliseconds.
type flatBoundary struct {
	Offset *int64 `json:"offset"`
	Text   string `json:"text"`
}

// DecodeText parses a text frame. Frames are classified by their Path header;
// frames without one fall back to looking for the event family names in the
// raw text.
func DecodeText(data []byte) (Event, error) {
	var msg Message
	if header, payload, ok := SplitHeader(data); ok {
		msg = Message{Headers: ParseHeaders(header), Payload: payload}
	} else {
		msg = Message{Payload: data}
	}

	evt := Event{Kind: classify(msg.Path(), data), Message: msg}
	if evt.Kind != KindWordBoundary {
		return evt, nil
	}
	boundaries, err := parseBoundaries(msg.Payload)
	if err != nil {
		return evt, err
	}
	evt.Boundaries = boundaries
	return evt, nil
}

func classify(path string, raw []byte) Kind {
	switch path {
	case PathTurnStart:
		return KindTurnStart
	case PathTurnEnd:
		return KindTurnEnd
	case PathAudioMetadata, PathWordBoundary:
		return KindWordBoundary
	case "":
	default:
		if strings.Contains(path, PathWordBoundary) {
			return KindWordBoundary
		}
		return KindUnknown
	}
	switch {
	case bytes.Contains(raw, []byte(PathWordBoundary)):
		return KindWordBoundary
	case bytes.Contains(raw, []byte(PathTurnStart)):
		return KindTurnStart
	case bytes.Contains(raw, []byte(PathTurnEnd)):
		return KindTurnEnd
	}
	return KindUnknown
}

func parseBoundaries(payload []byte) ([]BoundaryEvent, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("frame: empty boundary payload")
	}

	var doc metadataDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("frame: parse boundary payload: %w", err)
	}
	if len(doc.Metadata) > 0 {
		var out []BoundaryEvent
		for _, entry := range doc.Metadata {
			if !isWordBoundary(entry.Type) {
				continue
			}
			if entry.Data.Offset < 0 {
				return nil, fmt.Errorf("frame: negative boundary offset %d", entry.Data.Offset)
			}
			out = append(out, BoundaryEvent{
				Word:     entry.Data.Text.Text,
				OffsetMS: entry.Data.Offset / ticksPerMillisecond,
			})
		}
		return out, nil
	}

	var flat flatBoundary
	if err := json.Unmarshal(payload, &flat); err != nil {
		return nil, fmt.Errorf("frame: parse boundary payload: %w", err)
	}
	if flat.Offset == nil || flat.Text == "" {
		return nil, errors.New("frame: boundary payload missing offset or text")
	}
	if *flat.Offset < 0 {
		return nil, fmt.Errorf("frame: negative boundary offset %d", *flat.Offset)
	}
	return []BoundaryEvent{{Word: flat.Text, OffsetMS: *flat.Offset}}, nil
}

func isWordBoundary(t string) bool {
	return t == "WordBoundary" || t == PathWordBoundary
}
