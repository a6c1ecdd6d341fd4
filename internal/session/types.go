package session

import (
	"errors"

	"github.com/loqalabs/loqa-speak/internal/frame"
)

// State is the lifecycle position of a Session.
type State int32

const (
	Idle State = iota
	Connecting
	Streaming
	Completing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Completing:
		return "completing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Failure causes. Session errors wrap exactly one of these.
var (
	ErrTimeout         = errors.New("synthesis timed out")
	ErrTransport       = errors.New("synthesis transport error")
	ErrNoAudioReceived = errors.New("no audio received")
	ErrAborted         = errors.New("synthesis aborted")
)

// ErrorKind names the failure class of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNoAudioReceived):
		return "no_audio"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}

// MimeTypeMPEG is the type of every artifact produced by a session.
const MimeTypeMPEG = "audio/mpeg"

// Artifact is the assembled audio of one synthesis.
type Artifact struct {
	Bytes    []byte
	MimeType string
}

// Clone returns a deep copy.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	return &Artifact{Bytes: append([]byte(nil), a.Bytes...), MimeType: a.MimeType}
}

// Size is the audio length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Bytes)
}

type BoundaryEvent = frame.BoundaryEvent

// Listener receives session lifecycle events. Calls for one session come from
// a single goroutine, in order: OnStart, then boundaries and progress, then
// exactly one of OnEnd or OnError.
type Listener interface {
	OnStart(requestID string)
	OnBoundary(evt BoundaryEvent)
	OnProgress(chunks int)
	OnEnd(artifact *Artifact)
	OnError(err error)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) OnStart(string)           {}
func (NopListener) OnBoundary(BoundaryEvent) {}
func (NopListener) OnProgress(int)           {}
func (NopListener) OnEnd(*Artifact)          {}
func (NopListener) OnError(error)            {}
