package tts

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-speak/internal/session"
)

type (
	Artifact      = session.Artifact
	BoundaryEvent = session.BoundaryEvent
	Listener      = session.Listener
	NopListener   = session.NopListener
)

var (
	ErrNotInitialized  = errors.New("tts client not initialized")
	ErrTimeout         = session.ErrTimeout
	ErrTransport       = session.ErrTransport
	ErrNoAudioReceived = session.ErrNoAudioReceived
	ErrAborted         = session.ErrAborted
)

// SpeakOptions overrides the client defaults for one call. Empty fields keep
// the default.
type SpeakOptions struct {
	Voice  string
	Rate   string
	Pitch  string
	Volume string
	// Listener receives the events of this call in addition to the one
	// registered at Init.
	Listener Listener
}

// Engine produces one audio artifact per call.
type Engine interface {
	Speak(ctx context.Context, text string, opts SpeakOptions) (*Artifact, error)
	Stop() error
}

// ErrorKind names the failure class of err for logs, metrics and wire
// messages.
func ErrorKind(err error) string {
	if errors.Is(err, ErrNotInitialized) {
		return "not_initialized"
	}
	return session.ErrorKind(err)
}

// Handlers adapts optional callbacks to a Listener.
type Handlers struct {
	Start    func(requestID string)
	Boundary func(evt BoundaryEvent)
	Progress func(chunks int)
	End      func(artifact *Artifact)
	Error    func(err error)
}

func (h Handlers) OnStart(requestID string) {
	if h.Start != nil {
		h.Start(requestID)
	}
}

func (h Handlers) OnBoundary(evt BoundaryEvent) {
	if h.Boundary != nil {
		h.Boundary(evt)
	}
}

func (h Handlers) OnProgress(chunks int) {
	if h.Progress != nil {
		h.Progress(chunks)
	}
}

func (h Handlers) OnEnd(artifact *Artifact) {
	if h.End != nil {
		h.End(artifact)
	}
}

func (h Handlers) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// listeners fans every event out in order.
type listeners []Listener

func fanout(ls ...Listener) Listener {
	var out listeners
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return NopListener{}
	case 1:
		return out[0]
	}
	return out
}

func (ls listeners) OnStart(requestID string) {
	for _, l := range ls {
		l.OnStart(requestID)
	}
}

func (ls listeners) OnBoundary(evt BoundaryEvent) {
	for _, l := range ls {
		l.OnBoundary(evt)
	}
}

func (ls listeners) OnProgress(chunks int) {
	for _, l := range ls {
		l.OnProgress(chunks)
	}
}

func (ls listeners) OnEnd(artifact *Artifact) {
	for _, l := range ls {
		l.OnEnd(artifact)
	}
}

func (ls listeners) OnError(err error) {
	for _, l := range ls {
		l.OnError(err)
	}
}
