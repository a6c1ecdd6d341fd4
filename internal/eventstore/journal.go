package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-speak/internal/session"
)

const (
	EventStart    = "start"
	EventBoundary = "boundary"
	EventEnd      = "end"
	EventError    = "error"
)

// JournalListener records the lifecycle of one synthesis. Write failures are
// logged and never reach the synthesis.
type JournalListener struct {
	store *Store
	syn   Synthesis
	log   *slog.Logger
}

var _ session.Listener = (*JournalListener)(nil)

// Journal returns a listener recording synthesis syn.ID.
func (s *Store) Journal(syn Synthesis) *JournalListener {
	return &JournalListener{
		store: s,
		syn:   syn,
		log:   s.log.With(slog.String("synthesis_id", syn.ID)),
	}
}

func (j *JournalListener) OnStart(requestID string) {
	j.syn.Status = StatusStarted
	j.write(j.syn)
	j.event(EventStart, map[string]any{"request_id": requestID})
}

func (j *JournalListener) OnBoundary(evt session.BoundaryEvent) {
	j.event(EventBoundary, evt)
}

func (j *JournalListener) OnProgress(int) {}

func (j *JournalListener) OnEnd(artifact *session.Artifact) {
	syn := j.syn
	syn.Status = StatusCompleted
	syn.AudioBytes = artifact.Size()
	j.write(syn)
	j.event(EventEnd, map[string]any{"bytes": artifact.Size(), "mime_type": artifact.MimeType})
}

func (j *JournalListener) OnError(err error) {
	syn := j.syn
	syn.Status = StatusFailed
	syn.ErrorKind = session.ErrorKind(err)
	syn.Error = err.Error()
	j.write(syn)
	j.event(EventError, map[string]any{"kind": syn.ErrorKind, "error": syn.Error})
}

func (j *JournalListener) write(syn Synthesis) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.store.AppendSynthesis(ctx, syn); err != nil {
		j.log.Warn("failed to journal synthesis", slog.String("error", err.Error()))
	}
}

func (j *JournalListener) event(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		j.log.Warn("failed to encode journal event", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.store.AppendEvent(ctx, Event{SynthesisID: j.syn.ID, Type: kind, Payload: data}); err != nil {
		j.log.Warn("failed to journal event", slog.String("type", kind), slog.String("error", err.Error()))
	}
}
