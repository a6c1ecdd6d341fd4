package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/session"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.Enabled() {
		t.Fatalf("ephemeral store should not open a database")
	}
	if err := es.AppendSynthesis(ctx, Synthesis{ID: "x"}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	events, err := es.ListEvents(ctx, "x", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.AppendSynthesis(ctx, Synthesis{ID: "syn-1", Voice: "it-IT-DiegoNeural", Engine: "edge", TextLength: 10}); err != nil {
		t.Fatalf("append synthesis: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SynthesisID: "syn-1", Type: "test", Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListEvents(ctx, "syn-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}

	syn, ok, err := es.GetSynthesis(ctx, "syn-1")
	if err != nil || !ok {
		t.Fatalf("get synthesis: %v %v", ok, err)
	}
	if syn.Status != StatusStarted || syn.Voice != "it-IT-DiegoNeural" {
		t.Fatalf("unexpected synthesis: %+v", syn)
	}
}

func TestAppendSynthesisUpdatesOutcome(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.AppendSynthesis(ctx, Synthesis{ID: "syn-1", Voice: "v", Engine: "edge"}); err != nil {
		t.Fatalf("append synthesis: %v", err)
	}
	if err := es.AppendSynthesis(ctx, Synthesis{ID: "syn-1", Status: StatusFailed, ErrorKind: "timeout", Error: "boom"}); err != nil {
		t.Fatalf("update synthesis: %v", err)
	}
	syn, ok, err := es.GetSynthesis(ctx, "syn-1")
	if err != nil || !ok {
		t.Fatalf("get synthesis: %v %v", ok, err)
	}
	if syn.Status != StatusFailed || syn.ErrorKind != "timeout" || syn.Voice != "v" {
		t.Fatalf("unexpected synthesis: %+v", syn)
	}
}

func TestPruneByDaysAndSyntheses(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSynthesis(ctx, Synthesis{ID: "old"}); err != nil {
		t.Fatalf("append synthesis: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SynthesisID: "old", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSynthesis(ctx, Synthesis{ID: "new"}); err != nil {
		t.Fatalf("append synthesis: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old synthesis pruned")
	}
	if _, ok, _ := es.GetSynthesis(ctx, "new"); !ok {
		t.Fatalf("expected new synthesis kept")
	}
}

func TestJournalListenerRecordsLifecycle(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	j := es.Journal(Synthesis{ID: "syn-ok", Voice: "v", Engine: "edge"})
	j.OnStart("REQ")
	j.OnBoundary(session.BoundaryEvent{Word: "Ciao", OffsetMS: 100})
	j.OnProgress(1)
	j.OnEnd(&session.Artifact{Bytes: []byte{1, 2, 3}, MimeType: session.MimeTypeMPEG})

	events, err := es.ListEvents(ctx, "syn-ok", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	if fmt.Sprint(types) != "[start boundary end]" {
		t.Fatalf("unexpected events: %v", types)
	}
	var boundary session.BoundaryEvent
	if err := json.Unmarshal(events[1].Payload, &boundary); err != nil || boundary.Word != "Ciao" || boundary.OffsetMS != 100 {
		t.Fatalf("unexpected boundary payload %s: %v", events[1].Payload, err)
	}
	syn, _, _ := es.GetSynthesis(ctx, "syn-ok")
	if syn.Status != StatusCompleted || syn.AudioBytes != 3 {
		t.Fatalf("unexpected synthesis: %+v", syn)
	}
}

func TestJournalListenerRecordsFailure(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	j := es.Journal(Synthesis{ID: "syn-err"})
	j.OnStart("REQ")
	j.OnError(fmt.Errorf("%w: silence", session.ErrTimeout))

	syn, _, _ := es.GetSynthesis(ctx, "syn-err")
	if syn.Status != StatusFailed || syn.ErrorKind != "timeout" {
		t.Fatalf("unexpected synthesis: %+v", syn)
	}
}
