package tts

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speak/internal/session"
	"github.com/loqalabs/loqa-speak/internal/ssml"
)

// MockEngine returns deterministic bytes derived from the request after a
// short delay, and reports one boundary per word.
type MockEngine struct {
	delay time.Duration

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

func NewMockEngine(delay time.Duration) *MockEngine {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &MockEngine{delay: delay}
}

func (m *MockEngine) Speak(ctx context.Context, text string, opts SpeakOptions) (*Artifact, error) {
	listener := fanout(opts.Listener)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	listener.OnStart(ssml.NewRequestID())
	select {
	case <-ctx.Done():
		err := context.Cause(ctx)
		if !errors.Is(err, ErrAborted) {
			err = fmt.Errorf("%w: %w", ErrAborted, err)
		}
		listener.OnError(err)
		return nil, err
	case <-time.After(m.delay):
	}

	var offset int64
	for _, word := range strings.Fields(text) {
		listener.OnBoundary(BoundaryEvent{Word: word, OffsetMS: offset})
		offset += 250
	}
	sum := sha256.Sum256([]byte(text + "\x00" + opts.Voice))
	artifact := &Artifact{Bytes: sum[:], MimeType: session.MimeTypeMPEG}
	listener.OnProgress(1)
	listener.OnEnd(artifact)
	return artifact, nil
}

func (m *MockEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel(ErrAborted)
	}
	return nil
}
