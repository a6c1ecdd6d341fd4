// Package session drives one synthesis request over its own socket: it sends
// the config and markup frames, collects audio until the socket closes and
// reports the outcome exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-speak/internal/frame"
	"github.com/loqalabs/loqa-speak/internal/ssml"
)

const DefaultTimeout = 10 * time.Second

const closeGrace = time.Second

// Config holds what a session needs besides the request itself.
type Config struct {
	Endpoint string
	Token    string
	// Timeout bounds the dial and every wait for the next frame.
	Timeout time.Duration
	Dialer  Dialer
	Logger  *slog.Logger
	Now     func() time.Time
	// AfterFunc arms the watchdog. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Timer is the part of *time.Timer the watchdog uses.
type Timer interface {
	Reset(d time.Duration) bool
	Stop() bool
}

func afterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Session owns the socket, watchdog and audio accumulator of one request.
type Session struct {
	cfg      Config
	req      ssml.Request
	listener Listener
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	cancelDial context.CancelFunc
	cause      error
	watchdog   Timer

	// read-loop only
	chunks [][]byte
	size   int
}

// New prepares a session for req. Nothing is opened until Run.
func New(req ssml.Request, cfg Config, listener Listener) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = afterFunc
	}
	if listener == nil {
		listener = NopListener{}
	}
	return &Session{
		cfg:      cfg,
		req:      req,
		listener: listener,
		log: cfg.Logger.With(
			slog.String("component", "tts-session"),
			slog.String("request_id", req.ID),
		),
	}
}

// ID is the request id sent as ConnectionId and X-RequestId.
func (s *Session) ID() string { return s.req.ID }

// State reports where the session is in its lifecycle.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop cancels the session from any non-terminal state, including Completing:
// Run then returns ErrAborted instead of the artifact. It is a no-op once the
// session is Closed or Failed.
func (s *Session) Stop() {
	s.abort(ErrAborted)
}

// Run performs the request. It returns the artifact, or an error wrapping one
// of ErrTimeout, ErrTransport, ErrNoAudioReceived or ErrAborted. Cancelling
// ctx is equivalent to Stop.
func (s *Session) Run(ctx context.Context) (*Artifact, error) {
	target, err := URL(s.cfg.Endpoint, s.cfg.Token, s.req.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return nil, errors.New("session: already started")
	}
	s.state = Connecting
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	s.cancelDial = cancel
	stopped := s.cause
	if stopped == nil && ctx.Err() != nil {
		s.cause = abortCause(ctx)
		stopped = s.cause
	}
	s.mu.Unlock()
	defer cancel()

	s.listener.OnStart(s.req.ID)
	if stopped != nil {
		return nil, s.fail(stopped)
	}

	conn, err := s.cfg.Dialer.Dial(dialCtx, target)
	if err != nil {
		return nil, s.fail(s.dialFailure(ctx, dialCtx, err))
	}

	s.mu.Lock()
	if s.cause != nil {
		cause := s.cause
		s.mu.Unlock()
		conn.Close()
		return nil, s.fail(cause)
	}
	s.conn = conn
	s.state = Streaming
	s.watchdog = s.cfg.AfterFunc(s.cfg.Timeout, s.expire)
	s.mu.Unlock()
	s.log.Debug("socket open")

	stopWatch := context.AfterFunc(ctx, func() {
		s.abort(abortCause(ctx))
	})
	defer stopWatch()

	if err := s.send(conn); err != nil {
		return nil, s.fail(s.causeOr(fmt.Errorf("%w: %w", ErrTransport, err)))
	}
	return s.stream(conn)
}

// send writes speech.config before ssml; the service rejects the reverse.
func (s *Session) send(conn Conn) error {
	now := s.cfg.Now()
	config := frame.Encode(frame.NewConfigMessage(now, ssml.ConfigPayload()))
	if err := conn.WriteMessage(websocket.TextMessage, config); err != nil {
		return fmt.Errorf("send speech.config: %w", err)
	}
	markup := frame.Encode(frame.NewSSMLMessage(s.req.ID, now, s.req.Markup()))
	if err := conn.WriteMessage(websocket.TextMessage, markup); err != nil {
		return fmt.Errorf("send ssml: %w", err)
	}
	return nil
}

func (s *Session) stream(conn Conn) (*Artifact, error) {
	for {
		messageType, r, err := conn.NextReader()
		if err != nil {
			return s.closed(conn, err)
		}
		if !s.touch() {
			// Stopped or expired between frames; the next read reports it.
			continue
		}

		switch messageType {
		case websocket.BinaryMessage:
			audio, err := frame.DecodeAudio(r)
			if errors.Is(err, frame.ErrNoDelimiter) {
				s.log.Debug("dropping binary frame without header delimiter")
				continue
			}
			if err != nil {
				return s.closed(conn, err)
			}
			if len(audio) == 0 {
				continue
			}
			s.chunks = append(s.chunks, audio)
			s.size += len(audio)
			s.listener.OnProgress(len(s.chunks))

		case websocket.TextMessage:
			data, err := io.ReadAll(r)
			if err != nil {
				return s.closed(conn, err)
			}
			evt, err := frame.DecodeText(data)
			if err != nil {
				s.log.Debug("dropping malformed text frame", slogError(err))
				continue
			}
			switch evt.Kind {
			case frame.KindTurnStart:
				s.log.Debug("turn started")
			case frame.KindWordBoundary:
				for _, b := range evt.Boundaries {
					s.listener.OnBoundary(b)
				}
			case frame.KindTurnEnd:
				s.log.Debug("turn ended")
				return s.complete(conn, true)
			}
		}
	}
}

// closed handles the end of the read loop.
func (s *Session) closed(conn Conn, err error) (*Artifact, error) {
	if cause := s.currentCause(); cause != nil {
		return nil, s.fail(cause)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return s.complete(conn, false)
	}
	return nil, s.fail(fmt.Errorf("%w: %w", ErrTransport, err))
}

func (s *Session) complete(conn Conn, initiate bool) (*Artifact, error) {
	s.mu.Lock()
	if s.cause != nil {
		cause := s.cause
		s.mu.Unlock()
		return nil, s.fail(cause)
	}
	s.state = Completing
	s.stopWatchdog()
	s.mu.Unlock()

	if initiate {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	}
	_ = conn.Close()

	if s.size == 0 {
		return nil, s.fail(s.causeOr(ErrNoAudioReceived))
	}

	audio := make([]byte, 0, s.size)
	for _, chunk := range s.chunks {
		audio = append(audio, chunk...)
	}
	artifact := &Artifact{Bytes: audio, MimeType: MimeTypeMPEG}

	s.mu.Lock()
	if s.cause != nil {
		cause := s.cause
		s.mu.Unlock()
		return nil, s.fail(cause)
	}
	s.state = Closed
	s.mu.Unlock()

	s.log.Info("audio generated", slog.Int("bytes", artifact.Size()), slog.Int("chunks", len(s.chunks)))
	s.listener.OnEnd(artifact)
	return artifact, nil
}

// fail moves the session to Failed and reports cause once.
func (s *Session) fail(cause error) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return cause
	}
	s.state = Failed
	s.stopWatchdog()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.log.Warn("synthesis failed", slogError(cause))
	s.listener.OnError(cause)
	return cause
}

// abort records cause and releases whatever the session holds. The read loop
// or the dial observes the closed resource and fails with cause.
func (s *Session) abort(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.cause != nil {
		return
	}
	s.cause = cause
	s.stopWatchdog()
	if s.cancelDial != nil {
		s.cancelDial()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Session) expire() {
	s.log.Debug("watchdog fired", slog.Duration("timeout", s.cfg.Timeout))
	s.abort(fmt.Errorf("%w: no frame within %s", ErrTimeout, s.cfg.Timeout))
}

// touch re-arms the watchdog after a received frame. It reports false when
// the session is already being torn down.
func (s *Session) touch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause != nil {
		return false
	}
	if s.watchdog != nil {
		s.watchdog.Reset(s.cfg.Timeout)
	}
	return true
}

// stopWatchdog requires s.mu.
func (s *Session) stopWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
}

func (s *Session) currentCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) causeOr(err error) error {
	if cause := s.currentCause(); cause != nil {
		return cause
	}
	return err
}

func (s *Session) dialFailure(ctx, dialCtx context.Context, err error) error {
	if cause := s.currentCause(); cause != nil {
		return cause
	}
	if ctx.Err() != nil {
		return abortCause(ctx)
	}
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: connect: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// abortCause maps a cancelled ctx to ErrAborted, keeping its cause.
func abortCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrAborted) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
