package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speak/internal/bus"
	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/eventstore"
	"github.com/loqalabs/loqa-speak/internal/protocol"
)

const (
	requestTimeout = 45 * time.Second
	queueSize      = 32
)

// Service serves protocol.TTSRequest messages from the bus one at a time.
// A new request stops every earlier request, running or queued, before it is
// queued itself.
type Service struct {
	cfg      config.TTSConfig
	bus      *bus.Client
	primary  Engine
	fallback Engine
	journal  *eventstore.Store
	subs     []*nats.Subscription
	queue    chan *request
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu     sync.Mutex
	active map[*request]struct{}
}

// request is cancelled with ErrAborted by tts.stop or by a newer request,
// whether it is still queued or already running.
type request struct {
	protocol.TTSRequest
	reply  string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewService wires engines to the bus. fallback and journal may be nil.
func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, primary, fallback Engine, journal *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		primary:  primary,
		fallback: fallback,
		journal:  journal,
		queue:    make(chan *request, queueSize),
		active:   make(map[*request]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	reqSub, err := conn.Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, reqSub)
	stopSub, err := conn.Subscribe(protocol.SubjectTTSStop, s.handleStop)
	if err != nil {
		_ = reqSub.Unsubscribe()
		return err
	}
	s.subs = append(s.subs, stopSub)
	if err := conn.Flush(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run()
	s.logger.Info("tts service started", slog.String("mode", s.cfg.Mode), slog.Bool("fallback", s.fallback != nil))
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.logger.Warn("ignoring tts request without text", slog.String("session_id", req.SessionID))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancelCause(s.ctx)
	r := &request{TTSRequest: req, reply: msg.Reply, ctx: ctx, cancel: cancel}
	s.mu.Lock()
	superseded := s.cancelLocked("")
	s.active[r] = struct{}{}
	s.mu.Unlock()
	if superseded > 0 {
		s.logger.Debug("new request stops earlier ones", slog.String("session_id", req.SessionID), slog.Int("stopped", superseded))
	}

	select {
	case s.queue <- r:
	case <-s.ctx.Done():
		s.finish(r)
	default:
		s.finish(r)
		s.logger.Warn("tts queue full, dropping request", slog.String("session_id", req.SessionID))
		s.publishDone(req, "", errors.New("tts queue full"))
	}
}

func (s *Service) handleStop(msg *nats.Msg) {
	var stop protocol.TTSStop
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &stop); err != nil {
			s.logger.Warn("failed to decode tts stop", slogError(err))
			return
		}
	}
	s.mu.Lock()
	stopped := s.cancelLocked(stop.SessionID)
	s.mu.Unlock()
	s.logger.Debug("tts stop", slog.String("session_id", stop.SessionID), slog.Int("stopped", stopped))
}

// cancelLocked aborts every active request matching sessionID, or all of them
// when sessionID is empty. It requires s.mu.
func (s *Service) cancelLocked(sessionID string) int {
	n := 0
	for r := range s.active {
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		if r.ctx.Err() == nil {
			r.cancel(ErrAborted)
			n++
		}
	}
	return n
}

func (s *Service) finish(r *request) {
	s.mu.Lock()
	delete(s.active, r)
	s.mu.Unlock()
	r.cancel(nil)
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.queue:
			s.process(req)
		}
	}
}

func (s *Service) process(req *request) {
	defer s.finish(req)

	name := s.cfg.Mode
	if name == "" {
		name = "edge"
	}
	if req.ctx.Err() != nil {
		s.logger.Debug("skipping request stopped while queued", slog.String("session_id", req.SessionID))
		s.fail(req, name, stopCause(req.ctx))
		return
	}

	ctx, cancel := context.WithTimeout(req.ctx, requestTimeout)
	defer cancel()
	artifact, err := s.speak(ctx, req.TTSRequest, s.primary, name)
	if err != nil && s.fallback != nil && !errors.Is(err, ErrAborted) && req.ctx.Err() == nil {
		s.logger.Warn("primary engine failed, using fallback",
			slog.String("session_id", req.SessionID),
			slog.String("error_kind", ErrorKind(err)),
			slogError(err))
		name = "exec"
		artifact, err = s.speak(ctx, req.TTSRequest, s.fallback, name)
	}
	if err != nil {
		s.fail(req, name, err)
		return
	}

	audio := protocol.TTSAudio{
		SessionID: req.SessionID,
		Target:    req.Target,
		MimeType:  artifact.MimeType,
		Audio:     artifact.Bytes,
		Engine:    name,
	}
	data, err := json.Marshal(audio)
	if err != nil {
		s.fail(req, name, fmt.Errorf("encode tts audio: %w", err))
		return
	}
	if limit := s.bus.Conn().MaxPayload(); limit > 0 && int64(len(data)) > limit {
		s.fail(req, name, fmt.Errorf("%w: audio message is %d bytes, bus limit is %d", nats.ErrMaxPayload, len(data), limit))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSAudio, data); err != nil {
		s.fail(req, name, fmt.Errorf("publish tts audio: %w", err))
		return
	}
	if req.reply != "" {
		if err := s.bus.Conn().Publish(req.reply, data); err != nil {
			s.logger.Warn("failed to reply to tts request", slogError(err))
		}
	}
	s.publishDone(req.TTSRequest, name, nil)
}

// fail reports err and publishes the failed status, replying when asked to.
func (s *Service) fail(req *request, engine string, err error) {
	s.report(req.TTSRequest, engine, err)
	s.publishDone(req.TTSRequest, engine, err)
	if req.reply != "" {
		s.respond(req.reply, protocol.TTSStatus{
			SessionID: req.SessionID,
			Target:    req.Target,
			Error:     err.Error(),
			ErrorKind: ErrorKind(err),
			Engine:    engine,
			Timestamp: time.Now().UTC(),
		})
	}
}

// stopCause is the error for a request cancelled before it ran.
func stopCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrAborted) {
		return fmt.Errorf("%w: stopped before start", ErrAborted)
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func (s *Service) speak(ctx context.Context, req protocol.TTSRequest, engine Engine, name string) (*Artifact, error) {
	listeners := []Listener{boundaryPublisher{svc: s, req: req}}
	if s.journal.Enabled() {
		listeners = append(listeners, s.journal.Journal(eventstore.Synthesis{
			ID:         req.SessionID,
			Voice:      req.Voice,
			Engine:     name,
			TextLength: len(req.Text),
		}))
	}
	return engine.Speak(ctx, req.Text, SpeakOptions{
		Voice:    req.Voice,
		Rate:     req.Rate,
		Pitch:    req.Pitch,
		Volume:   req.Volume,
		Listener: fanout(listeners...),
	})
}

func (s *Service) publishDone(req protocol.TTSRequest, engine string, err error) {
	status := protocol.TTSStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Completed: err == nil,
		Engine:    engine,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
		status.ErrorKind = ErrorKind(err)
	}
	if err := s.bus.PublishJSON(protocol.SubjectTTSDone, status); err != nil {
		s.logger.Warn("failed to publish tts status", slogError(err))
	}
}

func (s *Service) respond(subject string, v any) {
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.logger.Warn("failed to reply to tts request", slogError(err))
	}
}

// report sends failures other than cancellation to Sentry.
func (s *Service) report(req protocol.TTSRequest, engine string, err error) {
	s.logger.Warn("tts synthesis failed",
		slog.String("session_id", req.SessionID),
		slog.String("engine", engine),
		slog.String("error_kind", ErrorKind(err)),
		slogError(err))
	if errors.Is(err, ErrAborted) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("engine", engine)
		scope.SetTag("error_kind", ErrorKind(err))
		scope.SetExtra("session_id", req.SessionID)
		sentry.CaptureException(err)
	})
}

// boundaryPublisher forwards word boundaries to the bus.
type boundaryPublisher struct {
	NopListener
	svc *Service
	req protocol.TTSRequest
}

func (b boundaryPublisher) OnBoundary(evt BoundaryEvent) {
	msg := protocol.TTSBoundary{
		SessionID: b.req.SessionID,
		Target:    b.req.Target,
		Word:      evt.Word,
		OffsetMS:  evt.OffsetMS,
	}
	if err := b.svc.bus.PublishJSON(protocol.SubjectTTSBoundary, msg); err != nil {
		b.svc.logger.Debug("failed to publish boundary", slogError(err))
	}
}
