// Package tts is the entry point for speech synthesis. Client speaks the
// streaming protocol through internal/session; ExecEngine and MockEngine are
// local alternatives behind the same Engine interface, and Service exposes an
// Engine on the bus.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-speak/internal/cache"
	"github.com/loqalabs/loqa-speak/internal/config"
	"github.com/loqalabs/loqa-speak/internal/session"
	"github.com/loqalabs/loqa-speak/internal/ssml"
)

const (
	DefaultVoice  = "it-IT-IsabellaNeural"
	DefaultRate   = "+0%"
	DefaultPitch  = "+0Hz"
	DefaultVolume = "+0%"

	// TestPhrase is spoken by Client.Test.
	TestPhrase = "Test connessione Edge TTS"
)

// cachedEndDelay separates the start and end events replayed for a cache hit.
const cachedEndDelay = 100 * time.Millisecond

// Options configures a Client. Zero fields take the package defaults.
type Options struct {
	// Voice must be in the catalog; any other value keeps DefaultVoice.
	Voice  string
	Rate   string
	Pitch  string
	Volume string

	Endpoint string
	Token    string
	Timeout  time.Duration

	CacheEnabled bool
	CacheSize    int

	// Listener receives the events of every call.
	Listener Listener
	Dialer   session.Dialer
	Logger   *slog.Logger
}

// OptionsFromConfig maps the tts config section onto client options.
func OptionsFromConfig(cfg config.TTSConfig) Options {
	return Options{
		Voice:        cfg.DefaultVoice,
		Rate:         cfg.DefaultRate,
		Pitch:        cfg.DefaultPitch,
		Volume:       cfg.DefaultVolume,
		Endpoint:     cfg.Endpoint,
		Token:        cfg.Token,
		Timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		CacheEnabled: cfg.CacheEnabled,
		CacheSize:    cfg.CacheSize,
	}
}

// Client synthesizes speech over the streaming protocol. The zero value must
// be initialized with Init before use.
type Client struct {
	mu      sync.Mutex
	ready   bool
	opts    Options
	cache   *cache.Cache
	current *call
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
}

// NewClient returns an initialized client.
func NewClient(opts Options) (*Client, error) {
	c := &Client{}
	if err := c.Init(opts); err != nil {
		return nil, err
	}
	return c, nil
}

// Init applies opts. Calling it again replaces the configuration and starts
// from an empty cache.
func (c *Client) Init(opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := opts.Logger.With(slog.String("component", "tts-client"))
	if !KnownVoice(opts.Voice) {
		if opts.Voice != "" {
			log.Warn("ignoring unknown default voice", slog.String("voice", opts.Voice))
		}
		opts.Voice = DefaultVoice
	}
	opts.Rate = orDefault(opts.Rate, DefaultRate)
	opts.Pitch = orDefault(opts.Pitch, DefaultPitch)
	opts.Volume = orDefault(opts.Volume, DefaultVolume)
	opts.Endpoint = orDefault(opts.Endpoint, config.DefaultEndpoint)
	opts.Token = orDefault(opts.Token, config.DefaultToken)
	if opts.Timeout <= 0 {
		opts.Timeout = session.DefaultTimeout
	}

	results, err := cache.New(opts.CacheSize, opts.CacheEnabled)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	m, err := newMetrics()
	if err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
	c.cache = results
	c.log = log
	c.tracer = otel.Tracer(instrumentation)
	c.metrics = m
	c.ready = true
	log.Info("tts client initialized", slog.String("voice", opts.Voice), slog.Bool("cache", opts.CacheEnabled))
	return nil
}

// call is one Speak in progress. stopped may be set before session exists.
type call struct {
	stopped bool
	session *session.Session
}

// begin registers cur as the call Stop aborts.
func (c *Client) begin(cur *call) (Options, *cache.Cache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return Options{}, nil, ErrNotInitialized
	}
	c.current = cur
	return c.opts, c.cache, nil
}

func (c *Client) finish(cur *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == cur {
		c.current = nil
	}
}

// attach binds s to cur and reports whether cur was already stopped.
func (c *Client) attach(cur *call, s *session.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur.session = s
	return cur.stopped
}

func (c *Client) stopped(cur *call) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cur.stopped
}

func (c *Client) snapshot() (Options, *cache.Cache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return Options{}, nil, ErrNotInitialized
	}
	return c.opts, c.cache, nil
}

// Speak synthesizes text. Errors wrap one of ErrTimeout, ErrTransport,
// ErrNoAudioReceived or ErrAborted. Only the latest call is tracked for Stop;
// callers stop the previous call before starting the next.
func (c *Client) Speak(ctx context.Context, text string, opts SpeakOptions) (*Artifact, error) {
	cur := &call{}
	defaults, results, err := c.begin(cur)
	if err != nil {
		return nil, err
	}
	defer c.finish(cur)

	req := ssml.NewRequest(text,
		orDefault(opts.Voice, defaults.Voice),
		orDefault(opts.Rate, defaults.Rate),
		orDefault(opts.Pitch, defaults.Pitch),
		orDefault(opts.Volume, defaults.Volume),
	)
	listener := fanout(defaults.Listener, opts.Listener)

	ctx, span := c.tracer.Start(ctx, "tts.speak", trace.WithAttributes(
		attribute.String("tts.voice", req.Voice),
		attribute.String("tts.request_id", req.ID),
		attribute.Int("tts.text_length", len(text)),
	))
	defer span.End()

	key := req.CacheKey()
	if artifact, ok := results.Lookup(key); ok && !c.stopped(cur) {
		span.SetAttributes(attribute.Bool("tts.cache_hit", true))
		c.metrics.cacheHit(ctx)
		c.log.Debug("serving cached audio", slog.String("request_id", req.ID), slog.Int("bytes", artifact.Size()))
		c.replay(req.ID, artifact, listener)
		return artifact, nil
	}

	s := session.New(req, session.Config{
		Endpoint: defaults.Endpoint,
		Token:    defaults.Token,
		Timeout:  defaults.Timeout,
		Dialer:   defaults.Dialer,
		Logger:   defaults.Logger,
	}, listener)
	if c.attach(cur, s) {
		s.Stop()
	}

	artifact, err := s.Run(ctx)

	c.metrics.session(ctx, artifact, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("tts.audio_bytes", artifact.Size()))
	results.Store(key, artifact)
	return artifact, nil
}

// replay emits start now and end from another goroutine, like a live session.
func (c *Client) replay(requestID string, artifact *Artifact, listener Listener) {
	listener.OnStart(requestID)
	end := artifact.Clone()
	time.AfterFunc(cachedEndDelay, func() {
		listener.OnEnd(end)
	})
}

// Stop aborts the current call, if any. It is safe to call repeatedly.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	cur := c.current
	c.current = nil
	var s *session.Session
	if cur != nil {
		cur.stopped = true
		s = cur.session
	}
	c.mu.Unlock()

	if cur == nil {
		return nil
	}
	if s == nil {
		c.log.Info("synthesis stopped before connecting")
		return nil
	}
	s.Stop()
	c.log.Info("synthesis stopped", slog.String("request_id", s.ID()))
	return nil
}

// Voices lists the voices the client can select.
func (c *Client) Voices() ([]Voice, error) {
	if _, _, err := c.snapshot(); err != nil {
		return nil, err
	}
	return Catalog(), nil
}

// SetCacheEnabled switches result caching; disabling drops cached audio.
func (c *Client) SetCacheEnabled(enabled bool) error {
	_, results, err := c.snapshot()
	if err != nil {
		return err
	}
	results.SetEnabled(enabled)
	c.log.Info("cache toggled", slog.Bool("enabled", enabled))
	return nil
}

// ClearCache drops cached audio and reports how many entries were removed.
func (c *Client) ClearCache() (int, error) {
	_, results, err := c.snapshot()
	if err != nil {
		return 0, err
	}
	n := results.Clear()
	c.log.Info("cache cleared", slog.Int("entries", n))
	return n, nil
}

// Test speaks TestPhrase with the default voice to check connectivity.
func (c *Client) Test(ctx context.Context) (*Artifact, error) {
	artifact, err := c.Speak(ctx, TestPhrase, SpeakOptions{})
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			return nil, err
		}
		return nil, fmt.Errorf("connectivity test: %w", err)
	}
	return artifact, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
