// Package ttstest runs an in-process speech service speaking the same framing
// as the real one, for tests of the session and the client.
package ttstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-speak/internal/frame"
)

// Behavior scripts what the service does after receiving a request.
type Behavior struct {
	// Audio is sent as one binary frame per element.
	Audio [][]byte
	// Boundaries are sent as audio.metadata frames before the audio.
	Boundaries []frame.BoundaryEvent
	// Interval is slept before every frame the service sends.
	Interval time.Duration
	// EndWithTurnEnd sends turn.end and waits for the client to close
	// instead of closing the socket itself.
	EndWithTurnEnd bool
	// Silent accepts the request and never answers.
	Silent bool
	// Malformed interleaves frames the client has to drop.
	Malformed bool
	// Drop closes the TCP connection without a close frame after sending.
	Drop bool
}

// Request is what one connection carried.
type Request struct {
	Token        string
	ConnectionID string
	Paths        []string
	RequestID    string
	Markup       string
	Config       map[string]any
}

// Server is the fake speech service.
type Server struct {
	srv      *httptest.Server
	behavior Behavior
	upgrader websocket.Upgrader

	mu       sync.Mutex
	requests []Request
	open     int
	total    int
}

// NewServer starts a service with behavior and stops it at test cleanup.
func NewServer(tb testing.TB, behavior Behavior) *Server {
	tb.Helper()
	s := &Server{behavior: behavior}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	tb.Cleanup(s.srv.Close)
	return s
}

// Endpoint is the ws:// URL to dial.
func (s *Server) Endpoint() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/synthesize"
}

// Connections counts every socket ever accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Open counts sockets not yet closed.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Requests returns what each connection received, in accept order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.open++
	s.total++
	idx := len(s.requests)
	s.requests = append(s.requests, Request{
		Token:        r.URL.Query().Get("TrustedClientToken"),
		ConnectionID: r.URL.Query().Get("ConnectionId"),
	})
	s.mu.Unlock()
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
	}()

	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.record(idx, data)
	}

	if s.behavior.Silent {
		drain(conn)
		return
	}

	requestID := s.Requests()[idx].RequestID
	b := s.behavior
	send := func(messageType int, data []byte) bool {
		if b.Interval > 0 {
			time.Sleep(b.Interval)
		}
		return conn.WriteMessage(messageType, data) == nil
	}

	if !send(websocket.TextMessage, textFrame(requestID, frame.PathTurnStart, []byte(`{"context":{"serviceTag":"test"}}`))) {
		return
	}
	if b.Malformed {
		if !send(websocket.BinaryMessage, []byte("Path:audio no delimiter")) {
			return
		}
		if !send(websocket.TextMessage, textFrame(requestID, frame.PathAudioMetadata, []byte("{broken"))) {
			return
		}
	}
	for _, boundary := range b.Boundaries {
		if !send(websocket.TextMessage, textFrame(requestID, frame.PathAudioMetadata, metadata(boundary))) {
			return
		}
	}
	for _, chunk := range b.Audio {
		msg := frame.Message{
			Headers: frame.Headers{
				{Key: frame.HeaderRequestID, Value: requestID},
				{Key: frame.HeaderContentType, Value: frame.ContentTypeMPEG},
				{Key: frame.HeaderPath, Value: frame.PathAudio},
			},
			Payload: chunk,
		}
		if !send(websocket.BinaryMessage, frame.EncodeBinary(msg)) {
			return
		}
	}

	switch {
	case b.Drop:
		return
	case b.EndWithTurnEnd:
		if !send(websocket.TextMessage, textFrame(requestID, frame.PathTurnEnd, []byte("{}"))) {
			return
		}
		drain(conn)
	default:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		drain(conn)
	}
}

func (s *Server) record(idx int, data []byte) {
	header, payload, ok := frame.SplitHeader(data)
	if !ok {
		return
	}
	headers := frame.ParseHeaders(header)
	s.mu.Lock()
	defer s.mu.Unlock()
	req := &s.requests[idx]
	path := headers.Get(frame.HeaderPath)
	req.Paths = append(req.Paths, path)
	switch path {
	case frame.PathSpeechConfig:
		var cfg map[string]any
		if json.Unmarshal(payload, &cfg) == nil {
			req.Config = cfg
		}
	case frame.PathSSML:
		req.RequestID = headers.Get(frame.HeaderRequestID)
		req.Markup = string(payload)
	}
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func textFrame(requestID, path string, payload []byte) []byte {
	return frame.Encode(frame.Message{
		Headers: frame.Headers{
			{Key: frame.HeaderRequestID, Value: requestID},
			{Key: frame.HeaderContentType, Value: "application/json; charset=utf-8"},
			{Key: frame.HeaderPath, Value: path},
		},
		Payload: payload,
	})
}

func metadata(b frame.BoundaryEvent) []byte {
	doc := map[string]any{
		"Metadata": []map[string]any{{
			"Type": "WordBoundary",
			"Data": map[string]any{
				"Offset":   b.OffsetMS * 10_000,
				"Duration": 2_000_000,
				"text":     map[string]any{"Text": b.Word, "Length": len(b.Word)},
			},
		}},
	}
	data, _ := json.Marshal(doc)
	return data
}
