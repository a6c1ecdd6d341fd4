package protocol

import "time"

// TTSRequest asks the speech service to synthesize Text.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Rate      string `json:"rate,omitempty"`
	Pitch     string `json:"pitch,omitempty"`
	Volume    string `json:"volume,omitempty"`
}

// TTSStop cancels the request in flight. An empty SessionID stops whatever is
// running.
type TTSStop struct {
	SessionID string `json:"session_id,omitempty"`
}

// TTSBoundary marks where a word starts in the audio.
type TTSBoundary struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target,omitempty"`
	Word      string `json:"word"`
	OffsetMS  int64  `json:"offset_ms"`
}

// TTSAudio carries the complete artifact of one request.
type TTSAudio struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target,omitempty"`
	MimeType  string `json:"mime_type"`
	Audio     []byte `json:"audio"`
	Engine    string `json:"engine"`
}

// TTSStatus is the terminal message of every request.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest  = "tts.request"
	SubjectTTSStop     = "tts.stop"
	SubjectTTSBoundary = "tts.boundary"
	SubjectTTSAudio    = "tts.audio"
	SubjectTTSDone     = "tts.done"
)
