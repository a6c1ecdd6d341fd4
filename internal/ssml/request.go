// Package ssml builds the synthesis request sent to the speech service: the
// escaped markup document, the speech.config body and the correlation id.
package ssml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

const (
	Locale       = "it-IT"
	OutputFormat = "audio-24khz-96kbitrate-mono-mp3"
)

// Request is one synthesis request. It is not modified after NewRequest.
type Request struct {
	Text   string
	Voice  string
	Rate   string
	Pitch  string
	Volume string
	ID     string
}

// NewRequest captures the parameters and assigns a fresh correlation id.
func NewRequest(text, voice, rate, pitch, volume string) Request {
	return Request{
		Text:   text,
		Voice:  voice,
		Rate:   rate,
		Pitch:  pitch,
		Volume: volume,
		ID:     NewRequestID(),
	}
}

// NewRequestID returns 32 uppercase hex digits from a random UUID.
func NewRequestID() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five XML metacharacters.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Markup renders the speak/voice/prosody envelope around the escaped text.
func (r Request) Markup() string {
	var b strings.Builder
	b.Grow(len(r.Text) + 256)
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="`)
	b.WriteString(Locale)
	b.WriteString(`">`)
	b.WriteString(`<voice name="`)
	b.WriteString(Escape(r.Voice))
	b.WriteString(`">`)
	b.WriteString(`<prosody rate="`)
	b.WriteString(Escape(r.Rate))
	b.WriteString(`" pitch="`)
	b.WriteString(Escape(r.Pitch))
	b.WriteString(`" volume="`)
	b.WriteString(Escape(r.Volume))
	b.WriteString(`">`)
	b.WriteString(Escape(r.Text))
	b.WriteString(`</prosody></voice></speak>`)
	return b.String()
}

// CacheKey identifies the audio this request would produce. The id is not
// part of the key.
func (r Request) CacheKey() string {
	h := sha256.New()
	for _, part := range []string{r.Text, r.Voice, r.Rate, r.Pitch, r.Volume} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type speechConfig struct {
	Context struct {
		Synthesis struct {
			Audio struct {
				MetadataOptions struct {
					SentenceBoundaryEnabled string `json:"sentenceBoundaryEnabled"`
					WordBoundaryEnabled     string `json:"wordBoundaryEnabled"`
				} `json:"metadataoptions"`
				OutputFormat string `json:"outputFormat"`
			} `json:"audio"`
		} `json:"synthesis"`
	} `json:"context"`
}

// ConfigPayload is the speech.config body: word boundaries on, sentence
// boundaries off, 24kHz 96kbit mono MP3.
func ConfigPayload() []byte {
	var cfg speechConfig
	cfg.Context.Synthesis.Audio.MetadataOptions.SentenceBoundaryEnabled = "false"
	cfg.Context.Synthesis.Audio.MetadataOptions.WordBoundaryEnabled = "true"
	cfg.Context.Synthesis.Audio.OutputFormat = OutputFormat
	data, err := json.Marshal(cfg)
	if err != nil {
		// static document
		panic(err)
	}
	return data
}
