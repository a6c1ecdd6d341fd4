package frame

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader delivers data in fixed-size pieces.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func audioMessage(payload []byte) Message {
	return Message{
		Headers: Headers{
			{Key: HeaderRequestID, Value: "0123456789ABCDEF0123456789ABCDEF"},
			{Key: HeaderContentType, Value: ContentTypeMPEG},
			{Key: HeaderPath, Value: PathAudio},
		},
		Payload: payload,
	}
}

func TestEncodeLayout(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 4, 5, 123_000_000, time.UTC)
	got := string(Encode(NewConfigMessage(now, []byte(`{"a":1}`))))

	want := "X-Timestamp:2026-03-01T10:04:05.123Z\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"a":1}`
	assert.Equal(t, want, got)
}

func TestSSMLMessageHeaders(t *testing.T) {
	msg := NewSSMLMessage("ABC", time.Now(), "<speak/>")
	assert.Equal(t, "ABC", msg.Headers.Get("x-requestid"))
	assert.Equal(t, ContentTypeSSML, msg.Headers.Get(HeaderContentType))
	assert.Equal(t, PathSSML, msg.Path())
	assert.NotEmpty(t, msg.Headers.Get(HeaderTimestamp))

	header, payload, ok := SplitHeader(Encode(msg))
	require.True(t, ok)
	assert.Equal(t, "<speak/>", string(payload))
	assert.Equal(t, msg.Headers, ParseHeaders(header))
}

func TestDecodeAudioRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0xFF, 0xF3, 0x44, 0xC4},
		bytes.Repeat([]byte{0x01, 0x02, 0x03}, 5000),
		[]byte("audio with \r\n\r\n inside"),
		{},
	}
	for _, payload := range payloads {
		for _, encoded := range [][]byte{Encode(audioMessage(payload)), EncodeBinary(audioMessage(payload))} {
			got, err := DecodeAudio(bytes.NewReader(encoded))
			require.NoError(t, err)
			assert.Equal(t, len(payload), len(got))
			assert.True(t, bytes.Equal(payload, got))
		}
	}
}

func TestDecodeAudioDelimiterStraddlesChunks(t *testing.T) {
	payload := []byte{0xFF, 0xFB, 0x90, 0x64, 0x00}
	encoded := EncodeBinary(audioMessage(payload))
	idx := bytes.Index(encoded, delimiter)
	require.Positive(t, idx)

	// Every split point across the delimiter.
	for size := 1; size <= idx+len(delimiter); size++ {
		got, err := DecodeAudio(&chunkReader{data: append([]byte(nil), encoded...), size: size})
		require.NoError(t, err, "chunk size %d", size)
		assert.Equal(t, payload, got, "chunk size %d", size)
	}

	got, err := DecodeAudio(iotest.OneByteReader(bytes.NewReader(encoded)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeAudioWithoutDelimiter(t *testing.T) {
	_, err := DecodeAudio(bytes.NewReader([]byte("Path:audio\r\nno terminator")))
	assert.ErrorIs(t, err, ErrNoDelimiter)

	_, err = DecodeAudio(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrNoDelimiter)
}

func TestDecodeAudioReadError(t *testing.T) {
	_, err := DecodeAudio(iotest.ErrReader(io.ErrUnexpectedEOF))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDelimiter)
}

func TestDecodeTextTurns(t *testing.T) {
	start := Encode(Message{Headers: Headers{{Key: HeaderPath, Value: PathTurnStart}}, Payload: []byte(`{"context":{}}`)})
	evt, err := DecodeText(start)
	require.NoError(t, err)
	assert.Equal(t, KindTurnStart, evt.Kind)

	end := Encode(Message{Headers: Headers{{Key: HeaderPath, Value: PathTurnEnd}}, Payload: []byte("{}")})
	evt, err = DecodeText(end)
	require.NoError(t, err)
	assert.Equal(t, KindTurnEnd, evt.Kind)

	other := Encode(Message{Headers: Headers{{Key: HeaderPath, Value: "response"}}, Payload: []byte("{}")})
	evt, err = DecodeText(other)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, evt.Kind)
}

func TestDecodeTextServiceMetadata(t *testing.T) {
	body := `{"Metadata":[` +
		`{"Type":"WordBoundary","Data":{"Offset":1000000,"Duration":3000000,"text":{"Text":"Ciao","Length":4}}},` +
		`{"Type":"SessionEnd","Data":{"Offset":0}},` +
		`{"Type":"WordBoundary","Data":{"Offset":5500000,"Duration":3000000,"text":{"Text":"mondo","Length":5}}}` +
		`]}`
	data := Encode(Message{
		Headers: Headers{{Key: HeaderRequestID, Value: "X"}, {Key: HeaderPath, Value: PathAudioMetadata}},
		Payload: []byte(body),
	})

	evt, err := DecodeText(data)
	require.NoError(t, err)
	assert.Equal(t, KindWordBoundary, evt.Kind)
	assert.Equal(t, []BoundaryEvent{{Word: "Ciao", OffsetMS: 100}, {Word: "mondo", OffsetMS: 550}}, evt.Boundaries)
}

func TestDecodeTextFlatBoundaryWithoutHeaders(t *testing.T) {
	evt, err := DecodeText([]byte(`{"type":"word.boundary","offset":250,"text":"parola"}`))
	require.NoError(t, err)
	assert.Equal(t, KindWordBoundary, evt.Kind)
	assert.Equal(t, []BoundaryEvent{{Word: "parola", OffsetMS: 250}}, evt.Boundaries)
}

func TestDecodeTextMalformedBoundary(t *testing.T) {
	cases := []string{
		"Path:audio.metadata\r\n\r\n{not json",
		"Path:audio.metadata\r\n\r\n",
		"Path:word.boundary\r\n\r\n{\"text\":\"x\"}",
		"Path:word.boundary\r\n\r\n{\"offset\":-5,\"text\":\"x\"}",
	}
	for _, c := range cases {
		evt, err := DecodeText([]byte(c))
		assert.Error(t, err, c)
		assert.Equal(t, KindWordBoundary, evt.Kind, c)
	}
}

func TestDecodeTextSubstringFallback(t *testing.T) {
	evt, err := DecodeText([]byte("event turn.start"))
	require.NoError(t, err)
	assert.Equal(t, KindTurnStart, evt.Kind)

	evt, err = DecodeText([]byte("event turn.end"))
	require.NoError(t, err)
	assert.Equal(t, KindTurnEnd, evt.Kind)
}
