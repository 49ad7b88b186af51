package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// echoSTTServer upgrades connections and answers every audio frame with a
// partial transcript followed by a committed one.
func echoSTTServer(t *testing.T, connCount *atomic.Int32, dropAfter int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connCount.Add(1)

		conn.WriteJSON(map[string]string{"type": "session_started"})

		frames := 0
		for {
			var frame realtimeClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type != "input_audio" {
				continue
			}
			frames++

			pcm, err := base64.StdEncoding.DecodeString(frame.Audio)
			require.NoError(t, err)
			require.NotEmpty(t, pcm)

			conn.WriteJSON(map[string]string{"type": "partial_transcript", "text": "hel", "language": "en"})
			conn.WriteJSON(map[string]string{"type": "committed_transcript", "text": "hello", "language": "en-US"})

			if dropAfter > 0 && frames >= dropAfter {
				conn.WriteJSON(map[string]string{"type": "session_limit_reached"})
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collectEvents(t *testing.T, stream Stream, n int, timeout time.Duration) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d of %d", len(events), n)
		}
	}
	return events
}

func TestRealtimeStreamTranscribes(t *testing.T) {
	var conns atomic.Int32
	srv := echoSTTServer(t, &conns, 0)
	defer srv.Close()

	provider, err := NewRealtimeProvider(RealtimeConfig{URL: wsURL(srv), APIKey: "test-key"})
	require.NoError(t, err)

	stream, err := provider.OpenStream(context.Background(), "system", "en")
	require.NoError(t, err)

	require.NoError(t, stream.Write(make([]byte, 3200)))

	// partial, committed, then the empty partial that clears it.
	events := collectEvents(t, stream, 3, 5*time.Second)
	assert.Equal(t, StreamPartial, events[0].Kind)
	assert.Equal(t, "hel", events[0].Text)
	assert.Equal(t, StreamCommitted, events[1].Kind)
	assert.Equal(t, "hello", events[1].Text)
	assert.Equal(t, "en", events[1].LangHint)
	assert.Equal(t, StreamPartial, events[2].Kind)
	assert.Empty(t, events[2].Text)

	require.NoError(t, stream.Close())
	assert.Error(t, stream.Write([]byte{0, 0}))
}

func TestRealtimeStreamReconnectsOnSessionLimit(t *testing.T) {
	var conns atomic.Int32
	srv := echoSTTServer(t, &conns, 1)
	defer srv.Close()

	provider, err := NewRealtimeProvider(RealtimeConfig{URL: wsURL(srv), APIKey: "test-key"})
	require.NoError(t, err)

	stream, err := provider.OpenStream(context.Background(), "microphone", "auto")
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Write(make([]byte, 3200)))
	collectEvents(t, stream, 3, 5*time.Second)

	// The server closed the session after one frame; a fresh connection
	// should appear within the backoff window.
	require.Eventually(t, func() bool {
		return conns.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRealtimeProviderValidatesConfig(t *testing.T) {
	_, err := NewRealtimeProvider(RealtimeConfig{APIKey: "k"})
	assert.Error(t, err)
	_, err = NewRealtimeProvider(RealtimeConfig{URL: "wss://example"})
	assert.Error(t, err)
}

func TestRealtimeHandleFrameIgnoresUnknown(t *testing.T) {
	s := &realtimeStream{events: make(chan StreamEvent, 4)}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	s.handleFrame([]byte(`{"type":"some_future_thing"}`))
	s.handleFrame([]byte(`not json`))
	s.handleFrame([]byte(`{"type":"committed_transcript","text":""}`))
	assert.Empty(t, s.events)
}

func TestRealtimeFrameEncoding(t *testing.T) {
	frame := realtimeClientFrame{Type: "input_audio", Audio: "QUJD", SampleRate: 16000}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"input_audio","audio":"QUJD","sample_rate":16000}`, string(data))
}
