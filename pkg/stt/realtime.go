package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echonote-ai/echonote/pkg/audio"
	"github.com/echonote-ai/echonote/pkg/trace"
)

const (
	realtimeHandshakeTimeout = 10 * time.Second

	// Reconnect backoff: 500ms, then 1s, capped.
	realtimeInitialReconnectDelay = 500 * time.Millisecond
	realtimeMaxReconnectDelay     = 1 * time.Second
	realtimeMaxReconnectAttempts  = 5

	// Audio written while a reconnect is in progress is retained for at
	// most this window.
	realtimePendingWindowMs = 10000
)

// RealtimeProvider implements StreamTranscriber over a websocket STT
// service that accepts base64 PCM frames and emits partial and committed
// transcripts.
type RealtimeProvider struct {
	cfg RealtimeConfig
}

// RealtimeConfig holds configuration for RealtimeProvider.
type RealtimeConfig struct {
	// URL is the websocket endpoint (required), e.g. wss://.../realtime.
	URL string
	// APIKey is sent as a bearer token (required).
	APIKey string
	// Model is the STT model id passed as a query parameter.
	Model string
}

// NewRealtimeProvider creates the streaming provider.
func NewRealtimeProvider(cfg RealtimeConfig) (*RealtimeProvider, error) {
	if cfg.URL == "" {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "realtime STT URL is required"}
	}
	if cfg.APIKey == "" {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "realtime STT API key is required"}
	}
	return &RealtimeProvider{cfg: cfg}, nil
}

func (p *RealtimeProvider) Name() string {
	return "realtime"
}

// OpenStream opens one long-lived connection for an audio source.
func (p *RealtimeProvider) OpenStream(ctx context.Context, source, language string) (Stream, error) {
	s := &realtimeStream{
		cfg:      p.cfg,
		source:   source,
		language: NormalizeLanguage(language),
		events:   make(chan StreamEvent, 32),
		sendCh:   make(chan []byte, 64),
		pending:  audio.NewRingBuffer(audio.SampleRate, realtimePendingWindowMs),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.dial(); err != nil {
		s.cancel()
		return nil, &Error{Code: ErrCodeNetworkError, Message: "realtime STT connect failed", Err: err}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop()
	}()

	return s, nil
}

func (p *RealtimeProvider) Close() error {
	return nil
}

type realtimeStream struct {
	cfg      RealtimeConfig
	source   string
	language string

	events  chan StreamEvent
	sendCh  chan []byte
	pending *audio.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   *websocket.Conn

	closed       atomic.Bool
	reconnecting atomic.Bool
	ready        atomic.Bool
}

// Wire messages. The endpoint speaks line-oriented JSON text frames.
type realtimeClientFrame struct {
	Type       string `json:"type"`
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type realtimeServerFrame struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// dial establishes the websocket and starts a fresh read loop for it.
func (s *realtimeStream) dial() error {
	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
	if s.cfg.Model != "" {
		params.Set("model_id", s.cfg.Model)
	}
	if s.language != "auto" {
		params.Set("language_code", s.language)
	}

	wsURL := fmt.Sprintf("%s?%s", s.cfg.URL, params.Encode())
	dialer := websocket.Dialer{HandshakeTimeout: realtimeHandshakeTimeout}
	headers := map[string][]string{
		"Authorization": {"Bearer " + s.cfg.APIKey},
	}

	conn, _, err := dialer.DialContext(s.ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.ready.Store(true)

	_, span := trace.InstrumentConnectionCreated(s.ctx, s.source, "websocket")
	span.End()
	log.Printf("[Realtime] Connected (%s)", s.source)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
	}()
	return nil
}

func (s *realtimeStream) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Printf("[Realtime] Read error (%s): %v", s.source, err)
			s.scheduleReconnect()
			return
		}

		s.handleFrame(message)
	}
}

func (s *realtimeStream) handleFrame(data []byte) {
	var frame realtimeServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("[Realtime] Malformed frame (%s): %v", s.source, err)
		return
	}

	switch frame.Type {
	case "session_started":
		log.Printf("[Realtime] Session started (%s)", s.source)

	case "partial_transcript":
		s.emit(StreamEvent{Kind: StreamPartial, Text: frame.Text, LangHint: NormalizeLanguage(frame.Language)})

	case "committed_transcript":
		if frame.Text != "" {
			s.emit(StreamEvent{Kind: StreamCommitted, Text: frame.Text, LangHint: NormalizeLanguage(frame.Language)})
			// A committed paragraph supersedes its partials.
			s.emit(StreamEvent{Kind: StreamPartial, Text: ""})
		}

	case "session_limit_reached":
		log.Printf("[Realtime] Session limit reached (%s), reconnecting", s.source)
		s.scheduleReconnect()

	case "error":
		if frame.Error != nil {
			log.Printf("[Realtime] Server error (%s): %s - %s", s.source, frame.Error.Code, frame.Error.Message)
		}
		s.scheduleReconnect()

	default:
		// Unknown frame types are ignored so wire additions stay compatible.
	}
}

func (s *realtimeStream) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm, ok := <-s.sendCh:
			if !ok {
				return
			}
			if !s.ready.Load() {
				s.pending.Write(pcm)
				continue
			}
			if err := s.sendAudio(pcm); err != nil {
				s.pending.Write(pcm)
				if !s.closed.Load() {
					log.Printf("[Realtime] Send error (%s): %v", s.source, err)
					s.scheduleReconnect()
				}
			}
		}
	}
}

func (s *realtimeStream) sendAudio(pcm []byte) error {
	frame := realtimeClientFrame{
		Type:       "input_audio",
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: audio.SampleRate,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("no connection")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// scheduleReconnect tears the current connection down and retries with
// exponential backoff. Only one reconnect loop runs at a time.
func (s *realtimeStream) scheduleReconnect() {
	if s.closed.Load() || !s.reconnecting.CompareAndSwap(false, true) {
		return
	}

	s.ready.Store(false)
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.reconnecting.Store(false)

		delay := realtimeInitialReconnectDelay
		for attempt := 1; attempt <= realtimeMaxReconnectAttempts; attempt++ {
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			if s.closed.Load() {
				return
			}

			if err := s.dial(); err != nil {
				log.Printf("[Realtime] Reconnect attempt %d/%d failed (%s): %v",
					attempt, realtimeMaxReconnectAttempts, s.source, err)
				delay *= 2
				if delay > realtimeMaxReconnectDelay {
					delay = realtimeMaxReconnectDelay
				}
				continue
			}

			// Flush audio retained during the outage.
			if buffered := s.pending.Drain(); len(buffered) > 0 {
				if err := s.sendAudio(buffered); err != nil {
					log.Printf("[Realtime] Failed to flush %d buffered bytes (%s): %v", len(buffered), s.source, err)
				}
			}
			return
		}

		err := &Error{
			Code:    ErrCodeNetworkError,
			Message: fmt.Sprintf("gave up after %d reconnect attempts", realtimeMaxReconnectAttempts),
		}
		_, span := trace.InstrumentConnectionError(context.Background(), s.source, "websocket", err)
		span.End()
		s.emit(StreamEvent{Kind: StreamClosed, Err: err})
	}()
}

// Write sends raw PCM to the stream. Audio written while the socket is
// down lands in the bounded pending buffer instead of being lost.
func (s *realtimeStream) Write(pcm []byte) error {
	if s.closed.Load() {
		return &Error{Code: ErrCodeProviderError, Message: "stream is closed"}
	}

	select {
	case s.sendCh <- pcm:
		return nil
	default:
		// Send queue is stalled (usually mid-reconnect); retain the audio.
		s.pending.Write(pcm)
		return nil
	}
}

func (s *realtimeStream) Events() <-chan StreamEvent {
	return s.events
}

func (s *realtimeStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	_, span := trace.InstrumentConnectionClosed(context.Background(), s.source, "websocket")
	span.End()
	log.Printf("[Realtime] Stream closed (%s)", s.source)
	return nil
}

func (s *realtimeStream) emit(ev StreamEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	default:
		log.Printf("[Realtime] Event channel full, dropping %d (%s)", ev.Kind, s.source)
	}
}
