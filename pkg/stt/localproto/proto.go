// Package localproto defines the line-delimited JSON protocol spoken
// between the engine and the forked on-device transcription worker.
//
// Every message carries a monotonically increasing id assigned by the
// engine; the worker echoes the id on its response so the engine can
// correlate replies with callers. One JSON object per line, over the
// worker's stdin/stdout.
package localproto

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
)

// Message types. load, transcribe and dispose flow engine to worker;
// loaded, result, disposed and error flow back.
const (
	TypeLoad       = "load"
	TypeLoaded     = "loaded"
	TypeTranscribe = "transcribe"
	TypeResult     = "result"
	TypeDispose    = "dispose"
	TypeDisposed   = "disposed"
	TypeError      = "error"
)

// Message is the single frame shape for both directions. Unused fields
// are omitted on the wire.
type Message struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`

	// load / transcribe
	ModelID string `json:"model_id,omitempty"`

	// transcribe: base64 of little-endian float32 samples.
	Audio string `json:"audio,omitempty"`

	// transcribe: up to two ISO 639-1 hints, most likely first.
	LanguageHints []string `json:"language_hints,omitempty"`

	// result
	Text string `json:"text,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// EncodeAudio packs float32 samples as base64 little-endian bytes.
func EncodeAudio(samples []float32) string {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeAudio reverses EncodeAudio.
func DecodeAudio(encoded string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("audio payload length %d is not float32-aligned", len(buf))
	}

	samples := make([]float32, len(buf)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return samples, nil
}

// Handler is the worker-side model interface.
type Handler interface {
	// Load prepares the model. Called at most once per model id.
	Load(modelID string) error

	// Transcribe runs recognition over 16 kHz mono float32 audio.
	Transcribe(modelID string, audio []float32, languageHints []string) (string, error)
}

// Server runs the worker side of the protocol over a reader/writer pair,
// normally os.Stdin/os.Stdout.
type Server struct {
	handler Handler
	in      io.Reader
	out     io.Writer
	writeMu sync.Mutex
}

// NewServer wires a handler to the transport.
func NewServer(in io.Reader, out io.Writer, handler Handler) *Server {
	return &Server{handler: handler, in: in, out: out}
}

// Run reads frames until dispose or EOF. Each transcribe is handled
// synchronously; the engine serializes requests, so there is no gain in
// worker-side parallelism.
func (s *Server) Run() error {
	scanner := bufio.NewScanner(s.in)
	// Ten seconds of base64 float32 audio is well under 8 MiB.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.send(Message{ID: msg.ID, Type: TypeError, Error: fmt.Sprintf("malformed frame: %v", err)})
			continue
		}

		switch msg.Type {
		case TypeLoad:
			if err := s.handler.Load(msg.ModelID); err != nil {
				s.send(Message{ID: msg.ID, Type: TypeError, Error: err.Error()})
				continue
			}
			s.send(Message{ID: msg.ID, Type: TypeLoaded})

		case TypeTranscribe:
			audio, err := DecodeAudio(msg.Audio)
			if err != nil {
				s.send(Message{ID: msg.ID, Type: TypeError, Error: err.Error()})
				continue
			}
			text, err := s.handler.Transcribe(msg.ModelID, audio, msg.LanguageHints)
			if err != nil {
				s.send(Message{ID: msg.ID, Type: TypeError, Error: err.Error()})
				continue
			}
			s.send(Message{ID: msg.ID, Type: TypeResult, Text: text})

		case TypeDispose:
			s.send(Message{ID: msg.ID, Type: TypeDisposed})
			return nil

		default:
			s.send(Message{ID: msg.ID, Type: TypeError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
	return scanner.Err()
}

func (s *Server) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(data)
	s.out.Write([]byte("\n"))
}
