package transcript

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultStreamURL is the hosted streaming STT gateway.
const DefaultStreamURL = "wss://streaming.assemblyai.com/v3/ws"

// turnMessage is a streaming transcript update from the gateway. Transcript
// carries the full text of the current turn so far, not a delta.
type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Service is the production Transcriber capability: it streams microphone
// audio to the STT gateway over a websocket and publishes the latest full
// transcript on Updates. One capture stream is live at a time.
type Service struct {
	apiKey    string
	streamURL string
	logger    *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	updates   chan string
	audioData chan []byte
	stopCh    chan struct{}
	connected bool
}

// NewService creates a transcription service. An empty API key makes the
// capability report unsupported.
func NewService(apiKey, streamURL string, logger *zap.Logger) *Service {
	if streamURL == "" {
		streamURL = DefaultStreamURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{apiKey: apiKey, streamURL: streamURL, logger: logger}
}

// Supported reports whether the capability is usable on this deployment.
func (s *Service) Supported() bool { return s.apiKey != "" }

// Start opens the streaming connection. continuous and locale are forwarded
// as connection parameters.
func (s *Service) Start(continuous bool, locale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return fmt.Errorf("transcript: capture already started")
	}
	if s.apiKey == "" {
		return fmt.Errorf("transcript: API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")
	params.Set("language", locale)
	if continuous {
		params.Set("end_of_turn_confidence_threshold", "1")
	}

	wsURL := fmt.Sprintf("%s?%s", s.streamURL, params.Encode())
	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			s.logger.Warn("stt connection refused", zap.Int("status", resp.StatusCode))
		}
		return fmt.Errorf("transcript: connect: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.updates = make(chan string, 100)
	s.audioData = make(chan []byte, 1000)
	s.stopCh = make(chan struct{})

	go s.readLoop(conn, s.updates, s.stopCh)
	go s.writeLoop(conn, s.audioData, s.stopCh)

	s.logger.Info("stt stream connected", zap.String("locale", locale))
	return nil
}

// Updates streams the latest full transcript as recognition progresses.
// The channel is closed when the stream stops.
func (s *Service) Updates() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// SendPCM16KLE queues captured audio (16 kHz little-endian mono PCM) for the
// gateway. Packets are dropped rather than blocking when the buffer is full.
func (s *Service) SendPCM16KLE(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("transcript: not connected")
	}
	select {
	case s.audioData <- pcm:
	default:
		s.logger.Debug("audio buffer full, dropping packet")
	}
	return nil
}

// Stop closes the capture stream. Idempotent.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	close(s.stopCh)
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Service) readLoop(conn *websocket.Conn, updates chan<- string, stop <-chan struct{}) {
	defer close(updates)
	for {
		select {
		case <-stop:
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				s.logger.Warn("stt read", zap.Error(err))
			}
			return
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}
		switch probe.Type {
		case "Turn":
			var turn turnMessage
			if err := json.Unmarshal(data, &turn); err != nil || turn.Transcript == "" {
				continue
			}
			select {
			case updates <- turn.Transcript:
			default:
				// consumer lagging; newer updates supersede anyway
			}
		case "Error":
			var em errorMessage
			if err := json.Unmarshal(data, &em); err == nil {
				s.logger.Warn("stt error message", zap.String("error", em.Error))
			}
		}
	}
}

func (s *Service) writeLoop(conn *websocket.Conn, audio <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case pcm := <-audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-stop:
				default:
					s.logger.Warn("stt write", zap.Error(err))
				}
				return
			}
		}
	}
}
