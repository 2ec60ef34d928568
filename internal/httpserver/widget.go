package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chadiek/shop-assist/internal/config"
	"github.com/chadiek/shop-assist/internal/conversation"
	"github.com/chadiek/shop-assist/internal/dispatch"
	"github.com/chadiek/shop-assist/internal/session"
	"github.com/chadiek/shop-assist/internal/speech"
	"github.com/chadiek/shop-assist/internal/transcript"
	"github.com/chadiek/shop-assist/internal/tts"
)

// commandFrame is an inbound widget control message.
type commandFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Value bool   `json:"value,omitempty"`
}

// eventFrame is an outbound widget update. Type mirrors session.EventType,
// plus "audio_reset" telling the client to flush its playback buffer.
type eventFrame struct {
	Type         string                `json:"type"`
	Phase        string                `json:"phase,omitempty"`
	Message      *conversation.Message `json:"message,omitempty"`
	Notice       string                `json:"notice,omitempty"`
	Transcript   string                `json:"transcript,omitempty"`
	Elapsed      int                   `json:"elapsed,omitempty"`
	AudioEnabled *bool                 `json:"audioEnabled,omitempty"`
}

// WidgetHandler upgrades widget connections and binds one session controller
// to each. Closing the socket closes the widget: recording is cancelled,
// speech is stopped, and an in-flight dispatch completes in the background.
type WidgetHandler struct {
	cfg      *config.Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWidgetHandler constructs the handler.
func NewWidgetHandler(cfg *config.Config, logger *zap.Logger) *WidgetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WidgetHandler{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The widget is embedded in arbitrary storefront pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve handles one widget connection for its lifetime.
func (h *WidgetHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w := &wsWriter{conn: conn}
	ctrl := h.newController(w)
	defer ctrl.Close()

	h.logger.Info("widget connected", zap.String("remote", conn.RemoteAddr().String()))
	h.sendSnapshot(w, ctrl)

	transcriber := ctrl.Transcriber()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("widget disconnected", zap.Error(err))
			return nil
		}
		switch msgType {
		case websocket.BinaryMessage:
			// Microphone audio from the widget while recording.
			if transcriber != nil {
				_ = transcriber.SendPCM16KLE(data)
			}
		case websocket.TextMessage:
			h.handleCommand(w, ctrl, data)
		}
	}
}

// widgetSession pairs a controller with the concrete capabilities the
// transport needs direct access to.
type widgetSession struct {
	*session.Controller
	transcriber *transcript.Service
}

func (s *widgetSession) Transcriber() *transcript.Service { return s.transcriber }

func (h *WidgetHandler) newController(w *wsWriter) *widgetSession {
	transcriber := transcript.NewService(h.cfg.Speech.STTKey, h.cfg.Speech.STTURL, h.logger)
	speaker := tts.NewDeepgramSpeaker(h.cfg.Speech.DeepgramKey, h.cfg.Speech.DeepgramModel, w, h.logger)
	dispatcher := dispatch.NewClient(h.cfg.Backend.URL,
		time.Duration(h.cfg.Backend.TimeoutSeconds)*time.Second, h.logger)

	ctrl := session.New(session.Config{
		AudioEnabledByDefault: h.cfg.Widget.AudioEnabledByDefault,
		ShowResultCards:       h.cfg.Widget.ShowResultCards,
		TruncateLength:        h.cfg.Widget.TruncateLength,
		Greeting:              h.cfg.Widget.Greeting,
		Locale:                h.cfg.Speech.Locale,
	}, session.Deps{
		Transcriber: transcriber,
		Speaker:     speaker,
		Dispatcher:  dispatcher,
		Speech: speech.Options{
			Rate:   h.cfg.Speech.Rate,
			Pitch:  h.cfg.Speech.Pitch,
			Volume: h.cfg.Speech.Volume,
		},
		Logger:  h.logger,
		OnEvent: func(ev session.Event) { w.writeEvent(toFrame(ev)) },
	})
	return &widgetSession{Controller: ctrl, transcriber: transcriber}
}

// sendSnapshot replays the current log and state to a freshly connected
// widget.
func (h *WidgetHandler) sendSnapshot(w *wsWriter, ctrl *widgetSession) {
	audio := ctrl.AudioEnabled()
	for i, msg := range ctrl.Messages() {
		m := msg
		typ := string(session.EventMessage)
		if i == 0 {
			typ = string(session.EventReset)
		}
		w.writeEvent(eventFrame{Type: typ, Message: &m})
	}
	w.writeEvent(eventFrame{Type: string(session.EventAudio), AudioEnabled: &audio})
	w.writeEvent(eventFrame{Type: string(session.EventPhase), Phase: string(ctrl.Phase())})
}

func (h *WidgetHandler) handleCommand(w *wsWriter, ctrl *widgetSession, data []byte) {
	var cmd commandFrame
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.logger.Debug("bad command frame", zap.Error(err))
		return
	}
	switch cmd.Type {
	case "submit":
		if err := ctrl.SubmitText(cmd.Text); err != nil {
			h.logger.Debug("submit rejected", zap.Error(err))
		}
	case "start_recording":
		if err := ctrl.StartRecording(); err != nil {
			h.logger.Debug("start recording rejected", zap.Error(err))
		}
	case "commit_recording":
		ctrl.CommitRecording()
	case "cancel_recording":
		ctrl.CancelRecording()
	case "stop_speaking":
		ctrl.StopSpeaking()
	case "set_audio":
		ctrl.SetAudioEnabled(cmd.Value)
	case "clear":
		ctrl.ClearConversation()
	default:
		h.logger.Debug("unknown command", zap.String("type", cmd.Type))
	}
}

func toFrame(ev session.Event) eventFrame {
	f := eventFrame{
		Type:       string(ev.Type),
		Message:    ev.Message,
		Notice:     ev.Notice,
		Transcript: ev.Transcript,
		Elapsed:    ev.Elapsed,
	}
	if ev.Type == session.EventPhase {
		f.Phase = string(ev.Phase)
	}
	if ev.Type == session.EventAudio {
		audio := ev.AudioEnabled
		f.AudioEnabled = &audio
	}
	return f
}

// wsWriter serializes all writes to one websocket connection. It doubles as
// the speaker's audio sink: PCM goes out as binary frames, Reset tells the
// widget to flush whatever it has buffered.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeEvent(f eventFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteJSON(f)
}

// WritePCM implements tts.AudioSink.
func (w *wsWriter) WritePCM(pcm []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Reset implements tts.AudioSink.
func (w *wsWriter) Reset() {
	w.writeEvent(eventFrame{Type: "audio_reset"})
}
