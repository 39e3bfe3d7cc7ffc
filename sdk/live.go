package atlas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hellohealthy/atlas/pkg/audio"
	"github.com/hellohealthy/atlas/pkg/core"
	"github.com/hellohealthy/atlas/pkg/core/live"
)

// Realtime defaults.
const (
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice     = "Zephyr"

	defaultLiveConnectTimeout = 15 * time.Second
)

// SessionState is the lifecycle state of a realtime session.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateOpen         SessionState = "open"
	StateClosed       SessionState = "closed"
	StateError        SessionState = "error"
)

// LiveService opens realtime bidirectional voice sessions.
type LiveService struct {
	client *Client
}

// SessionConfig configures a realtime session.
type SessionConfig struct {
	Model  string
	Voice  string
	System string

	// Source, when set, is started on connect and feeds encoded microphone
	// windows into the session. Leave nil to send audio manually with
	// SendAudio.
	Source audio.Source

	// Output opens the playback device; model audio is scheduled on it
	// gaplessly. Leave nil to discard model audio (transcript only).
	Output audio.OutputFactory
}

// SessionEvent is emitted by Session.Events().
type SessionEvent interface {
	sessionEventType() string
}

// TranscriptDeltaEvent carries an incremental fragment of the model's
// speech transcript.
type TranscriptDeltaEvent struct {
	Text string
}

func (TranscriptDeltaEvent) sessionEventType() string { return "transcript_delta" }

// TurnCompleteEvent carries the finalized model turn.
type TurnCompleteEvent struct {
	Message Message
}

func (TurnCompleteEvent) sessionEventType() string { return "turn_complete" }

// InterruptedEvent signals the user barged in; queued playback was flushed.
type InterruptedEvent struct{}

func (InterruptedEvent) sessionEventType() string { return "interrupted" }

// Session is one realtime bidirectional session. Inbound server events are
// processed strictly in arrival order, so audio scheduling never reorders
// relative to transcript appension within a turn.
type Session struct {
	conn      *websocket.Conn
	scheduler *audio.Scheduler
	capture   *audio.CaptureEncoder
	logger    *slog.Logger

	events chan SessionEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	state     atomic.Value // SessionState

	errMu sync.Mutex
	err   error

	turnMu  sync.Mutex
	current Message

	onClosed func()
}

// Connect opens a realtime session. At most one session is active per
// client: an existing session is fully torn down before the new one dials,
// so two encoders never share the microphone and two schedulers never fight
// over the output device.
func (s *LiveService) Connect(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	if cfg == nil {
		cfg = &SessionConfig{}
	}

	s.client.connectMu.Lock()
	defer s.client.connectMu.Unlock()

	s.client.sessionMu.Lock()
	prev := s.client.activeSession
	s.client.activeSession = nil
	s.client.sessionMu.Unlock()
	if prev != nil {
		prev.close(nil)
	}

	session, err := s.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	session.onClosed = func() {
		s.client.sessionMu.Lock()
		if s.client.activeSession == session {
			s.client.activeSession = nil
		}
		s.client.sessionMu.Unlock()
	}
	s.client.sessionMu.Lock()
	s.client.activeSession = session
	s.client.sessionMu.Unlock()
	go session.readLoop()
	return session, nil
}

func (s *LiveService) connect(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	key, err := s.client.credentials.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = DefaultLiveModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	wsURL := s.client.liveEndpoint + "?key=" + key

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultLiveConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, core.NewCredentialError("realtime dial rejected", resp.Status)
			}
			return nil, &TransportError{Op: http.MethodGet, URL: wsURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: http.MethodGet, URL: wsURL, Err: err}
	}

	setup := live.ClientSetup{
		Setup: &live.Setup{
			Model: "models/" + model,
			GenerationConfig: &live.GenerationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &live.SpeechConfig{
					VoiceConfig: &live.VoiceConfig{
						PrebuiltVoiceConfig: &live.PrebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if cfg.System != "" {
		setup.Setup.SystemInstruction = &live.Content{
			Parts: []live.Part{{Text: cfg.System}},
		}
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "setup", URL: wsURL, Err: err}
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultLiveConnectTimeout))
	var first live.ServerFrame
	if err := readServerFrame(conn, &first); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "setup", URL: wsURL, Err: err}
	}
	_ = conn.SetReadDeadline(time.Time{})
	if first.SetupComplete == nil {
		_ = conn.Close()
		return nil, core.NewAPIError("realtime session setup was not acknowledged")
	}

	session := &Session{
		conn:   conn,
		logger: s.client.logger,
		events: make(chan SessionEvent, 256),
		done:   make(chan struct{}),
	}
	session.state.Store(StateConnecting)
	session.current = Message{Role: RoleModel}

	if cfg.Output != nil {
		session.scheduler = audio.NewScheduler(cfg.Output, s.client.logger)
	}
	if cfg.Source != nil {
		session.capture = audio.NewCaptureEncoder(cfg.Source, s.client.logger)
		if err := session.capture.Start(session.sendChunk); err != nil {
			// Microphone denial fails the session attempt; nothing else was
			// started yet, so no partial teardown is needed.
			_ = conn.Close()
			return nil, err
		}
	}

	session.state.Store(StateOpen)
	s.client.logger.Info("realtime session open", "model", model, "voice", voice)
	return session, nil
}

func readServerFrame(conn *websocket.Conn, frame *live.ServerFrame) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, frame)
}

// State returns the current session state.
func (s *Session) State() SessionState {
	state, _ := s.state.Load().(SessionState)
	return state
}

// Events yields session events in server arrival order.
func (s *Session) Events() <-chan SessionEvent {
	if s == nil {
		return nil
	}
	return s.events
}

// SendAudio sends one encoded capture chunk to the server.
func (s *Session) SendAudio(chunk audio.Chunk) error {
	if s.closed.Load() {
		return core.NewInvalidRequestError("session is closed")
	}
	frame := live.ClientRealtimeInput{
		RealtimeInput: &live.RealtimeInput{
			MediaChunks: []live.Blob{{MIMEType: chunk.MIMEType, Data: chunk.Data}},
		},
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// sendChunk is the capture sink; write failures mid-session are left to the
// read loop to classify.
func (s *Session) sendChunk(chunk audio.Chunk) {
	if err := s.SendAudio(chunk); err != nil && !s.closed.Load() {
		s.logger.Warn("sending capture chunk", "error", err)
	}
}

// Err blocks until the session ends and returns the terminal error, if any.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close tears down capture, playback, and the connection. Idempotent; safe
// to call at any state.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.close(nil)
	return nil
}

func (s *Session) close(terminal error) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.setErr(terminal)
		if terminal != nil {
			s.state.Store(StateError)
		} else {
			s.state.Store(StateClosed)
		}

		if s.capture != nil {
			s.capture.Stop()
		}
		if s.scheduler != nil {
			s.scheduler.Teardown()
		}

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()

		if s.onClosed != nil {
			s.onClosed()
		}
	})
	<-s.done
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Server ended the session cleanly.
				s.state.Store(StateClosed)
				go s.teardownAsync()
				return
			}
			// Transport failure: already delivered transcript and audio stay
			// as-is; the session just stops here.
			s.setErr(&TransportError{Op: "read", Err: err})
			s.state.Store(StateError)
			go s.teardownAsync()
			return
		}

		var frame live.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("dropping malformed server frame", "error", err)
			continue
		}
		if frame.ServerContent == nil {
			continue
		}
		s.handleServerContent(frame.ServerContent)
	}
}

// teardownAsync releases devices after the read loop ends on its own,
// whether cleanly or on a transport error. Runs off the read loop so close()
// can wait on done.
func (s *Session) teardownAsync() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.capture != nil {
			s.capture.Stop()
		}
		if s.scheduler != nil {
			s.scheduler.Teardown()
		}
		_ = s.conn.Close()
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}

func (s *Session) handleServerContent(content *live.ServerContent) {
	if content.Interrupted {
		if s.scheduler != nil {
			s.scheduler.InterruptAll()
		}
		s.emit(InterruptedEvent{})
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData != nil {
				s.scheduleAudio(part.InlineData)
			}
		}
	}

	if t := content.OutputTranscription; t != nil && t.Text != "" {
		s.turnMu.Lock()
		s.current.Text += t.Text
		s.turnMu.Unlock()
		s.emit(TranscriptDeltaEvent{Text: t.Text})
	}

	if content.TurnComplete {
		s.turnMu.Lock()
		final := s.current
		s.current = Message{Role: RoleModel}
		s.turnMu.Unlock()
		s.emit(TurnCompleteEvent{Message: final})
	}
}

// scheduleAudio decodes one inline audio blob and enqueues it for gapless
// playback. Malformed payloads are logged and dropped; they do not tear the
// session down.
func (s *Session) scheduleAudio(blob *live.Blob) {
	raw, err := audio.DecodeBase64(blob.Data)
	if err != nil {
		s.logger.Warn("dropping audio chunk", "error", err)
		return
	}
	buf, err := audio.DecodePCM16(raw, live.OutputSampleRate, 1)
	if err != nil {
		s.logger.Warn("dropping audio chunk", "error", err)
		return
	}
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Enqueue(buf); err != nil {
		s.logger.Warn("scheduling audio chunk", "error", err)
	}
}

func (s *Session) emit(event SessionEvent) {
	select {
	case s.events <- event:
	default:
		// Avoid deadlocking the read loop if the caller stops consuming.
	}
}
