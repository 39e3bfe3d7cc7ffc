package atlas

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hellohealthy/atlas/pkg/audio"
	"github.com/hellohealthy/atlas/pkg/core/live"
)

func newLiveWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// ackSetup reads the client setup frame and acknowledges it.
func ackSetup(t *testing.T, conn *websocket.Conn) live.ClientSetup {
	t.Helper()
	var setup live.ClientSetup
	if err := conn.ReadJSON(&setup); err != nil {
		t.Errorf("read setup: %v", err)
		return setup
	}
	_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
	return setup
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
}

func serverContentFrame(content map[string]any) map[string]any {
	return map[string]any{"serverContent": content}
}

// stubOutput records scheduled voices against a fixed clock.
type stubOutput struct {
	mu     sync.Mutex
	now    float64
	voices []*stubVoice
	closed bool
}

type stubVoice struct {
	start   float64
	stopped bool
	onEnded func()
}

func (v *stubVoice) Stop() { v.stopped = true }

func (o *stubOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}
func (o *stubOutput) Resume() error { return nil }
func (o *stubOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
func (o *stubOutput) Start(buf *audio.Buffer, when float64, onEnded func()) (audio.Voice, error) {
	v := &stubVoice{start: when, onEnded: onEnded}
	o.mu.Lock()
	o.voices = append(o.voices, v)
	o.mu.Unlock()
	return v, nil
}

// stubSource opens instantly and blocks in Read until closed.
type stubSource struct {
	mu      sync.Mutex
	release chan struct{}
	closed  bool
}

func (s *stubSource) Open(sampleRate, windowSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = make(chan struct{})
	return nil
}

func (s *stubSource) Read(window []float32) error {
	s.mu.Lock()
	release := s.release
	s.mu.Unlock()
	<-release
	return context.Canceled
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.release != nil {
		close(s.release)
	}
	s.closed = true
	return nil
}

func (s *stubSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func pcmBlob(seconds float64) string {
	samples := make([]float32, int(seconds*live.OutputSampleRate))
	return audio.EncodeBase64(audio.EncodePCM16(samples))
}

func TestSessionTranscriptOrderingAndTurnComplete(t *testing.T) {
	t.Parallel()

	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		setup := ackSetup(t, conn)
		if setup.Setup == nil || setup.Setup.Model != "models/"+DefaultLiveModel {
			t.Errorf("setup model = %+v, want models/%s", setup.Setup, DefaultLiveModel)
		}

		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"outputTranscription": map[string]any{"text": "Hello "},
		}))
		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"outputTranscription": map[string]any{"text": "there"},
		}))
		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"turnComplete": true,
		}))
		closeNormally(conn)
	})

	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))
	session, err := client.Live.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	var deltas []string
	var turns []Message
	for event := range session.Events() {
		switch e := event.(type) {
		case TranscriptDeltaEvent:
			deltas = append(deltas, e.Text)
		case TurnCompleteEvent:
			turns = append(turns, e.Message)
		}
	}
	if err := session.Err(); err != nil {
		t.Fatalf("session error: %v", err)
	}

	if len(deltas) != 2 || deltas[0] != "Hello " || deltas[1] != "there" {
		t.Fatalf("deltas = %v, want strict arrival order [Hello , there]", deltas)
	}
	if len(turns) != 1 || turns[0].Text != "Hello there" || turns[0].Role != RoleModel {
		t.Fatalf("turns = %+v, want one finalized model message", turns)
	}
}

func TestSessionInterruptFlushesPlayback(t *testing.T) {
	t.Parallel()

	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		ackSetup(t, conn)

		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{{
					"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcmBlob(1)},
				}},
			},
		}))
		_ = conn.WriteJSON(serverContentFrame(map[string]any{"interrupted": true}))
		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{{
					"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcmBlob(1)},
				}},
			},
		}))
		closeNormally(conn)
	})

	output := &stubOutput{now: 0.4}
	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))
	session, err := client.Live.Connect(context.Background(), &SessionConfig{
		Output: func() (audio.Output, error) { return output, nil },
	})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	var interrupts int
	for event := range session.Events() {
		if _, ok := event.(InterruptedEvent); ok {
			interrupts++
		}
	}
	if interrupts != 1 {
		t.Fatalf("interrupt events = %d, want 1", interrupts)
	}

	output.mu.Lock()
	defer output.mu.Unlock()
	if len(output.voices) != 2 {
		t.Fatalf("scheduled %d voices, want 2", len(output.voices))
	}
	if !output.voices[0].stopped {
		t.Fatalf("first voice not stopped on interrupt")
	}
	// Post-interrupt audio anchors to the device clock, not the old cursor.
	if got := output.voices[1].start; got != 0.4 {
		t.Fatalf("post-interrupt start = %v, want 0.4", got)
	}
}

func TestSessionMalformedAudioChunkDropped(t *testing.T) {
	t.Parallel()

	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		ackSetup(t, conn)

		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{{
					"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "!!not-base64!!"},
				}},
			},
		}))
		// Session survives the bad chunk and keeps delivering.
		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"outputTranscription": map[string]any{"text": "still alive"},
		}))
		closeNormally(conn)
	})

	output := &stubOutput{}
	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))
	session, err := client.Live.Connect(context.Background(), &SessionConfig{
		Output: func() (audio.Output, error) { return output, nil },
	})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	var deltas []string
	for event := range session.Events() {
		if d, ok := event.(TranscriptDeltaEvent); ok {
			deltas = append(deltas, d.Text)
		}
	}
	if err := session.Err(); err != nil {
		t.Fatalf("session error: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != "still alive" {
		t.Fatalf("deltas = %v, want [still alive]", deltas)
	}
	output.mu.Lock()
	defer output.mu.Unlock()
	if len(output.voices) != 0 {
		t.Fatalf("malformed chunk was scheduled")
	}
}

func TestSessionTransportFailureKeepsDeliveredTranscript(t *testing.T) {
	t.Parallel()

	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		ackSetup(t, conn)
		_ = conn.WriteJSON(serverContentFrame(map[string]any{
			"outputTranscription": map[string]any{"text": "partial "},
		}))
		// Drop the connection without a close frame.
		_ = conn.UnderlyingConn().Close()
	})

	source := &stubSource{}
	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))
	session, err := client.Live.Connect(context.Background(), &SessionConfig{Source: source})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	var deltas []string
	for event := range session.Events() {
		if d, ok := event.(TranscriptDeltaEvent); ok {
			deltas = append(deltas, d.Text)
		}
	}

	if len(deltas) != 1 || deltas[0] != "partial " {
		t.Fatalf("deltas = %v, want the delivered partial transcript", deltas)
	}
	if session.State() != StateError {
		t.Fatalf("state = %v, want error", session.State())
	}
	sessionErr := session.Err()
	var transportErr *TransportError
	if !errors.As(sessionErr, &transportErr) {
		t.Fatalf("error = %v, want TransportError", sessionErr)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close after failure error: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if !source.isClosed() {
		t.Fatalf("failure did not release the microphone source")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	t.Parallel()

	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		ackSetup(t, conn)
		// Hold the connection open until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	source := &stubSource{}
	output := &stubOutput{}
	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))
	session, err := client.Live.Connect(context.Background(), &SessionConfig{
		Source: source,
		Output: func() (audio.Output, error) { return output, nil },
	})
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if session.State() != StateOpen {
		t.Fatalf("state = %v, want open", session.State())
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if session.State() != StateClosed {
		t.Fatalf("state = %v, want closed", session.State())
	}
	if !source.isClosed() {
		t.Fatalf("Close did not release the microphone source")
	}
	if err := session.Err(); err != nil {
		t.Fatalf("clean close reported error: %v", err)
	}
}

func TestConnectTearsDownPreviousSession(t *testing.T) {
	t.Parallel()

	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		ackSetup(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	first := &stubSource{}
	second := &stubSource{}
	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))

	s1, err := client.Live.Connect(context.Background(), &SessionConfig{Source: first})
	if err != nil {
		t.Fatalf("first Connect error: %v", err)
	}
	s2, err := client.Live.Connect(context.Background(), &SessionConfig{Source: second})
	if err != nil {
		t.Fatalf("second Connect error: %v", err)
	}
	defer s2.Close()

	if s1.State() != StateClosed {
		t.Fatalf("first session state = %v, want closed", s1.State())
	}
	if !first.isClosed() {
		t.Fatalf("first session microphone still held")
	}
	if second.isClosed() {
		t.Fatalf("second session microphone should still be open")
	}
	if s2.State() != StateOpen {
		t.Fatalf("second session state = %v, want open", s2.State())
	}
}

func TestSessionPermissionDeniedLeavesNothingHeld(t *testing.T) {
	t.Parallel()

	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		ackSetup(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	denied := &deniedSource{}
	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))
	_, err := client.Live.Connect(context.Background(), &SessionConfig{Source: denied})
	if err == nil {
		t.Fatalf("expected permission error")
	}
	if !IsPermission(err) {
		t.Fatalf("error = %v, want permission classification", err)
	}

	// The failed attempt holds no session slot; a retry connects cleanly.
	retry := &stubSource{}
	session, err := client.Live.Connect(context.Background(), &SessionConfig{Source: retry})
	if err != nil {
		t.Fatalf("retry Connect error: %v", err)
	}
	defer session.Close()
}

type deniedSource struct{}

func (deniedSource) Open(int, int) error {
	return NewPermissionError("microphone denied", nil)
}
func (deniedSource) Read([]float32) error { return context.Canceled }
func (deniedSource) Close() error         { return nil }

func TestSessionSendAudioFrameFormat(t *testing.T) {
	t.Parallel()

	frames := make(chan live.ClientRealtimeInput, 1)
	wsURL := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		ackSetup(t, conn)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame live.ClientRealtimeInput
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Errorf("decode realtime frame: %v", err)
			return
		}
		frames <- frame
		closeNormally(conn)
	})

	client := NewClient(WithAPIKey("test-key"), WithLiveEndpoint(wsURL))
	session, err := client.Live.Connect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer session.Close()

	chunk := audio.Chunk{MIMEType: audio.CaptureMIMEType, Data: pcmBlob(0.1)}
	if err := session.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio error: %v", err)
	}

	select {
	case frame := <-frames:
		if frame.RealtimeInput == nil || len(frame.RealtimeInput.MediaChunks) != 1 {
			t.Fatalf("frame = %+v, want one media chunk", frame)
		}
		blob := frame.RealtimeInput.MediaChunks[0]
		if blob.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("mime = %q, want audio/pcm;rate=16000", blob.MIMEType)
		}
		if blob.Data != chunk.Data {
			t.Fatalf("payload mismatch")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the audio frame")
	}
}
