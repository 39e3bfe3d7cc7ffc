package atlas

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/hellohealthy/atlas/pkg/core"
	"github.com/hellohealthy/atlas/pkg/core/gemini"
)

// DefaultChatModel is used when ChatRequest.Model is empty.
const DefaultChatModel = "gemini-3-pro-preview"

// ChatService provides half-duplex streaming chat with grounded citations.
type ChatService struct {
	client *Client
}

// ChatRequest configures one streaming generation call. Messages carries the
// full prior history plus the new user turn.
type ChatRequest struct {
	Messages []Message
	System   string
	Model    string
}

// ChatEvent is an incremental event emitted by ChatStream.Events().
type ChatEvent interface {
	chatEventType() string
}

// ChatTextDeltaEvent carries a text fragment, already appended to the
// accumulating message.
type ChatTextDeltaEvent struct {
	Text string
}

func (ChatTextDeltaEvent) chatEventType() string { return "text_delta" }

// ChatCitationEvent carries a newly seen grounding citation. Duplicate URIs
// within one stream are suppressed; the first-seen title wins.
type ChatCitationEvent struct {
	Citation Citation
}

func (ChatCitationEvent) chatEventType() string { return "citation" }

// ChatStreamEndEvent carries the finalized message.
type ChatStreamEndEvent struct {
	Message Message
}

func (ChatStreamEndEvent) chatEventType() string { return "stream_end" }

// ChatStream is one outstanding streaming chat call.
type ChatStream struct {
	events chan ChatEvent
	done   chan struct{}
	closed chan struct{}

	closeOnce sync.Once
	stream    *gemini.EventStream

	mu  sync.Mutex
	msg Message
	err error
}

// Stream submits history and returns an incremental event stream. Text
// deltas are applied in arrival order; a transport failure mid-stream
// preserves whatever was accumulated (see Message) alongside the error.
func (s *ChatService) Stream(ctx context.Context, req *ChatRequest) (*ChatStream, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("req must not be nil")
	}
	if len(req.Messages) == 0 {
		return nil, core.NewInvalidRequestError("chat history must not be empty")
	}

	ctx, span := s.client.startSpan(ctx, "atlas.chat.stream")

	provider, err := s.client.provider(ctx)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = DefaultChatModel
	}

	wireReq := buildChatRequest(req)
	eventStream, err := provider.StreamGenerateContent(ctx, model, wireReq)
	if err != nil {
		var coreErr *core.Error
		if !errors.As(err, &coreErr) {
			err = &TransportError{Op: http.MethodPost, URL: s.client.baseURL, Err: err}
		}
		endSpan(span, err)
		return nil, err
	}

	stream := &ChatStream{
		events: make(chan ChatEvent, 64),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		stream: eventStream,
		msg:    Message{Role: RoleModel},
	}
	go stream.readLoop(s.client, span)
	return stream, nil
}

func buildChatRequest(req *ChatRequest) *gemini.Request {
	contents := make([]gemini.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, gemini.Content{
			Role:  string(m.Role),
			Parts: []gemini.Part{{Text: m.Text}},
		})
	}

	wireReq := &gemini.Request{
		Contents: contents,
		Tools:    []gemini.Tool{{GoogleSearch: &gemini.GoogleSearch{}}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:     gemini.Float64(1),
			TopP:            gemini.Float64(0.95),
			MaxOutputTokens: gemini.Int(65535),
			ThinkingConfig:  &gemini.ThinkingConfig{ThinkingBudget: gemini.Int(32768)},
		},
	}
	if req.System != "" {
		wireReq.SystemInstruction = &gemini.Content{
			Parts: []gemini.Part{{Text: req.System}},
		}
	}
	return wireReq
}

func (s *ChatStream) readLoop(client *Client, span trace.Span) {
	defer close(s.done)
	defer close(s.events)
	defer s.stream.Close()

	for {
		event, err := s.stream.Next()
		if err != nil {
			if err == io.EOF {
				endSpan(span, nil)
				return
			}
			// Mid-stream failure: keep the accumulated partial message and
			// surface the error; no silent retry.
			s.setErr(&TransportError{Op: "stream", Err: err})
			endSpan(span, err)
			return
		}

		switch e := event.(type) {
		case gemini.TextDeltaEvent:
			s.mu.Lock()
			s.msg.Text += e.Text
			s.mu.Unlock()
			s.emit(ChatTextDeltaEvent{Text: e.Text})
		case gemini.CitationEvent:
			citation := Citation{URI: e.URI, Title: e.Title}
			s.mu.Lock()
			added := s.msg.AddCitation(citation)
			s.mu.Unlock()
			if added {
				s.emit(ChatCitationEvent{Citation: citation})
			}
		case gemini.DoneEvent:
			s.mu.Lock()
			final := s.msg
			s.mu.Unlock()
			s.emit(ChatStreamEndEvent{Message: final})
		default:
			client.logger.Debug("unhandled chat stream event", "type", event)
		}
	}
}

func (s *ChatStream) emit(event ChatEvent) {
	select {
	case s.events <- event:
	case <-s.closed:
	}
}

func (s *ChatStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Events yields incremental chat events. The channel closes when the stream
// ends or fails.
func (s *ChatStream) Events() <-chan ChatEvent {
	return s.events
}

// Message blocks until the stream ends and returns the accumulated message.
// On a mid-stream failure this is the preserved partial output.
func (s *ChatStream) Message() Message {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msg
}

// Err blocks until the stream ends and returns the terminal error, if any.
func (s *ChatStream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream. Safe to call more than once.
func (s *ChatStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.stream.Close()
	})
	<-s.done
	return nil
}
