package gemini

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// StreamEvent is an event emitted by an EventStream.
type StreamEvent interface {
	streamEventType() string
}

// TextDeltaEvent carries an incremental text fragment.
type TextDeltaEvent struct {
	Text string
}

func (TextDeltaEvent) streamEventType() string { return "text_delta" }

// CitationEvent carries a grounding source discovered mid-stream.
type CitationEvent struct {
	URI   string
	Title string
}

func (CitationEvent) streamEventType() string { return "citation" }

// DoneEvent is emitted once when the stream completes normally.
type DoneEvent struct {
	FinishReason string
	Usage        Usage
}

func (DoneEvent) streamEventType() string { return "done" }

// EventStream reads server-sent events from a streamGenerateContent response.
type EventStream struct {
	reader   *bufio.Reader
	closer   io.Closer
	err      error
	finished bool
	pending  []StreamEvent

	finishReason string
	usage        Usage
}

// newEventStream creates an event stream from an HTTP response body.
func newEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		reader: bufio.NewReader(body),
		closer: body,
	}
}

// Next returns the next event from the stream.
// Returns nil, io.EOF when the stream is complete.
func (s *EventStream) Next() (StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}

	// Return pending events first
	if len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		return event, nil
	}

	if s.finished {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return s.buildFinalEvent()
			}
			s.err = err
			return nil, err
		}

		line = strings.TrimSpace(line)

		// Skip empty lines
		if line == "" {
			continue
		}

		// Parse SSE format: "data: <json>"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		// Check for stream end markers
		if data == "[DONE]" || data == "" {
			return s.buildFinalEvent()
		}

		var chunk Response
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip unparseable chunks
		}

		// Usage may arrive on any chunk, typically the last
		if chunk.UsageMetadata != nil {
			s.usage = *chunk.UsageMetadata
		}

		if len(chunk.Candidates) == 0 {
			continue
		}

		candidate := chunk.Candidates[0]

		if candidate.FinishReason != "" {
			s.finishReason = candidate.FinishReason
		}

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				s.pending = append(s.pending, TextDeltaEvent{Text: part.Text})
			}
		}

		// Grounding sources can repeat across chunks; callers dedup by URI.
		if gm := candidate.GroundingMetadata; gm != nil {
			for _, gc := range gm.GroundingChunks {
				if gc.Web != nil && gc.Web.URI != "" {
					s.pending = append(s.pending, CitationEvent{
						URI:   gc.Web.URI,
						Title: gc.Web.Title,
					})
				}
			}
		}

		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			return event, nil
		}
	}
}

// buildFinalEvent emits the terminal DoneEvent; the next call returns EOF.
func (s *EventStream) buildFinalEvent() (StreamEvent, error) {
	if s.finished {
		return nil, io.EOF
	}
	s.finished = true
	return DoneEvent{
		FinishReason: s.finishReason,
		Usage:        s.usage,
	}, nil
}

// Close releases resources associated with the stream.
func (s *EventStream) Close() error {
	return s.closer.Close()
}
