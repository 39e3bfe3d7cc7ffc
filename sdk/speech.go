package atlas

import (
	"context"

	"github.com/hellohealthy/atlas/pkg/audio"
	"github.com/hellohealthy/atlas/pkg/core"
	"github.com/hellohealthy/atlas/pkg/core/gemini"
	"github.com/hellohealthy/atlas/pkg/core/live"
)

// DefaultSpeechModel is used when SpeechRequest.Model is empty.
const DefaultSpeechModel = "gemini-2.5-flash-preview-tts"

// SpeechService synthesizes speech from text.
type SpeechService struct {
	client *Client
}

// SpeechRequest configures one synthesis call.
type SpeechRequest struct {
	Text  string
	Voice string
	Model string
}

// Synthesize renders text as 24 kHz mono PCM.
func (s *SpeechService) Synthesize(ctx context.Context, req *SpeechRequest) (*audio.Buffer, error) {
	if req == nil || req.Text == "" {
		return nil, core.NewInvalidRequestError("text must not be empty")
	}

	ctx, span := s.client.startSpan(ctx, "atlas.speech.synthesize")

	provider, err := s.client.provider(ctx)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = DefaultSpeechModel
	}
	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	resp, err := provider.GenerateContent(ctx, model, &gemini.Request{
		Contents: []gemini.Content{{
			Role:  string(RoleUser),
			Parts: []gemini.Part{{Text: req.Text}},
		}},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &gemini.SpeechConfig{
				VoiceConfig: &gemini.VoiceConfig{
					PrebuiltVoiceConfig: &gemini.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	})
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	inline := resp.InlineData()
	if inline == nil {
		err := core.NewAPIError("synthesis response contained no audio")
		endSpan(span, err)
		return nil, err
	}
	raw, err := audio.DecodeBase64(inline.Data)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	buf, err := audio.DecodePCM16(raw, live.OutputSampleRate, 1)
	endSpan(span, err)
	return buf, err
}
