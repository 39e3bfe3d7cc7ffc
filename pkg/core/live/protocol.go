// Package live defines the BidiGenerateContent websocket frame formats.
package live

// DefaultEndpoint is the BidiGenerateContent websocket endpoint. The API key
// is appended as a query parameter when dialing.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Audio formats fixed by the realtime protocol.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	InputMIMEType    = "audio/pcm;rate=16000"
)

// ClientSetup is the first frame sent after the websocket opens.
type ClientSetup struct {
	Setup *Setup `json:"setup"`
}

// Setup configures the realtime session.
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

// GenerationConfig mirrors the subset of generation options the realtime
// protocol accepts.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig selects the output voice.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// VoiceConfig wraps a prebuilt voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// PrebuiltVoiceConfig names a prebuilt voice.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one element of a content payload.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob carries base64-encoded media.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ClientRealtimeInput streams captured media to the server.
type ClientRealtimeInput struct {
	RealtimeInput *RealtimeInput `json:"realtimeInput"`
}

// RealtimeInput is a batch of media chunks.
type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

// ServerFrame is the envelope for every server-to-client message.
type ServerFrame struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

// ServerContent carries one increment of the model's turn.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

// Transcription is the text rendering of model audio output.
type Transcription struct {
	Text string `json:"text"`
}
