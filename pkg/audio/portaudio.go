package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/hellohealthy/atlas/pkg/core"
)

// MicSource captures from the default input device via PortAudio.
type MicSource struct {
	stream *portaudio.Stream
	buf    []float32
}

// NewMicSource creates an unopened microphone source.
func NewMicSource() *MicSource {
	return &MicSource{}
}

// Open initializes PortAudio and opens the default input stream. Device
// acquisition failures surface as permission errors since the common cause
// is a denied or missing input device.
func (m *MicSource) Open(sampleRate, windowSize int) error {
	if err := portaudio.Initialize(); err != nil {
		return core.NewPermissionError("portaudio init failed", err)
	}
	m.buf = make([]float32, windowSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), windowSize, m.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return core.NewPermissionError("microphone unavailable", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return core.NewPermissionError("microphone start failed", err)
	}
	m.stream = stream
	return nil
}

// Read blocks until one window of samples is captured.
func (m *MicSource) Read(window []float32) error {
	if m.stream == nil {
		return fmt.Errorf("mic source is not open")
	}
	if err := m.stream.Read(); err != nil {
		return fmt.Errorf("read mic: %w", err)
	}
	copy(window, m.buf)
	return nil
}

// Close releases the stream and terminates PortAudio.
func (m *MicSource) Close() error {
	if m.stream == nil {
		return nil
	}
	_ = m.stream.Stop()
	err := m.stream.Close()
	m.stream = nil
	_ = portaudio.Terminate()
	return err
}

// SpeakerOutput renders scheduled buffers to the default output device. Time
// is counted in rendered frames, which gives the scheduler a sample-accurate
// clock independent of wall time.
type SpeakerOutput struct {
	sampleRate int

	mu     sync.Mutex
	stream *portaudio.Stream
	frames int64
	voices []*speakerVoice
}

type speakerVoice struct {
	samples    []float32
	startFrame int64
	pos        int
	stopped    atomic.Bool
	onEnded    func()
}

// Stop halts the voice at the next render callback. It may be called from any
// goroutine while the render callback is running.
func (v *speakerVoice) Stop() {
	v.stopped.Store(true)
}

// NewSpeakerOutput initializes PortAudio and opens the default output stream
// at the given sample rate (mono).
func NewSpeakerOutput(sampleRate int) (*SpeakerOutput, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, core.NewPermissionError("portaudio init failed", err)
	}
	out := &SpeakerOutput{sampleRate: sampleRate}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), 0, out.render)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, core.NewPermissionError("speaker unavailable", err)
	}
	out.stream = stream
	return out, nil
}

// SpeakerOutputFactory returns an OutputFactory opening the default speaker
// at the given sample rate.
func SpeakerOutputFactory(sampleRate int) OutputFactory {
	return func() (Output, error) {
		return NewSpeakerOutput(sampleRate)
	}
}

// Now returns the device clock in seconds of rendered audio.
func (o *SpeakerOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return float64(o.frames) / float64(o.sampleRate)
}

// Resume starts the stream if it is not already running.
func (o *SpeakerOutput) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return fmt.Errorf("speaker output is closed")
	}
	if err := o.stream.Start(); err != nil {
		// Already-started streams report an error; the device keeps running.
		if err != portaudio.StreamIsNotStopped {
			return fmt.Errorf("start speaker: %w", err)
		}
	}
	return nil
}

// Start schedules buf to begin at device time when. Only the first channel
// of multi-channel buffers is rendered; realtime output is mono.
func (o *SpeakerOutput) Start(buf *Buffer, when float64, onEnded func()) (Voice, error) {
	if buf == nil || len(buf.Channels) == 0 {
		return nil, core.NewFormatError("cannot schedule an empty buffer")
	}
	v := &speakerVoice{
		samples:    buf.Channels[0],
		startFrame: int64(when * float64(o.sampleRate)),
		onEnded:    onEnded,
	}
	o.mu.Lock()
	o.voices = append(o.voices, v)
	o.mu.Unlock()
	return v, nil
}

// Close stops the stream and terminates PortAudio.
func (o *SpeakerOutput) Close() error {
	o.mu.Lock()
	stream := o.stream
	o.stream = nil
	o.voices = nil
	o.mu.Unlock()
	if stream == nil {
		return nil
	}
	_ = stream.Stop()
	err := stream.Close()
	_ = portaudio.Terminate()
	return err
}

// render is the PortAudio callback mixing active voices into out.
func (o *SpeakerOutput) render(out []float32) {
	o.mu.Lock()
	base := o.frames
	o.frames += int64(len(out))

	var ended []func()
	for i := range out {
		out[i] = 0
	}
	remaining := o.voices[:0]
	for _, v := range o.voices {
		if v.stopped.Load() {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		for i := range out {
			frame := base + int64(i)
			if frame < v.startFrame {
				continue
			}
			if v.pos >= len(v.samples) {
				break
			}
			out[i] += v.samples[v.pos]
			v.pos++
		}
		if v.pos >= len(v.samples) {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		remaining = append(remaining, v)
	}
	o.voices = remaining
	o.mu.Unlock()

	// Completion callbacks take the scheduler lock; run them off the render
	// path's own lock.
	for _, fn := range ended {
		go fn()
	}
}
