package audio

import (
	"sync"
	"testing"
)

// Stop is called from session goroutines while the device thread is inside
// render; the two must not race on the voice's stopped flag.
func TestSpeakerVoiceStopDuringRender(t *testing.T) {
	out := &SpeakerOutput{sampleRate: 24000}
	buf := &Buffer{Channels: [][]float32{make([]float32, 24000)}, SampleRate: 24000}
	v, err := out.Start(buf, 0, nil)
	if err != nil {
		t.Fatalf("start voice: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		block := make([]float32, 256)
		for i := 0; i < 50; i++ {
			out.render(block)
		}
	}()
	v.Stop()
	wg.Wait()

	// One more render observes the stop and retires the voice.
	out.render(make([]float32, 256))

	out.mu.Lock()
	active := len(out.voices)
	out.mu.Unlock()
	if active != 0 {
		t.Fatalf("stopped voice still active, %d voices remain", active)
	}
}
