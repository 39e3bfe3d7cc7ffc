package audio

import (
	"log/slog"
	"sync"
)

// Capture format fixed by the realtime wire protocol.
const (
	CaptureSampleRate = 16000
	CaptureWindowSize = 4096
	CaptureMIMEType   = "audio/pcm;rate=16000"
)

// Chunk is one encoded capture window ready for the wire.
type Chunk struct {
	MIMEType string
	Data     string // base64 PCM16
}

// Sink receives encoded capture chunks. Supplied by the owning session.
type Sink func(Chunk)

// Source abstracts a microphone input device. Open is permission-gated and
// must be treated as always-possibly-failing.
type Source interface {
	// Open acquires the device at the given sample rate and window size.
	Open(sampleRate, windowSize int) error
	// Read blocks until it fills window with normalized float samples.
	Read(window []float32) error
	// Close releases the device.
	Close() error
}

// CaptureEncoder reads fixed-size windows from a microphone source, encodes
// them as base64 PCM16, and forwards each chunk to the active sink.
type CaptureEncoder struct {
	source Source
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCaptureEncoder creates a capture encoder over the given source.
func NewCaptureEncoder(source Source, logger *slog.Logger) *CaptureEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureEncoder{source: source, logger: logger}
}

// Start acquires the microphone and begins forwarding encoded windows to
// sink. A permission denial from the source surfaces as-is and leaves the
// encoder stopped; no other state is touched.
func (c *CaptureEncoder) Start(sink Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if err := c.source.Open(CaptureSampleRate, CaptureWindowSize); err != nil {
		return err
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.captureLoop(sink, c.stop, c.done)
	return nil
}

// Stop releases the microphone and waits for the capture loop to exit.
// Idempotent; safe to call before Start.
func (c *CaptureEncoder) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	// Closing the device unblocks a Read in progress.
	if err := c.source.Close(); err != nil {
		c.logger.Warn("closing capture source", "error", err)
	}
	<-done
}

func (c *CaptureEncoder) captureLoop(sink Sink, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	window := make([]float32, CaptureWindowSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := c.source.Read(window); err != nil {
			select {
			case <-stop:
			default:
				c.logger.Warn("reading capture window", "error", err)
			}
			return
		}
		sink(Chunk{
			MIMEType: CaptureMIMEType,
			Data:     EncodeBase64(EncodePCM16(window)),
		})
	}
}
