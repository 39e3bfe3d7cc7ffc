package audio

import (
	"log/slog"
	"sync"
)

// Voice is a handle to one buffer scheduled on an output device.
type Voice interface {
	// Stop halts playback immediately. Stopping a finished voice is a no-op.
	Stop()
}

// Output abstracts an audio output device with a sample clock. Implementations
// report time in seconds on a monotonic device clock and fire onEnded once a
// started buffer finishes or is stopped.
type Output interface {
	// Now returns the current device clock time in seconds.
	Now() float64
	// Resume wakes the device if the platform suspended it.
	Resume() error
	// Start schedules buf to begin at device time when. onEnded must be
	// invoked asynchronously, never from within Start itself: the scheduler
	// calls Start while holding the lock the callback re-takes.
	Start(buf *Buffer, when float64, onEnded func()) (Voice, error)
	// Close releases the device.
	Close() error
}

// OutputFactory opens an output device. Called at most once per Scheduler
// lifetime; the device handle is reused across enqueues.
type OutputFactory func() (Output, error)

// Scheduler plays decoded buffers back-to-back without gaps. Each buffer's
// start is anchored to the previous buffer's computed end rather than to its
// arrival time, so chunks that stream in faster than real time still play
// contiguously.
type Scheduler struct {
	newOutput OutputFactory
	logger    *slog.Logger

	mu        sync.Mutex
	output    Output
	nextStart float64
	inflight  map[Voice]struct{}
	torndown  bool
}

// NewScheduler creates a playback scheduler. The output device is opened
// lazily on the first Enqueue.
func NewScheduler(newOutput OutputFactory, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		newOutput: newOutput,
		logger:    logger,
		inflight:  make(map[Voice]struct{}),
	}
}

// Enqueue schedules buf to start at the later of the playback cursor and the
// current device time, then advances the cursor by the buffer's duration.
func (s *Scheduler) Enqueue(buf *Buffer) error {
	if buf == nil || buf.Seconds() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.torndown {
		return nil
	}
	if err := s.ensureOutputLocked(); err != nil {
		return err
	}

	start := s.nextStart
	if now := s.output.Now(); now > start {
		start = now
	}

	var voice Voice
	done := func() {
		s.mu.Lock()
		delete(s.inflight, voice)
		s.mu.Unlock()
	}
	voice, err := s.output.Start(buf, start, done)
	if err != nil {
		return err
	}
	s.inflight[voice] = struct{}{}
	s.nextStart = start + buf.Seconds()
	s.logger.Debug("scheduled playback", "start", start, "duration", buf.Duration())
	return nil
}

// InterruptAll stops every in-flight buffer and resets the playback cursor,
// so the next enqueue starts at "now" rather than a stale future time. Safe
// to call when nothing is playing.
func (s *Scheduler) InterruptAll() {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.inflight))
	for v := range s.inflight {
		voices = append(voices, v)
	}
	s.inflight = make(map[Voice]struct{})
	s.nextStart = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
}

// Teardown stops all playback and releases the output device. Idempotent.
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return
	}
	s.torndown = true
	voices := make([]Voice, 0, len(s.inflight))
	for v := range s.inflight {
		voices = append(voices, v)
	}
	s.inflight = make(map[Voice]struct{})
	s.nextStart = 0
	output := s.output
	s.output = nil
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if output != nil {
		if err := output.Close(); err != nil {
			s.logger.Warn("closing audio output", "error", err)
		}
	}
}

func (s *Scheduler) ensureOutputLocked() error {
	if s.output != nil {
		return s.output.Resume()
	}
	output, err := s.newOutput()
	if err != nil {
		return err
	}
	if err := output.Resume(); err != nil {
		_ = output.Close()
		return err
	}
	s.output = output
	return nil
}
