package video

import (
	"io"
	"sync"
)

// StubSource replays a fixed sequence of frames at a declared FPS. Used by
// session and analyzer tests in place of a live decode pipe.
type StubSource struct {
	mu      sync.Mutex
	frames  []Frame
	fps     float64
	idx     int
	skipped int
	closed  bool
	// Loop replays the frame sequence forever, mimicking a live stream.
	Loop bool
}

// NewStubSource creates a stub source over the given frames.
func NewStubSource(fps float64, frames ...Frame) *StubSource {
	return &StubSource{frames: frames, fps: fps}
}

// Next returns the next frame, or io.EOF when exhausted and not looping.
func (s *StubSource) Next() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.frames) {
		if s.Loop && len(s.frames) > 0 {
			s.idx = 0
		} else {
			return Frame{}, io.EOF
		}
	}
	f := s.frames[s.idx]
	s.idx++
	return f, nil
}

// Skip advances past one frame without returning it.
func (s *StubSource) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.frames) {
		if !s.Loop || len(s.frames) == 0 {
			return io.EOF
		}
		s.idx = 0
	}
	s.idx++
	s.skipped++
	return nil
}

// FPS returns the declared frame rate.
func (s *StubSource) FPS() float64 { return s.fps }

// Close marks the source closed.
func (s *StubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *StubSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SkippedFrames reports how many frames were skipped without decode.
func (s *StubSource) SkippedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// StubOpener maps source strings to stub sources.
type StubOpener struct {
	mu      sync.Mutex
	Sources map[string]*StubSource
	// Err, when set, is returned for any source not in Sources.
	Err error

	opened []string
}

// Open returns the stub source registered for the given name.
func (o *StubOpener) Open(source string) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, source)
	if src, ok := o.Sources[source]; ok {
		return src, nil
	}
	if o.Err != nil {
		return nil, o.Err
	}
	return nil, ErrSourceUnavailable
}

// Opened returns the sources passed to Open, in order.
func (o *StubOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.opened))
	copy(out, o.opened)
	return out
}
