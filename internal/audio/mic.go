package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

const frameMillis = 20

const (
	// SampleRate is the capture and playback rate in Hz (G.711 narrowband).
	SampleRate = 8000
	// FrameDuration is the length of one captured frame.
	FrameDuration = frameMillis * time.Millisecond
	// FrameBytes is one frame of mono s16le PCM.
	FrameBytes = SampleRate / 1000 * frameMillis * 2
)

// CaptureStream is a running microphone capture.
type CaptureStream interface {
	Chunks() <-chan []byte
	Device() Device
	Stop() error
}

// FrameSink receives enabled microphone frames, typically an outbound track.
type FrameSink interface {
	WriteFrame(pcm []byte) error
}

// MicStream is the session's shared microphone handle.
//
// Frames always feed the level meter. They reach the attached FrameSink only
// while the stream is enabled.
type MicStream struct {
	capture CaptureStream
	meter   *Meter
	enabled atomic.Bool

	mu   sync.Mutex
	sink FrameSink

	done     chan struct{}
	stopOnce sync.Once
}

func newMicStream(capture CaptureStream) *MicStream {
	m := &MicStream{
		capture: capture,
		meter:   NewMeter(),
		done:    make(chan struct{}),
	}
	go m.pump()
	return m
}

func (m *MicStream) pump() {
	defer close(m.done)
	for chunk := range m.capture.Chunks() {
		m.meter.Observe(chunk)
		if !m.enabled.Load() {
			continue
		}
		m.mu.Lock()
		sink := m.sink
		m.mu.Unlock()
		if sink != nil {
			_ = sink.WriteFrame(chunk)
		}
	}
}

// Device returns the capture device.
func (m *MicStream) Device() Device {
	return m.capture.Device()
}

// Enabled reports whether frames currently reach the outbound sink.
func (m *MicStream) Enabled() bool {
	return m.enabled.Load()
}

// SetEnabled toggles outbound delivery. Only the push-to-talk gate and session
// teardown call it.
func (m *MicStream) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// Attach routes enabled frames to sink, replacing any previous sink.
func (m *MicStream) Attach(sink FrameSink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Detach removes sink if it is still the attached one.
func (m *MicStream) Detach(sink FrameSink) {
	m.mu.Lock()
	if m.sink == sink {
		m.sink = nil
	}
	m.mu.Unlock()
}

// Meter returns the read-only level tap.
func (m *MicStream) Meter() *Meter {
	return m.meter
}

// stop ends the capture. It is reserved for Pipeline.Release.
func (m *MicStream) stop() {
	m.stopOnce.Do(func() {
		m.enabled.Store(false)
		_ = m.capture.Stop()
		<-m.done
		m.mu.Lock()
		m.sink = nil
		m.mu.Unlock()
	})
}
