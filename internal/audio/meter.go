package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

const waveformPoints = 32

// Analyser is a read-only view of an audio signal for visualizers.
type Analyser interface {
	// Level is the RMS of the most recent frame in [0, 1].
	Level() float64
	// Waveform returns recent frame levels, oldest first.
	Waveform() []float64
}

// Meter tracks frame levels of a PCM stream.
type Meter struct {
	mu    sync.Mutex
	level float64
	ring  [waveformPoints]float64
	next  int
	count int
}

func NewMeter() *Meter {
	return &Meter{}
}

// Observe records one s16le PCM frame.
func (m *Meter) Observe(pcm []byte) {
	level := rms(pcm)
	m.mu.Lock()
	m.level = level
	m.ring[m.next] = level
	m.next = (m.next + 1) % waveformPoints
	if m.count < waveformPoints {
		m.count++
	}
	m.mu.Unlock()
}

func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Meter) Waveform() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, 0, m.count)
	start := (m.next - m.count + waveformPoints) % waveformPoints
	for i := 0; i < m.count; i++ {
		out = append(out, m.ring[(start+i)%waveformPoints])
	}
	return out
}

func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
