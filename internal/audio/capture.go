package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// PulseSource opens the configured Pulse input for a session.
type PulseSource struct {
	Input    string
	Fallback string
	Logger   *slog.Logger
}

// Open selects a device and starts capturing from it.
func (s PulseSource) Open(ctx context.Context) (CaptureStream, error) {
	selection, err := SelectDevice(ctx, s.Input, s.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && s.Logger != nil {
		s.Logger.Warn(selection.Warning, "device", selection.Device.ID)
	}
	return StartCapture(selection.Device)
}

// framer regroups arbitrary PCM writes into FrameBytes slices.
type framer struct {
	pending []byte
}

func (f *framer) push(pcm []byte) [][]byte {
	f.pending = append(f.pending, pcm...)
	var frames [][]byte
	for len(f.pending) >= FrameBytes {
		frames = append(frames, append([]byte(nil), f.pending[:FrameBytes]...))
		f.pending = f.pending[FrameBytes:]
	}
	return frames
}

// PulseCapture records 8kHz mono s16le from one Pulse source and delivers
// it as FrameBytes frames on Chunks.
type PulseCapture struct {
	device Device
	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []byte
	quit   chan struct{}

	mu      sync.Mutex
	framer  framer
	stopped bool
	writes  sync.WaitGroup

	captured atomic.Int64
}

func newPulseCapture(device Device) *PulseCapture {
	return &PulseCapture{
		device: device,
		frames: make(chan []byte, 128),
		quit:   make(chan struct{}),
	}
}

// StartCapture opens a record stream on device. It runs until Stop.
func StartCapture(device Device) (*PulseCapture, error) {
	client, err := newPulseClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}
	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	c := newPulseCapture(device)
	c.client = client
	c.stream, err = client.NewRecord(
		pulse.NewWriter(captureWriter{c}, pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(FrameBytes),
		pulse.RecordMediaName("parley microphone"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	c.stream.Start()
	return c, nil
}

func (c *PulseCapture) Device() Device { return c.device }

func (c *PulseCapture) Chunks() <-chan []byte { return c.frames }

// BytesCaptured is the total PCM accepted from Pulse, including any partial
// frame still buffered.
func (c *PulseCapture) BytesCaptured() int64 { return c.captured.Load() }

// Stop ends the stream and closes Chunks. It is idempotent; a trailing
// partial frame is discarded.
func (c *PulseCapture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.quit)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.writes.Wait()
	close(c.frames)
	return nil
}

// write is called from the Pulse reader goroutine.
func (c *PulseCapture) write(pcm []byte) (int, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	c.writes.Add(1)
	defer c.writes.Done()
	frames := c.framer.push(pcm)
	c.mu.Unlock()

	c.captured.Add(int64(len(pcm)))
	for _, frame := range frames {
		select {
		case c.frames <- frame:
		case <-c.quit:
			return 0, io.EOF
		}
	}
	return len(pcm), nil
}

type captureWriter struct{ c *PulseCapture }

func (w captureWriter) Write(pcm []byte) (int, error) { return w.c.write(pcm) }
