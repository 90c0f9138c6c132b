package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// RemoteStream yields decoded s16le PCM frames from the remote peer. ReadFrame
// returns an error once the stream ends.
type RemoteStream interface {
	ReadFrame() ([]byte, error)
}

// Sink is the playback destination for the remote voice.
type Sink interface {
	Attach(RemoteStream) error
	Detach()
}

// DiscardSink drains the remote stream without playing it.
type DiscardSink struct {
	mu   sync.Mutex
	stop chan struct{}
}

func (d *DiscardSink) Attach(stream RemoteStream) error {
	d.Detach()
	stop := make(chan struct{})
	d.mu.Lock()
	d.stop = stop
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := stream.ReadFrame(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (d *DiscardSink) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

// PulseSink plays the remote voice on the default Pulse output.
type PulseSink struct {
	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.PlaybackStream
}

func (p *PulseSink) Attach(remote RemoteStream) error {
	p.Detach()

	client, err := newPulseClient("audio-speakers")
	if err != nil {
		return err
	}

	var pending []int16
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		for len(pending) == 0 {
			frame, err := remote.ReadFrame()
			if err != nil {
				return 0, pulse.EndOfData
			}
			pending = pcmSamples(frame)
		}
		n := copy(buf, pending)
		pending = pending[n:]
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName("parley voice"),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	stream.Start()

	p.mu.Lock()
	p.client = client
	p.stream = stream
	p.mu.Unlock()
	return nil
}

func (p *PulseSink) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

func pcmSamples(frame []byte) []int16 {
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[2*i:]))
	}
	return out
}

// tappedSink meters every frame on its way to the wrapped sink.
type tappedSink struct {
	inner Sink
	meter *Meter
}

func (t *tappedSink) Attach(stream RemoteStream) error {
	return t.inner.Attach(meteredStream{RemoteStream: stream, meter: t.meter})
}

func (t *tappedSink) Detach() {
	t.inner.Detach()
}

type meteredStream struct {
	RemoteStream
	meter *Meter
}

func (m meteredStream) ReadFrame() ([]byte, error) {
	frame, err := m.RemoteStream.ReadFrame()
	if err == nil {
		m.meter.Observe(frame)
	}
	return frame, err
}
