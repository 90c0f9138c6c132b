package audio

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rbright/parley/internal/fault"
	"github.com/rbright/parley/internal/fsm"
)

// MicSource acquires the microphone.
type MicSource interface {
	Open(ctx context.Context) (CaptureStream, error)
}

// MicSourceFunc adapts a function to MicSource.
type MicSourceFunc func(ctx context.Context) (CaptureStream, error)

func (f MicSourceFunc) Open(ctx context.Context) (CaptureStream, error) {
	return f(ctx)
}

// Pipeline owns one session's microphone and remote playback sink.
type Pipeline struct {
	source MicSource
	sink   *tappedSink

	group singleflight.Group

	mu       sync.Mutex
	mic      *MicStream
	released bool
}

// NewPipeline wires source and sink. A nil sink discards remote audio.
func NewPipeline(source MicSource, sink Sink) *Pipeline {
	if sink == nil {
		sink = &DiscardSink{}
	}
	return &Pipeline{
		source: source,
		sink:   &tappedSink{inner: sink, meter: NewMeter()},
	}
}

// MicStream acquires the microphone on first use and returns the same stream
// on every later call. Concurrent first calls share one acquisition; a failed
// acquisition is not cached.
func (p *Pipeline) MicStream(ctx context.Context) (*MicStream, error) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil, fault.Newf(fault.KindMedia, "acquire microphone", "audio pipeline released")
	}
	if p.mic != nil {
		mic := p.mic
		p.mu.Unlock()
		return mic, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("mic", func() (any, error) {
		p.mu.Lock()
		if p.mic != nil {
			mic := p.mic
			p.mu.Unlock()
			return mic, nil
		}
		p.mu.Unlock()

		if p.source == nil {
			return nil, fault.Newf(fault.KindMedia, "acquire microphone", "no microphone source configured")
		}
		capture, err := p.source.Open(ctx)
		if err != nil {
			var fe *fault.Error
			if errors.As(err, &fe) && fe.Kind == fault.KindMedia {
				return nil, err
			}
			return nil, fault.New(fault.KindMedia, "acquire microphone", err)
		}
		if capture == nil {
			return nil, fault.Newf(fault.KindMedia, "acquire microphone", "microphone source returned no stream")
		}

		mic := newMicStream(capture)
		p.mu.Lock()
		if p.released {
			p.mu.Unlock()
			mic.stop()
			return nil, fault.Newf(fault.KindMedia, "acquire microphone", "audio pipeline released")
		}
		p.mic = mic
		p.mu.Unlock()
		return mic, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*MicStream), nil
}

// Current returns the acquired mic stream without acquiring one.
func (p *Pipeline) Current() *MicStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mic
}

// Sink returns the metered remote playback sink.
func (p *Pipeline) Sink() Sink {
	return p.sink
}

// Analyser returns the tap matching state: the mic while the user holds the
// talk button, the remote voice while the model speaks, nil otherwise.
func (p *Pipeline) Analyser(state fsm.State) Analyser {
	switch {
	case state == fsm.StatePushToTalkActive:
		mic := p.Current()
		if mic == nil {
			return nil
		}
		return mic.Meter()
	case state.Speaking():
		return p.sink.meter
	default:
		return nil
	}
}

// Release stops the microphone and detaches the sink. Later MicStream calls fail.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	mic := p.mic
	p.mic = nil
	p.mu.Unlock()

	if mic != nil {
		mic.stop()
	}
	p.sink.Detach()
}
