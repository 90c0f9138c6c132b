package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/parley/internal/config"
)

type cueKind int

const (
	// cueTalk opens a push-to-talk turn.
	cueTalk cueKind = iota + 1
	// cueSend closes the turn and hands the floor to the model.
	cueSend
	// cueHandoff marks the move from intake to simulation.
	cueHandoff
	cueComplete
	cueEnd
)

const (
	cueSampleRate = 16000
	cueVolume     = 0.16
	cueGap        = 22 * time.Millisecond
	cueFileLimit  = 4 * time.Second
)

// note is one tone of a cue.
type note struct {
	hz     float64
	length time.Duration
}

// cue describes how one cue sounds: an optional file override from config,
// otherwise a short synthesized phrase.
type cue struct {
	override func(config.IndicatorConfig) string
	notes    []note
	pcm      func() []int16
}

var cues = map[cueKind]*cue{
	cueTalk: newCue(
		func(c config.IndicatorConfig) string { return c.SoundStartFile },
		note{880, 60 * time.Millisecond},
	),
	cueSend: newCue(
		func(c config.IndicatorConfig) string { return c.SoundStopFile },
		note{660, 90 * time.Millisecond},
	),
	cueHandoff: newCue(nil,
		note{523, 80 * time.Millisecond},
		note{659, 80 * time.Millisecond},
		note{784, 110 * time.Millisecond},
	),
	cueComplete: newCue(
		func(c config.IndicatorConfig) string { return c.SoundCompleteFile },
		note{784, 70 * time.Millisecond},
		note{1047, 140 * time.Millisecond},
	),
	cueEnd: newCue(
		func(c config.IndicatorConfig) string { return c.SoundCancelFile },
		note{440, 80 * time.Millisecond},
		note{330, 120 * time.Millisecond},
	),
}

func newCue(override func(config.IndicatorConfig) string, notes ...note) *cue {
	c := &cue{override: override, notes: notes}
	c.pcm = sync.OnceValue(func() []int16 { return renderPhrase(c.notes, cueVolume) })
	return c
}

// emitCue plays kind, preferring a configured file and falling back to the
// built-in phrase when the file is missing or fails to play.
func emitCue(kind cueKind, cfg config.IndicatorConfig) error {
	c, ok := cues[kind]
	if !ok {
		return nil
	}
	if path := cuePath(kind, cfg); path != "" {
		if err := playCueFile(path); err == nil {
			return nil
		}
	}
	return playPCM(c.pcm())
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	c, ok := cues[kind]
	if !ok || c.override == nil {
		return ""
	}
	return expandHome(strings.TrimSpace(c.override(cfg)))
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func playCueFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cueFileLimit)
	defer cancel()

	if err := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path).Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

func playPCM(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("parley"),
		pulse.ClientApplicationIconName("call-start"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := samples
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("parley cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// renderPhrase renders notes back to back with a short silence between them.
func renderPhrase(notes []note, volume float64) []int16 {
	var pcm []int16
	gap := sampleCount(cueGap)
	for i, n := range notes {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, renderNote(n, volume)...)
	}
	return pcm
}

// renderNote is a sine tone shaped by a raised-cosine fade at both ends so
// it starts and stops without clicks.
func renderNote(n note, volume float64) []int16 {
	count := sampleCount(n.length)
	if count <= 0 || n.hz <= 0 || volume <= 0 {
		return nil
	}
	fade := min(max(count/10, 1), cueSampleRate/200)

	pcm := make([]int16, count)
	step := 2 * math.Pi * n.hz / cueSampleRate
	for i := range pcm {
		gain := volume
		if edge := min(i, count-1-i); edge < fade {
			gain *= 0.5 - 0.5*math.Cos(math.Pi*float64(edge)/float64(fade))
		}
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * gain * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
