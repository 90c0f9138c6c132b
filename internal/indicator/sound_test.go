package indicator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/config"
)

func TestEveryCueRendersPhrase(t *testing.T) {
	for _, kind := range []cueKind{cueTalk, cueSend, cueHandoff, cueComplete, cueEnd} {
		c, ok := cues[kind]
		require.True(t, ok, "cue %d", kind)
		require.NotEmpty(t, c.pcm(), "cue %d", kind)
	}
	require.NoError(t, emitCue(cueKind(99), config.IndicatorConfig{}))
}

func TestRenderPhraseLength(t *testing.T) {
	notes := []note{{440, 100 * time.Millisecond}, {660, 50 * time.Millisecond}}
	got := renderPhrase(notes, 0.2)
	want := sampleCount(100*time.Millisecond) + sampleCount(cueGap) + sampleCount(50*time.Millisecond)
	require.Len(t, got, want)
}

func TestRenderNoteFadesAtEdges(t *testing.T) {
	pcm := renderNote(note{440, 100 * time.Millisecond}, 0.2)
	require.Len(t, pcm, sampleCount(100*time.Millisecond))
	require.Zero(t, pcm[0])
	require.Zero(t, pcm[len(pcm)-1])

	peak := int16(0)
	for _, s := range pcm {
		peak = max(peak, s)
	}
	require.InDelta(t, 0.2*32767, float64(peak), 200)
}

func TestRenderNoteInvalidSpecReturnsEmpty(t *testing.T) {
	require.Empty(t, renderNote(note{0, 100 * time.Millisecond}, 0.2))
	require.Empty(t, renderNote(note{440, 0}, 0.2))
	require.Empty(t, renderNote(note{440, 100 * time.Millisecond}, 0))
}

func TestSampleCount(t *testing.T) {
	require.Equal(t, 0, sampleCount(0))
	require.Equal(t, 400, sampleCount(25*time.Millisecond))
}

func TestCuePathUsesOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.IndicatorConfig{
		SoundStartFile:    "~/cues/talk.wav",
		SoundStopFile:     "/usr/share/sounds/send.wav",
		SoundCompleteFile: " ",
	}
	require.Equal(t, filepath.Join(home, "cues", "talk.wav"), cuePath(cueTalk, cfg))
	require.Equal(t, "/usr/share/sounds/send.wav", cuePath(cueSend, cfg))
	require.Empty(t, cuePath(cueComplete, cfg))
	require.Empty(t, cuePath(cueHandoff, cfg))
}

func TestPlayCueFileMissing(t *testing.T) {
	err := playCueFile(filepath.Join(t.TempDir(), "missing.wav"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
