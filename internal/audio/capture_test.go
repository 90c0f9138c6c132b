package audio

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFramerRegroupsWrites(t *testing.T) {
	var f framer
	require.Empty(t, f.push(make([]byte, FrameBytes-1)))

	frames := f.push(make([]byte, FrameBytes+2))
	require.Len(t, frames, 2)
	for _, frame := range frames {
		require.Len(t, frame, FrameBytes)
	}
	require.Len(t, f.pending, 1)
}

func TestCaptureWriteDeliversFramesAndStopDropsPartial(t *testing.T) {
	c := newPulseCapture(Device{ID: "mic-1"})
	require.Equal(t, "mic-1", c.Device().ID)

	input := make([]byte, 2*FrameBytes+111)
	for i := range input {
		input[i] = byte(i % 251)
	}

	n, err := captureWriter{c}.Write(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), c.BytesCaptured())

	require.Equal(t, input[:FrameBytes], <-c.Chunks())
	require.Equal(t, input[FrameBytes:2*FrameBytes], <-c.Chunks())

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	_, ok := <-c.Chunks()
	require.False(t, ok)
}

func TestCaptureWriteAfterStopIsEOF(t *testing.T) {
	c := newPulseCapture(Device{})
	require.NoError(t, c.Stop())

	n, err := c.write([]byte{1, 2, 3})
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, c.BytesCaptured())
}

func TestCaptureStopUnblocksPendingWrite(t *testing.T) {
	c := newPulseCapture(Device{})
	c.frames = make(chan []byte)

	done := make(chan error, 1)
	go func() {
		_, err := c.write(make([]byte, FrameBytes))
		done <- err
	}()

	require.Eventually(t, func() bool { return c.BytesCaptured() == FrameBytes }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
	require.ErrorIs(t, <-done, io.EOF)
}
