//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPulsePipelineIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	devices, err := ListDevices(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, devices)

	pipeline := NewPipeline(PulseSource{Input: "default", Fallback: "default"}, &DiscardSink{})
	defer pipeline.Release()

	mic, err := pipeline.MicStream(ctx)
	require.NoError(t, err)
	again, err := pipeline.MicStream(ctx)
	require.NoError(t, err)
	require.Same(t, mic, again)
	require.False(t, mic.Enabled())
}
