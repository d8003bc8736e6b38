package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/audio/switchboard"
)

func TestMenuDispatch(t *testing.T) {
	var calls []string
	items := []Item{
		{Label: "Ping", Run: func(context.Context, string) (string, error) {
			calls = append(calls, "ping")
			return "pong", nil
		}},
		{Label: "Echo", Prompt: "Text", Run: func(_ context.Context, arg string) (string, error) {
			calls = append(calls, arg)
			return "", nil
		}},
	}
	var out bytes.Buffer
	in := strings.NewReader("1\n9\nx\n2\nhello\n3\n1\n")

	require.NoError(t, New(in, &out, items...).Run(context.Background()))

	assert.Equal(t, []string{"ping", "hello"}, calls)
	assert.Contains(t, out.String(), "1. Ping\n2. Echo\n3. Exit")
	assert.Contains(t, out.String(), "pong")
	assert.Equal(t, 2, strings.Count(out.String(), "Invalid choice"))
	assert.Contains(t, out.String(), "Exiting...")
}

func TestRunStopsAtEOF(t *testing.T) {
	var out bytes.Buffer
	err := New(strings.NewReader(""), &out).Run(context.Background())
	require.NoError(t, err)
}

func TestLocalItems(t *testing.T) {
	cfg := config.StreamConfig{Channels: 2, SampleRate: 48000, FrameSize: 256}
	v := device.NewVirtual()
	v.AddInput("Mic", cfg)
	v.AddOutput("Speakers", cfg)

	nop := zerolog.Nop()
	sb := switchboard.New(v, switchboard.Options{Logger: &nop})
	defer sb.Close()

	var out bytes.Buffer
	in := strings.NewReader("2\nmic -> speakers\n1\n2\nmic\n3\nghost\n3\nmic\n5\n")
	require.NoError(t, New(in, &out, LocalItems(v, sb)...).Run(context.Background()))

	s := out.String()
	assert.Contains(t, s, "Mic -> Speakers  2ch/48000Hz/256")
	assert.Contains(t, s, "Error: expected: producer -> consumer")
	assert.Contains(t, s, "Error: ")
	assert.Contains(t, s, "Disconnected Mic")
	assert.Empty(t, sb.State())
}
