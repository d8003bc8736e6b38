package switchboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
)

var mono = config.StreamConfig{Channels: 1, SampleRate: 1000, FrameSize: 10}

func newBoard(t *testing.T) (*Switchboard, *device.Virtual) {
	t.Helper()
	v := device.NewVirtual()
	v.AddInput("Mic", mono)
	v.AddInput("Line", mono)
	v.AddOutput("Speakers", mono)
	v.AddOutput("Headphones", mono)
	sb := New(v, Options{})
	t.Cleanup(sb.Close)
	return sb, v
}

func find(t *testing.T, v *device.Virtual, dir device.Direction, name string) device.Device {
	t.Helper()
	var (
		d   device.Device
		err error
	)
	if dir == device.Input {
		d, err = device.FindInput(v, name)
	} else {
		d, err = device.FindOutput(v, name)
	}
	require.NoError(t, err)
	return d
}

func TestConnectBridgesSamples(t *testing.T) {
	sb, v := newBoard(t)
	require.NoError(t, sb.Connect(find(t, v, device.Input, "mic"), find(t, v, device.Output, "speakers")))

	routes := sb.Routes()
	require.Len(t, routes, 1)
	// 150ms at 1kHz mono is 150 samples, the ring holds twice that
	assert.Equal(t, 300, routes[0].Capacity)

	v.Feed("Mic", []float32{0.1, 0.2, 0.3})
	out := v.Pull("Speakers", 5)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0, 0}, out[0])
}

func TestReconnectReplacesBridge(t *testing.T) {
	sb, v := newBoard(t)
	mic := find(t, v, device.Input, "Mic")
	require.NoError(t, sb.Connect(mic, find(t, v, device.Output, "Speakers")))
	require.NoError(t, sb.Connect(mic, find(t, v, device.Output, "Headphones")))

	assert.Equal(t, map[string]string{"Mic": "Headphones"}, sb.State())
	assert.Equal(t, 1, v.LiveStreams("Mic"))
	assert.Equal(t, 0, v.LiveStreams("Speakers"))
	assert.Equal(t, 1, v.PlayingStreams("Headphones"))
}

func TestConnectFailureLeavesNoBridge(t *testing.T) {
	sb, v := newBoard(t)
	v.FailBuild("Speakers", assert.AnError)
	err := sb.Connect(find(t, v, device.Input, "Mic"), find(t, v, device.Output, "Speakers"))
	require.ErrorIs(t, err, device.ErrDevice)
	assert.Empty(t, sb.State())
	assert.Equal(t, 0, v.LiveStreams("Mic"))
}

func TestCorrectStateOverlay(t *testing.T) {
	sb, v := newBoard(t)
	require.NoError(t, sb.Connect(find(t, v, device.Input, "Line"), find(t, v, device.Output, "Speakers")))

	require.NoError(t, sb.CorrectState(map[string]string{"mic": "HEADPHONES"}))
	assert.Equal(t, map[string]string{"Mic": "Headphones", "Line": "Speakers"}, sb.State())

	// applying the same state again keeps the existing streams
	require.NoError(t, sb.CorrectState(map[string]string{"Mic": "Headphones"}))
	assert.Equal(t, 1, v.LiveStreams("Mic"))
}

func TestCorrectStateSkipsUnknownNames(t *testing.T) {
	sb, v := newBoard(t)
	err := sb.CorrectState(map[string]string{
		"Ghost": "Speakers",
		"Line":  "Nowhere",
		"Mic":   "Speakers",
	})
	require.ErrorIs(t, err, device.ErrNotFound)
	assert.Equal(t, map[string]string{"Mic": "Speakers"}, sb.State())
	assert.Equal(t, 1, v.PlayingStreams("Speakers"))
}

func TestDisconnect(t *testing.T) {
	sb, v := newBoard(t)
	mic := find(t, v, device.Input, "Mic")
	require.NoError(t, sb.Connect(mic, find(t, v, device.Output, "Speakers")))
	assert.True(t, sb.Disconnect(mic))
	assert.False(t, sb.Disconnect(mic))
	assert.Equal(t, 0, v.LiveStreams("Speakers"))
}
