package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/audio/config"
)

func TestTableLookupIsCaseInsensitive(t *testing.T) {
	tbl := NewTable([]Device{{Name: "Speakers"}, {Name: "USB Mic"}})

	d, err := tbl.Lookup("  usb MIC ")
	require.NoError(t, err)
	assert.Equal(t, "USB Mic", d.Name)

	_, err = tbl.Lookup("headset")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, ErrDevice)
}

func TestTableFirstMatchWins(t *testing.T) {
	tbl := NewTable([]Device{
		{Name: "Line In", Handle: 1},
		{Name: "LINE IN", Handle: 2},
	})
	d, err := tbl.Lookup("line in")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Handle)
	assert.Equal(t, 1, tbl.Len())
}

func TestVirtualStreams(t *testing.T) {
	v := NewVirtual()
	cfg := config.StreamConfig{Channels: 1, SampleRate: 8000, FrameSize: 4}
	mic := v.AddInput("mic", cfg)
	spk := v.AddOutput("spk", cfg)

	var got []float32
	in, err := v.BuildInputStream(mic, cfg, func(s []float32) { got = append(got, s...) })
	require.NoError(t, err)
	out, err := v.BuildOutputStream(spk, cfg, func(o []float32) {
		for i := range o {
			o[i] = 1
		}
	})
	require.NoError(t, err)

	// streams are built paused
	assert.Equal(t, 0, v.Feed("mic", []float32{1, 2}))
	assert.Empty(t, v.Pull("spk", 2))

	require.NoError(t, in.Play())
	require.NoError(t, out.Play())
	assert.Equal(t, 1, v.Feed("MIC", []float32{1, 2}))
	assert.Equal(t, []float32{1, 2}, got)
	assert.Equal(t, [][]float32{{1, 1}}, v.Pull("spk", 2))

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.Equal(t, 0, v.LiveStreams("mic"))
	assert.Equal(t, 1, v.PlayingStreams("spk"))
}

func TestVirtualFailBuild(t *testing.T) {
	v := NewVirtual()
	cfg := config.Default()
	spk := v.AddOutput("spk", cfg)
	v.FailBuild("spk", errors.New("unplugged"))

	_, err := v.BuildOutputStream(spk, cfg, func([]float32) {})
	require.ErrorIs(t, err, ErrDevice)

	v.FailBuild("spk", nil)
	_, err = v.BuildOutputStream(spk, cfg, func([]float32) {})
	require.NoError(t, err)
}

func TestResolveDefaults(t *testing.T) {
	v := NewVirtual()
	_, err := ResolveInput(v, "")
	require.ErrorIs(t, err, ErrNotFound)

	v.AddInput("a", config.Default())
	v.AddInput("b", config.Default())
	d, err := ResolveInput(v, "")
	require.NoError(t, err)
	assert.Equal(t, "a", d.Name)
	d, err = ResolveInput(v, "B")
	require.NoError(t, err)
	assert.Equal(t, "b", d.Name)
}
