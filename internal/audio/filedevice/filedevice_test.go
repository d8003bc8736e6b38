package filedevice

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
)

func writeWav(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestInputDevicesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeWav(t, filepath.Join(dir, "b-tone.wav"), 8000, 1, []int{1, 2, 3})
	writeWav(t, filepath.Join(dir, "a-voice.wav"), 16000, 2, []int{1, 2, 3, 4})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	r := New(Options{Dir: dir, FrameSize: 64})
	devs, err := r.InputDevices()
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "a-voice", devs[0].Name)
	assert.True(t, devs[0].Default)

	cfg, err := r.DefaultInputConfig(devs[0])
	require.NoError(t, err)
	assert.Equal(t, config.StreamConfig{Channels: 2, SampleRate: 16000, FrameSize: 64}, cfg)

	d, err := device.FindInput(r, "B-TONE")
	require.NoError(t, err)
	assert.Equal(t, "b-tone", d.Name)
}

func TestInputStreamLoops(t *testing.T) {
	dir := t.TempDir()
	writeWav(t, filepath.Join(dir, "tone.wav"), 8000, 1, []int{0, 16384, 32767})

	r := New(Options{Dir: dir, FrameSize: 4})
	d, err := r.DefaultInput()
	require.NoError(t, err)
	cfg, err := r.DefaultInputConfig(d)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []float32
	)
	s, err := r.BuildInputStream(d, cfg, func(samples []float32) {
		mu.Lock()
		got = append(got, samples...)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, s.Play())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 8
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	want := []float32{0, 0.5, 1, 0, 0.5, 1, 0, 0.5}
	for i, w := range want {
		assert.InDelta(t, w, got[i], 1e-3)
	}
}

func TestInputStreamRejectsMismatchedFormat(t *testing.T) {
	dir := t.TempDir()
	writeWav(t, filepath.Join(dir, "tone.wav"), 8000, 1, []int{1})
	r := New(Options{Dir: dir})
	d, err := r.DefaultInput()
	require.NoError(t, err)

	_, err = r.BuildInputStream(d, config.StreamConfig{Channels: 2, SampleRate: 8000, FrameSize: 4}, func([]float32) {})
	require.ErrorIs(t, err, device.ErrDevice)
}

func TestSinkRecordsWav(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StreamConfig{Channels: 1, SampleRate: 8000, FrameSize: 8}
	r := New(Options{Dir: dir, Sinks: []string{"recording"}, SinkConfig: cfg})

	d, err := r.DefaultOutput()
	require.NoError(t, err)
	got, err := r.DefaultOutputConfig(d)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	var (
		mu    sync.Mutex
		ticks int
	)
	s, err := r.BuildOutputStream(d, cfg, func(out []float32) {
		for i := range out {
			out[i] = 0.5
		}
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, s.Play())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	f, err := os.Open(filepath.Join(dir, "recording.wav"))
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(buf.Data), 24)
	assert.Zero(t, len(buf.Data)%8)
	assert.Equal(t, 16383, buf.Data[0])
}

func readSink(t *testing.T, path string) []int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile(), path)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return buf.Data
}

func TestSinkStreamsRecordSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StreamConfig{Channels: 1, SampleRate: 8000, FrameSize: 8}
	r := New(Options{Dir: dir, Sinks: []string{"recording"}, SinkConfig: cfg})
	d, err := r.DefaultOutput()
	require.NoError(t, err)

	var mu sync.Mutex
	ticks := make([]int, 2)
	level := []float32{0.5, -0.5}
	streams := make([]device.Stream, 2)
	for i := range streams {
		s, err := r.BuildOutputStream(d, cfg, func(out []float32) {
			for j := range out {
				out[j] = level[i]
			}
			mu.Lock()
			ticks[i]++
			mu.Unlock()
		})
		require.NoError(t, err)
		streams[i] = s
	}
	for _, s := range streams {
		require.NoError(t, s.Play())
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks[0] >= 3 && ticks[1] >= 3
	}, 2*time.Second, time.Millisecond)
	for _, s := range streams {
		require.NoError(t, s.Close())
	}

	for path, want := range map[string]int{
		filepath.Join(dir, "recording.wav"):   16383,
		filepath.Join(dir, "recording-1.wav"): -16383,
	} {
		data := readSink(t, path)
		require.GreaterOrEqual(t, len(data), 24, path)
		for _, v := range data {
			require.Equal(t, want, v, path)
		}
	}
}

func TestSinkKeepsEarlierRecordings(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StreamConfig{Channels: 1, SampleRate: 8000, FrameSize: 8}
	r := New(Options{Dir: dir, Sinks: []string{"recording"}, SinkConfig: cfg})
	d, err := r.DefaultOutput()
	require.NoError(t, err)

	first := filepath.Join(dir, "recording.wav")
	writeWav(t, first, 8000, 1, []int{1, 2, 3})

	s, err := r.BuildOutputStream(d, cfg, func([]float32) {})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, []int{1, 2, 3}, readSink(t, first))
	assert.FileExists(t, filepath.Join(dir, "recording-1.wav"))
}
