package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/audio/switchboard"
	"remoteio/internal/stream"
	"remoteio/internal/transport"
	"remoteio/internal/wire"
)

var stereo = config.StreamConfig{Channels: 2, SampleRate: 48000, FrameSize: 256}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRegistry() *device.Virtual {
	v := device.NewVirtual()
	v.AddInput("Mic", stereo)
	v.AddOutput("Speakers", stereo)
	v.AddOutput("Headphones", stereo)
	return v
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListDevices(t *testing.T) {
	r := NewRouter(Options{Registry: newRegistry()})
	rec := do(t, r, http.MethodGet, "/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body struct {
		Inputs  []device.Device `json:"inputs"`
		Outputs []device.Device `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Inputs, 1)
	assert.Equal(t, "Mic", body.Inputs[0].Name)
	assert.True(t, body.Inputs[0].Default)
	assert.Len(t, body.Outputs, 2)
}

func TestComponentsNotRunning(t *testing.T) {
	r := NewRouter(Options{Registry: newRegistry()})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/clients"},
		{http.MethodDelete, "/clients/x"},
		{http.MethodPut, "/server/output"},
		{http.MethodGet, "/client"},
		{http.MethodPut, "/client/source"},
		{http.MethodGet, "/local/topology"},
		{http.MethodPut, "/local/topology"},
		{http.MethodPost, "/local/connect"},
		{http.MethodDelete, "/local/routes/mic"},
	} {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			rec := do(t, r, tc.method, tc.path, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestServerRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := newRegistry()
	nop := zerolog.Nop()
	srv, err := stream.NewServer(v, stream.ServerOptions{Logger: &nop})
	require.NoError(t, err)
	defer srv.Close()

	pipe := transport.NewPacketPipe("server", 0)
	defer pipe.Close()
	go func() { _ = srv.ServePackets(ctx, pipe) }()

	conn, err := pipe.Dial(ctx, pipe.Addr())
	require.NoError(t, err)
	hello, err := wire.Encode(wire.Hello{Alias: "desk"})
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, hello))
	require.Eventually(t, func() bool { return len(srv.ListClients()) == 1 }, time.Second, 5*time.Millisecond)

	r := NewRouter(Options{Registry: v, Server: srv, Logger: &nop})

	rec := do(t, r, http.MethodGet, "/clients", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var clients []stream.ClientInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clients))
	require.Len(t, clients, 1)
	assert.Equal(t, "desk", clients[0].Key)
	assert.Equal(t, "Speakers", clients[0].Output)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPut, "/server/output", "{").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPut, "/server/output", deviceRequest{Name: "Nope"}).Code)

	rec = do(t, r, http.MethodPut, "/server/output", deviceRequest{Name: "headphones"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Headphones", srv.OutputDevice().Name)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/clients/ghost", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodDelete, "/clients/desk", nil).Code)
	assert.Empty(t, srv.ListClients())
}

func TestClientRoutes(t *testing.T) {
	v := newRegistry()
	nop := zerolog.Nop()
	mic, err := device.FindInput(v, "mic")
	require.NoError(t, err)

	ln := transport.NewMemoryListener("server", 0)
	defer ln.Close()
	client := stream.NewClient(v, ln, mic, stream.ClientOptions{Logger: &nop})
	defer client.Close()

	r := NewRouter(Options{Registry: v, Client: client, Logger: &nop})

	rec := do(t, r, http.MethodGet, "/client", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status stream.ClientStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "Mic", status.Device)
	assert.Equal(t, "disconnected", status.State)

	rec = do(t, r, http.MethodPut, "/client/source", deviceRequest{Name: "Mic"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLocalRoutes(t *testing.T) {
	v := newRegistry()
	nop := zerolog.Nop()
	sb := switchboard.New(v, switchboard.Options{Logger: &nop})
	defer sb.Close()

	r := NewRouter(Options{Registry: v, Switchboard: sb, Logger: &nop})

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/local/connect", connectRequest{Producer: "Mic"}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/local/connect", connectRequest{Producer: "Mic", Consumer: "Nope"}).Code)

	rec := do(t, r, http.MethodPost, "/local/connect", connectRequest{Producer: "mic", Consumer: "speakers"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"Mic": "Speakers"}, sb.State())

	rec = do(t, r, http.MethodGet, "/local/topology", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Mic":"Speakers"`)

	rec = do(t, r, http.MethodPut, "/local/topology", map[string]string{"Mic": "Headphones", "Ghost": "Speakers"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]string{"Mic": "Headphones"}, sb.State())

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/local/routes/mic", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/local/routes/mic", nil).Code)
	assert.Empty(t, sb.State())
}

func TestMetrics(t *testing.T) {
	r := NewRouter(Options{Registry: newRegistry()})
	rec := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "remoteio_")
}
