// Package control exposes the running server, client and switchboard over HTTP.
package control

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/audio/device"
	"remoteio/internal/audio/switchboard"
	"remoteio/internal/stream"
)

var errNotRunning = errors.New("not running")

// Options names the components to expose. Any of Server, Client and
// Switchboard may be nil; their routes then answer 404.
type Options struct {
	Registry    device.Registry
	Server      *stream.Server
	Client      *stream.Client
	Switchboard *switchboard.Switchboard
	Logger      *zerolog.Logger
}

type handler struct {
	Options
	logger zerolog.Logger
}

type deviceRequest struct {
	Name string `json:"name"`
}

type connectRequest struct {
	Producer string `json:"producer" binding:"required"`
	Consumer string `json:"consumer" binding:"required"`
}

// NewRouter builds the control plane routes.
func NewRouter(opts Options) *gin.Engine {
	h := &handler{Options: opts, logger: log.With().Str("component", "control").Logger()}
	if opts.Logger != nil {
		h.logger = *opts.Logger
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger)

	r.GET("/devices", h.listDevices)
	r.GET("/clients", h.listClients)
	r.DELETE("/clients/:key", h.disconnectClient)
	r.PUT("/server/output", h.changeOutput)
	r.GET("/client", h.clientStatus)
	r.PUT("/client/source", h.changeSource)
	r.GET("/local/topology", h.topology)
	r.PUT("/local/topology", h.correctTopology)
	r.POST("/local/connect", h.connect)
	r.DELETE("/local/routes/:producer", h.disconnectRoute)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (h *handler) requestLogger(c *gin.Context) {
	start := time.Now()
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	c.Next()

	h.logger.Debug().
		Str("request_id", id).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Int("status", c.Writer.Status()).
		Dur("latency", time.Since(start)).
		Msg("Control request")
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errNotRunning),
		errors.Is(err, device.ErrNotFound),
		errors.Is(err, stream.ErrUnknownConnection):
		return http.StatusNotFound
	case errors.Is(err, stream.ErrState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *handler) listDevices(c *gin.Context) {
	inputs, err := h.Registry.InputDevices()
	if err != nil {
		fail(c, err)
		return
	}
	outputs, err := h.Registry.OutputDevices()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inputs": inputs, "outputs": outputs})
}

func (h *handler) listClients(c *gin.Context) {
	if h.Server == nil {
		fail(c, errNotRunning)
		return
	}
	c.JSON(http.StatusOK, h.Server.ListClients())
}

func (h *handler) disconnectClient(c *gin.Context) {
	if h.Server == nil {
		fail(c, errNotRunning)
		return
	}
	info, err := h.Server.DisconnectClient(c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) changeOutput(c *gin.Context) {
	if h.Server == nil {
		fail(c, errNotRunning)
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	dev, err := device.ResolveOutput(h.Registry, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.Server.ChangeOutputDevice(dev); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": dev.Name})
}

func (h *handler) clientStatus(c *gin.Context) {
	if h.Client == nil {
		fail(c, errNotRunning)
		return
	}
	c.JSON(http.StatusOK, h.Client.Status())
}

func (h *handler) changeSource(c *gin.Context) {
	if h.Client == nil {
		fail(c, errNotRunning)
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	dev, err := device.ResolveInput(h.Registry, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.Client.ChangeSourceDevice(c.Request.Context(), dev); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Client.Status())
}

func (h *handler) topology(c *gin.Context) {
	if h.Switchboard == nil {
		fail(c, errNotRunning)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topology": h.Switchboard.State(), "routes": h.Switchboard.Routes()})
}

// correctTopology applies every resolvable pair even when some fail.
func (h *handler) correctTopology(c *gin.Context) {
	if h.Switchboard == nil {
		fail(c, errNotRunning)
		return
	}
	var target map[string]string
	if err := c.ShouldBindJSON(&target); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Switchboard.CorrectState(target); err != nil {
		c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error(), "topology": h.Switchboard.State()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topology": h.Switchboard.State()})
}

func (h *handler) connect(c *gin.Context) {
	if h.Switchboard == nil {
		fail(c, errNotRunning)
		return
	}
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	producer, err := device.FindInput(h.Registry, req.Producer)
	if err != nil {
		fail(c, err)
		return
	}
	consumer, err := device.FindOutput(h.Registry, req.Consumer)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.Switchboard.Connect(producer, consumer); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topology": h.Switchboard.State()})
}

func (h *handler) disconnectRoute(c *gin.Context) {
	if h.Switchboard == nil {
		fail(c, errNotRunning)
		return
	}
	producer, err := device.FindInput(h.Registry, c.Param("producer"))
	if err != nil {
		fail(c, err)
		return
	}
	if !h.Switchboard.Disconnect(producer) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no route from " + producer.Name})
		return
	}
	c.Status(http.StatusNoContent)
}
