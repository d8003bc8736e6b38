// Package metrics holds the prometheus collectors shared by the audio and stream
// packages. They register with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Local bridges
	RingOverrunSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_ring_overrun_samples_total",
			Help: "Total number of samples dropped because a bridge ring was full",
		},
	)

	RingUnderrunSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_ring_underrun_samples_total",
			Help: "Total number of samples replaced with silence because a bridge ring was empty",
		},
	)

	BridgesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remoteio_bridges_active",
			Help: "Number of active local device bridges",
		},
	)

	// Server side
	JitterDroppedSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_jitter_dropped_samples_total",
			Help: "Total number of samples discarded by jitter buffer overflow",
		},
	)

	JitterUnderruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_jitter_underruns_total",
			Help: "Total number of playback ticks that could not be served a full batch",
		},
	)

	ReceivedSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_received_samples_total",
			Help: "Total number of samples received from clients",
		},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_decode_errors_total",
			Help: "Total number of messages that failed to decode",
		},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remoteio_connections_active",
			Help: "Number of connections in the server table",
		},
	)

	ConnectionsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_connections_removed_total",
			Help: "Total number of dead connections reclaimed by the supervisor",
		},
	)

	// Client side
	SentSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_sent_samples_total",
			Help: "Total number of samples sent to the remote",
		},
	)

	SendQueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_send_queue_drops_total",
			Help: "Total number of captured chunks dropped because the send queue was full",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteio_send_failures_total",
			Help: "Total number of failed transport sends",
		},
	)
)
