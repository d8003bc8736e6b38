// Package switchboard routes local input devices to local output devices through
// in-memory ring bridges.
package switchboard

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/audio/ring"
	"remoteio/internal/metrics"
)

type Options struct {
	// Latency is the target bridge latency. Defaults to config.BridgeLatency.
	Latency time.Duration
	Logger  *zerolog.Logger
}

// Route is one active producer -> consumer bridge.
type Route struct {
	Producer device.Device       `json:"producer"`
	Consumer device.Device       `json:"consumer"`
	Config   config.StreamConfig `json:"config"`
	Capacity int                 `json:"capacity"`
}

type bridge struct {
	route  Route
	ring   *ring.Buffer
	input  device.Stream
	output device.Stream
}

// Switchboard owns every local bridge. Each producer feeds at most one bridge.
type Switchboard struct {
	registry device.Registry
	latency  time.Duration
	logger   zerolog.Logger
	sampled  zerolog.Logger

	mu      sync.Mutex
	bridges map[string]*bridge
}

func New(reg device.Registry, opts Options) *Switchboard {
	if opts.Latency <= 0 {
		opts.Latency = config.BridgeLatency
	}
	logger := log.With().Str("component", "switchboard").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Switchboard{
		registry: reg,
		latency:  opts.Latency,
		logger:   logger,
		sampled:  logger.Sample(&zerolog.BurstSampler{Burst: 1, Period: time.Second}),
		bridges:  make(map[string]*bridge),
	}
}

// Connect starts streaming producer into consumer. Any bridge the producer already
// feeds is torn down first.
func (sb *Switchboard) Connect(producer, consumer device.Device) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if old, ok := sb.bridges[producer.Key()]; ok {
		delete(sb.bridges, producer.Key())
		sb.teardown(old)
	}

	br, err := sb.build(producer, consumer)
	if err != nil {
		return err
	}
	sb.bridges[producer.Key()] = br
	metrics.BridgesActive.Set(float64(len(sb.bridges)))

	sb.logger.Info().
		Str("producer", producer.Name).
		Str("consumer", consumer.Name).
		Str("config", br.route.Config.String()).
		Int("capacity", br.route.Capacity).
		Msg("Bridge connected")
	return nil
}

func (sb *Switchboard) build(producer, consumer device.Device) (*bridge, error) {
	cfg, err := sb.registry.DefaultInputConfig(producer)
	if err != nil {
		return nil, fmt.Errorf("producer %q config: %w", producer.Name, err)
	}
	outCfg, err := sb.registry.DefaultOutputConfig(consumer)
	if err != nil {
		return nil, fmt.Errorf("consumer %q config: %w", consumer.Name, err)
	}
	// the consumer is opened in the producer's format, the backend converts
	outCfg.Channels = cfg.Channels
	outCfg.SampleRate = cfg.SampleRate

	latency := cfg.LatencySamples(sb.latency)
	rb := ring.New(2 * latency)
	br := &bridge{
		route: Route{Producer: producer, Consumer: consumer, Config: cfg, Capacity: rb.Cap()},
		ring:  rb,
	}

	br.output, err = sb.registry.BuildOutputStream(consumer, outCfg, func(out []float32) {
		if missing := rb.Read(out); missing > 0 {
			metrics.RingUnderrunSamples.Add(float64(missing))
			sb.sampled.Warn().Str("consumer", consumer.Name).Int("missing", missing).
				Msg("Input stream fell behind")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("output stream on %q: %w", consumer.Name, err)
	}

	br.input, err = sb.registry.BuildInputStream(producer, cfg, func(samples []float32) {
		if dropped := rb.Write(samples); dropped > 0 {
			metrics.RingOverrunSamples.Add(float64(dropped))
			sb.sampled.Warn().Str("producer", producer.Name).Int("dropped", dropped).
				Msg("Output stream fell behind")
		}
	})
	if err != nil {
		_ = br.output.Close()
		return nil, fmt.Errorf("input stream on %q: %w", producer.Name, err)
	}

	if err := br.input.Play(); err != nil {
		sb.teardown(br)
		return nil, fmt.Errorf("play %q: %w", producer.Name, err)
	}
	if err := br.output.Play(); err != nil {
		sb.teardown(br)
		return nil, fmt.Errorf("play %q: %w", consumer.Name, err)
	}
	return br, nil
}

func (sb *Switchboard) teardown(br *bridge) {
	if br.input != nil {
		if err := br.input.Close(); err != nil {
			sb.logger.Warn().Err(err).Str("producer", br.route.Producer.Name).Msg("Closing input stream")
		}
	}
	if br.output != nil {
		if err := br.output.Close(); err != nil {
			sb.logger.Warn().Err(err).Str("consumer", br.route.Consumer.Name).Msg("Closing output stream")
		}
	}
	metrics.BridgesActive.Set(float64(len(sb.bridges)))
}

// Disconnect tears down the bridge fed by producer. It reports whether one existed.
func (sb *Switchboard) Disconnect(producer device.Device) bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	br, ok := sb.bridges[producer.Key()]
	if !ok {
		return false
	}
	delete(sb.bridges, producer.Key())
	sb.teardown(br)
	sb.logger.Info().Str("producer", producer.Name).Msg("Bridge disconnected")
	return true
}

// State maps each producer name to the consumer it feeds.
func (sb *Switchboard) State() map[string]string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	state := make(map[string]string, len(sb.bridges))
	for _, br := range sb.bridges {
		state[br.route.Producer.Name] = br.route.Consumer.Name
	}
	return state
}

// Routes lists active bridges ordered by producer name.
func (sb *Switchboard) Routes() []Route {
	sb.mu.Lock()
	routes := make([]Route, 0, len(sb.bridges))
	for _, br := range sb.bridges {
		routes = append(routes, br.route)
	}
	sb.mu.Unlock()

	sort.Slice(routes, func(i, j int) bool { return routes[i].Producer.Key() < routes[j].Producer.Key() })
	return routes
}

// CorrectState makes every producer named in target feed the named consumer.
// Pairs already in place are left alone and bridges absent from target are kept.
// A pair whose names do not resolve is skipped; all such failures are returned
// together once the remaining pairs have been applied.
func (sb *Switchboard) CorrectState(target map[string]string) error {
	inputs, err := sb.registry.InputDevices()
	if err != nil {
		return err
	}
	outputs, err := sb.registry.OutputDevices()
	if err != nil {
		return err
	}
	inTable, outTable := device.NewTable(inputs), device.NewTable(outputs)

	names := make([]string, 0, len(target))
	for name := range target {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, pname := range names {
		cname := target[pname]
		producer, err := inTable.Lookup(pname)
		if err != nil {
			errs = append(errs, fmt.Errorf("producer: %w", err))
			continue
		}
		consumer, err := outTable.Lookup(cname)
		if err != nil {
			errs = append(errs, fmt.Errorf("consumer for %q: %w", pname, err))
			continue
		}
		if sb.feeds(producer, consumer) {
			continue
		}
		if err := sb.Connect(producer, consumer); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (sb *Switchboard) feeds(producer, consumer device.Device) bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	br, ok := sb.bridges[producer.Key()]
	return ok && br.route.Consumer.Equal(consumer)
}

// Close tears down every bridge.
func (sb *Switchboard) Close() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for key, br := range sb.bridges {
		delete(sb.bridges, key)
		sb.teardown(br)
	}
}
