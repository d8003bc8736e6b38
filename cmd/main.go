package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	audioconfig "remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/audio/filedevice"
	"remoteio/internal/audio/host"
	"remoteio/internal/audio/switchboard"
	"remoteio/internal/control"
	"remoteio/internal/stream"
	"remoteio/pkg/config"
	"remoteio/pkg/interface/console"
	"remoteio/pkg/logger"
	"remoteio/pkg/system"
	"remoteio/pkg/web"
)

const usage = `usage: remoteio [-config file] <command>

commands:
  server   play connected clients on an output device
  client   stream an input device to a server
  local    route local inputs to local outputs
  devices  list audio devices`

func main() {
	configPath := flag.String("config", "", "config file (yaml, json, toml or .env)")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.InitLogger(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, closeRegistry, err := openRegistry(cfg.Devices)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio backend")
	}
	defer closeRegistry()

	switch cmd := flag.Arg(0); cmd {
	case "server":
		err = runServer(ctx, cfg, reg)
	case "client":
		err = runClient(ctx, cfg, reg)
	case "local":
		err = runLocal(ctx, cfg, reg)
	case "devices":
		err = listDevices(reg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Exiting")
		closeRegistry()
		os.Exit(1)
	}
}

func openRegistry(cfg config.DevicesConfig) (device.Registry, func(), error) {
	switch cfg.Backend {
	case "file":
		reg := filedevice.New(filedevice.Options{Dir: cfg.Dir, Sinks: cfg.Sinks})
		return reg, func() {}, nil
	case "virtual":
		reg := device.NewVirtual()
		reg.AddInput("Virtual Input", audioconfig.Default())
		reg.AddOutput("Virtual Output", audioconfig.Default())
		return reg, func() {}, nil
	default:
		reg, err := host.New()
		if err != nil {
			return nil, nil, err
		}
		return reg, func() {
			if err := reg.Close(); err != nil {
				log.Warn().Err(err).Msg("Closing audio context")
			}
		}, nil
	}
}

// serveControl starts the HTTP control plane and the console when configured.
func serveControl(ctx context.Context, cfg *config.Config, opts control.Options, items []console.Item) {
	if cfg.Control.Listen != "" {
		go func() {
			if err := web.Serve(ctx, cfg.Control.Listen, control.NewRouter(opts), nil); err != nil {
				log.Error().Err(err).Msg("Control plane stopped")
			}
		}()
	}
	if cfg.Control.Console {
		go func() {
			if err := console.New(os.Stdin, os.Stdout, items...).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Console stopped")
			}
		}()
	}
}

func runServer(ctx context.Context, cfg *config.Config, reg device.Registry) error {
	out, err := device.ResolveOutput(reg, cfg.Server.Output)
	if err != nil {
		return err
	}
	srv, err := stream.NewServer(reg, stream.ServerOptions{
		Output:        out,
		JitterBatches: cfg.Server.JitterBatches,
		IdleTimeout:   cfg.Server.IdleTimeout,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	go stream.NewSupervisor(srv, cfg.Server.SweepInterval).Run(ctx)
	serveControl(ctx, cfg, control.Options{Registry: reg, Server: srv}, console.ServerItems(reg, srv))

	log.Info().
		Str("transport", cfg.Server.Transport).
		Str("listen", cfg.Server.Listen).
		Str("output", out.Name).
		Msg("Server starting")
	return serve(ctx, cfg, srv)
}

func runClient(ctx context.Context, cfg *config.Config, reg device.Registry) error {
	mode, err := stream.ParseMode(cfg.Client.Mode)
	if err != nil {
		return err
	}
	if cfg.Client.Transport == "datagram" && mode != stream.ModeMultiplexed {
		log.Warn().Msg("Datagram transport carries aliased messages only, switching to multiplexed mode")
		mode = stream.ModeMultiplexed
	}
	alias := cfg.Client.Alias
	if mode == stream.ModeMultiplexed && alias == "" {
		alias = system.DefaultAlias()
	}

	dev, err := device.ResolveInput(reg, cfg.Client.Input)
	if err != nil {
		return err
	}
	dialer, closeDialer, err := newDialer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDialer()

	cli := stream.NewClient(reg, dialer, dev, stream.ClientOptions{
		Mode:       mode,
		Alias:      alias,
		FrameSize:  cfg.Client.FrameSize,
		QueueDepth: cfg.Client.QueueDepth,
	})
	defer cli.Close()

	if err := cli.Connect(ctx, cfg.Client.Remote); err != nil {
		return err
	}
	serveControl(ctx, cfg, control.Options{Registry: reg, Client: cli}, console.ClientItems(reg, cli))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !cli.IsAlive() {
				return fmt.Errorf("connection to %s lost", cfg.Client.Remote)
			}
		}
	}
}

func runLocal(ctx context.Context, cfg *config.Config, reg device.Registry) error {
	sb := switchboard.New(reg, switchboard.Options{Latency: cfg.Local.Latency})
	defer sb.Close()

	if err := sb.CorrectState(cfg.Local.Topology); err != nil {
		log.Warn().Err(err).Msg("Some routes could not be connected")
	}
	serveControl(ctx, cfg, control.Options{Registry: reg, Switchboard: sb}, console.LocalItems(reg, sb))

	<-ctx.Done()
	return ctx.Err()
}

func listDevices(reg device.Registry) error {
	inputs, err := reg.InputDevices()
	if err != nil {
		return err
	}
	outputs, err := reg.OutputDevices()
	if err != nil {
		return err
	}
	show := func(title string, devs []device.Device, defaultConfig func(device.Device) (audioconfig.StreamConfig, error)) {
		fmt.Println(title)
		for _, d := range devs {
			mark := " "
			if d.Default {
				mark = "*"
			}
			cfg, err := defaultConfig(d)
			if err != nil {
				fmt.Printf(" %s %s  (%v)\n", mark, d.Name, err)
				continue
			}
			fmt.Printf(" %s %s  %s\n", mark, d.Name, cfg)
		}
	}
	show("Inputs:", inputs, reg.DefaultInputConfig)
	show("Outputs:", outputs, reg.DefaultOutputConfig)
	return nil
}
