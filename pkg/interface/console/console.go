// Package console is a numbered stdin menu over the running components.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"remoteio/internal/audio/device"
	"remoteio/internal/audio/switchboard"
	"remoteio/internal/stream"
)

// Item is one menu entry. When Prompt is set the user is asked for an
// argument before Run is called.
type Item struct {
	Label  string
	Prompt string
	Run    func(ctx context.Context, arg string) (string, error)
}

type Console struct {
	in    *bufio.Reader
	out   io.Writer
	items []Item
}

func New(in io.Reader, out io.Writer, items ...Item) *Console {
	return &Console{in: bufio.NewReader(in), out: out, items: items}
}

func (c *Console) menu() string {
	var b strings.Builder
	for i, item := range c.items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Label)
	}
	fmt.Fprintf(&b, "%d. Exit", len(c.items)+1)
	return b.String()
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Run serves the menu until Exit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Menu:")
	fmt.Fprintln(c.out, c.menu())
	for ctx.Err() == nil {
		fmt.Fprint(c.out, "Enter choice: ")
		input, err := c.readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		choice, err := strconv.Atoi(input)
		switch {
		case err != nil || choice < 1 || choice > len(c.items)+1:
			fmt.Fprintln(c.out, "Invalid choice, please try again.")
			continue
		case choice == len(c.items)+1:
			fmt.Fprintln(c.out, "Exiting...")
			return nil
		}

		item := c.items[choice-1]
		var arg string
		if item.Prompt != "" {
			fmt.Fprint(c.out, item.Prompt+": ")
			if arg, err = c.readLine(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
		}
		result, err := item.Run(ctx, arg)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			continue
		}
		if result != "" {
			fmt.Fprintln(c.out, result)
		}
	}
	return ctx.Err()
}

func listDevices(reg device.Registry) Item {
	return Item{Label: "List devices", Run: func(context.Context, string) (string, error) {
		inputs, err := reg.InputDevices()
		if err != nil {
			return "", err
		}
		outputs, err := reg.OutputDevices()
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteString("Inputs:")
		for _, d := range inputs {
			writeDevice(&b, d)
		}
		b.WriteString("\nOutputs:")
		for _, d := range outputs {
			writeDevice(&b, d)
		}
		return b.String(), nil
	}}
}

func writeDevice(b *strings.Builder, d device.Device) {
	b.WriteString("\n  " + d.Name)
	if d.Default {
		b.WriteString(" (default)")
	}
}

// ServerItems drives a stream server.
func ServerItems(reg device.Registry, srv *stream.Server) []Item {
	return []Item{
		{Label: "List clients", Run: func(context.Context, string) (string, error) {
			clients := srv.ListClients()
			if len(clients) == 0 {
				return "No clients connected", nil
			}
			lines := make([]string, len(clients))
			for i, c := range clients {
				lines[i] = fmt.Sprintf("%s  %s  %s  alive=%t buffered=%d", c.Key, c.Remote, c.Config, c.Alive, c.Buffered)
			}
			return strings.Join(lines, "\n"), nil
		}},
		{Label: "Disconnect client", Prompt: "Client key", Run: func(_ context.Context, key string) (string, error) {
			info, err := srv.DisconnectClient(key)
			if err != nil {
				return "", err
			}
			return "Disconnected " + info.Key, nil
		}},
		{Label: "Change output device", Prompt: "Output name (empty for default)", Run: func(_ context.Context, name string) (string, error) {
			dev, err := device.ResolveOutput(reg, name)
			if err != nil {
				return "", err
			}
			if err := srv.ChangeOutputDevice(dev); err != nil {
				return "", err
			}
			return "Playing on " + dev.Name, nil
		}},
		listDevices(reg),
	}
}

// ClientItems drives a stream client.
func ClientItems(reg device.Registry, cli *stream.Client) []Item {
	return []Item{
		{Label: "Status", Run: func(context.Context, string) (string, error) {
			st := cli.Status()
			return fmt.Sprintf("%s  %s  %s  %s", st.Name, st.State, st.Mode, st.Config), nil
		}},
		{Label: "Change source device", Prompt: "Input name (empty for default)", Run: func(ctx context.Context, name string) (string, error) {
			dev, err := device.ResolveInput(reg, name)
			if err != nil {
				return "", err
			}
			if err := cli.ChangeSourceDevice(ctx, dev); err != nil {
				return "", err
			}
			return "Capturing " + dev.Name, nil
		}},
		listDevices(reg),
	}
}

// LocalItems drives the local switchboard.
func LocalItems(reg device.Registry, sb *switchboard.Switchboard) []Item {
	return []Item{
		{Label: "Show topology", Run: func(context.Context, string) (string, error) {
			routes := sb.Routes()
			if len(routes) == 0 {
				return "No routes", nil
			}
			lines := make([]string, len(routes))
			for i, r := range routes {
				lines[i] = fmt.Sprintf("%s -> %s  %s", r.Producer.Name, r.Consumer.Name, r.Config)
			}
			return strings.Join(lines, "\n"), nil
		}},
		{Label: "Connect", Prompt: "producer -> consumer", Run: func(_ context.Context, arg string) (string, error) {
			pname, cname, ok := strings.Cut(arg, "->")
			if !ok {
				return "", errors.New("expected: producer -> consumer")
			}
			producer, err := device.FindInput(reg, pname)
			if err != nil {
				return "", err
			}
			consumer, err := device.FindOutput(reg, cname)
			if err != nil {
				return "", err
			}
			if err := sb.Connect(producer, consumer); err != nil {
				return "", err
			}
			return producer.Name + " -> " + consumer.Name, nil
		}},
		{Label: "Disconnect", Prompt: "Producer name", Run: func(_ context.Context, name string) (string, error) {
			producer, err := device.FindInput(reg, name)
			if err != nil {
				return "", err
			}
			if !sb.Disconnect(producer) {
				return "No route from " + producer.Name, nil
			}
			return "Disconnected " + producer.Name, nil
		}},
		listDevices(reg),
	}
}
