package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"github.com/sugawarayuuta/sonnet"

	"github.com/gx1727/mi7soft/internal/command"
	"github.com/gx1727/mi7soft/internal/config"
	"github.com/gx1727/mi7soft/mi7"
)

// queueFlag selects the queue a tool works on.
type queueFlag struct {
	name string
}

func (q *queueFlag) register(f *flag.FlagSet) {
	f.StringVar(&q.name, "queue", "", "queue name, overriding queue.name.")
}

func (q *queueFlag) open(cfg *config.Config) (*mi7.Queue, error) {
	name := q.name
	if name == "" {
		name = cfg.Queue.Name
	}
	return mi7.Connect(name)
}

// Status implements subcommands.Command for the "status" command.
type Status struct {
	queueFlag
	json bool
}

// Name implements subcommands.Command.Name.
func (*Status) Name() string {
	return "status"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Status) Synopsis() string {
	return "print the state of a queue"
}

// Usage implements subcommands.Command.Usage.
func (*Status) Usage() string {
	return "status [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Status) SetFlags(f *flag.FlagSet) {
	s.register(f)
	f.BoolVar(&s.json, "json", false, "print JSON.")
}

// Execute implements subcommands.Command.Execute.
func (s *Status) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	q, err := s.open(configArg(args))
	if err != nil {
		return fatalf("%v", err)
	}
	defer q.Close()

	snap := q.Snapshot()
	if s.json {
		b, err := sonnet.Marshal(snap)
		if err != nil {
			return fatalf("%v", err)
		}
		fmt.Printf("%s\n", b)
		return subcommands.ExitSuccess
	}
	fmt.Printf("queue:      %s (%s)\n", snap.Name, q.Geometry())
	fmt.Printf("health:     %s\n", snap.Health)
	fmt.Printf("occupied:   %d/%d\n", snap.Occupied, snap.Capacity)
	fmt.Printf("slots:      empty=%d writing=%d full=%d reading=%d\n",
		snap.Empty, snap.Writing, snap.Full, snap.Reading)
	fmt.Printf("lock:       %d\n", snap.LockHolder)
	fmt.Printf("next seq:   %d\n", snap.NextSequence)
	return subcommands.ExitSuccess
}

// Send implements subcommands.Command for the "send" command.
type Send struct {
	queueFlag
	id      uint64
	kind    string
	path    string
	method  string
	topic   string
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Send) Name() string {
	return "send"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Send) Synopsis() string {
	return "enqueue one command"
}

// Usage implements subcommands.Command.Usage.
func (*Send) Usage() string {
	return "send [flags] [body]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Send) SetFlags(f *flag.FlagSet) {
	s.register(f)
	f.Uint64Var(&s.id, "id", 0, "command id. Zero lets the queue assign one.")
	f.StringVar(&s.kind, "kind", string(command.HTTPRequest), "command kind.")
	f.StringVar(&s.path, "path", "/", "request path for http_request.")
	f.StringVar(&s.method, "method", "POST", "request method for http_request.")
	f.StringVar(&s.topic, "topic", "", "topic for mqtt_publish.")
	f.DurationVar(&s.timeout, "timeout", time.Second, "how long to wait for a free slot.")
}

// Execute implements subcommands.Command.Execute.
func (s *Send) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	body := []byte(strings.Join(f.Args(), " "))
	cmd := &command.Command{ID: s.id, Kind: command.Kind(s.kind)}
	switch cmd.Kind {
	case command.HTTPRequest:
		cmd.Path, cmd.Method, cmd.Body = s.path, s.method, body
	case command.MQTTPublish:
		cmd.Topic, cmd.Payload = s.topic, body
	default:
		cmd.Payload = body
	}
	msg, err := command.ToMessage(cmd)
	if err != nil {
		return fatalf("%v", err)
	}

	q, err := s.open(configArg(args))
	if err != nil {
		return fatalf("%v", err)
	}
	defer q.Close()
	if err := q.SendTimeout(msg, s.timeout); err != nil {
		return fatalf("%v", err)
	}
	fmt.Printf("sent %s command to %s\n", cmd.Kind, q.Name())
	return subcommands.ExitSuccess
}

// Recover implements subcommands.Command for the "recover" command.
type Recover struct {
	queueFlag
}

// Name implements subcommands.Command.Name.
func (*Recover) Name() string {
	return "recover"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Recover) Synopsis() string {
	return "reset slots abandoned by dead processes"
}

// Usage implements subcommands.Command.Usage.
func (*Recover) Usage() string {
	return "recover [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Recover) SetFlags(f *flag.FlagSet) {
	r.register(f)
}

// Execute implements subcommands.Command.Execute.
func (r *Recover) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	q, err := r.open(configArg(args))
	if err != nil {
		return fatalf("%v", err)
	}
	defer q.Close()
	n, err := q.Recover()
	if err != nil {
		return fatalf("%v", err)
	}
	fmt.Printf("recovered %d slots\n", n)
	return subcommands.ExitSuccess
}

// Config implements subcommands.Command for the "config" command.
type Config struct {
	write    string
	defaults bool
}

// Name implements subcommands.Command.Name.
func (*Config) Name() string {
	return "config"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Config) Synopsis() string {
	return "validate and print the effective config, or write it to a file"
}

// Usage implements subcommands.Command.Usage.
func (*Config) Usage() string {
	return "config [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Config) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.write, "write", "", "write the config to this path instead of printing it.")
	f.BoolVar(&c.defaults, "defaults", false, "use the built-in defaults instead of the loaded file.")
}

// Execute implements subcommands.Command.Execute.
func (c *Config) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := configArg(args)
	if c.defaults {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return fatalf("%v", err)
	}
	if c.write != "" {
		if err := cfg.Save(c.write); err != nil {
			return fatalf("%v", err)
		}
		fmt.Printf("wrote %s\n", c.write)
		return subcommands.ExitSuccess
	}
	if path, _ := args[1].(string); path != "" {
		fmt.Printf("# loaded from %s\n", path)
	} else {
		fmt.Println("# built-in defaults")
	}
	if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
		return fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
