package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/gx1727/mi7soft/internal/attach"
	"github.com/gx1727/mi7soft/internal/config"
	"github.com/gx1727/mi7soft/internal/daemon"
	"github.com/gx1727/mi7soft/internal/entry"
	"github.com/gx1727/mi7soft/internal/journal"
	"github.com/gx1727/mi7soft/internal/logging"
	"github.com/gx1727/mi7soft/internal/worker"
)

// Daemon implements subcommands.Command for the "daemon" command.
type Daemon struct{}

// Name implements subcommands.Command.Name.
func (*Daemon) Name() string {
	return "daemon"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Daemon) Synopsis() string {
	return "create the task queue and watch over it until interrupted"
}

// Usage implements subcommands.Command.Usage.
func (*Daemon) Usage() string {
	return "daemon\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Daemon) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Daemon) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := configArg(args)
	if err := cfg.Validate(); err != nil {
		return fatalf("%v", err)
	}
	log, closer, err := logging.New(cfg.Logging, "daemon", "")
	if err != nil {
		return fatalf("%v", err)
	}
	defer closer.Close()
	dlog := log.WithField("component", "daemon")

	d := daemon.New(cfg, dlog)
	if err := d.Start(); err != nil {
		dlog.WithError(err).Error("start")
		return subcommands.ExitFailure
	}
	dlog.Info("running, interrupt to stop")
	if err := d.Run(ctx); err != nil {
		dlog.WithError(err).Error("stop")
		return subcommands.ExitFailure
	}
	dlog.Info("stopped")
	return subcommands.ExitSuccess
}

// Worker implements subcommands.Command for the "worker" command.
type Worker struct {
	id          string
	concurrency int
}

// Name implements subcommands.Command.Name.
func (*Worker) Name() string {
	return "worker"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Worker) Synopsis() string {
	return "consume commands from the task queue"
}

// Usage implements subcommands.Command.Usage.
func (*Worker) Usage() string {
	return "worker [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Worker) SetFlags(f *flag.FlagSet) {
	f.StringVar(&w.id, "id", "", "worker id. Defaults to the process id.")
	f.IntVar(&w.concurrency, "concurrency", 0, "operator goroutines, overriding worker.concurrency.")
}

// Execute implements subcommands.Command.Execute.
func (w *Worker) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := configArg(args)
	if w.concurrency > 0 {
		cfg.Worker.Concurrency = w.concurrency
	}
	if err := cfg.Validate(); err != nil {
		return fatalf("%v", err)
	}
	if w.id == "" {
		w.id = strconv.Itoa(os.Getpid())
	}
	id := fmt.Sprintf("%s-%s", cfg.Worker.LogPrefix, w.id)

	log, closer, err := logging.New(cfg.Logging, cfg.Worker.LogPrefix, cfg.Worker.LogLevel)
	if err != nil {
		return fatalf("%v", err)
	}
	defer closer.Close()
	wlog := log.WithFields(logrus.Fields{"component": "worker", "queue": cfg.Worker.InterfaceName})

	geo, err := cfg.InterfaceGeometry(cfg.Worker.InterfaceName, cfg.Worker.InterfaceType)
	if err != nil {
		return fatalf("%v", err)
	}
	q, err := attach.Connect(ctx, wlog, cfg.Worker.InterfaceName, geo)
	if err != nil {
		wlog.WithError(err).Error("attach")
		return subcommands.ExitFailure
	}
	defer q.Close()

	opts := worker.Options{Concurrency: cfg.Worker.Concurrency}
	if cfg.Worker.JournalPath != "" {
		j, err := journal.Open(cfg.Worker.JournalPath)
		if err != nil {
			wlog.WithError(err).Error("journal")
			return subcommands.ExitFailure
		}
		defer j.Close()
		opts.Journal = j
	}

	if err := worker.New(id, q, opts, wlog).Run(ctx); err != nil {
		wlog.WithError(err).Error("worker")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// Entry implements subcommands.Command for the "entry" command.
type Entry struct {
	addr string
}

// Name implements subcommands.Command.Name.
func (*Entry) Name() string {
	return "entry"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Entry) Synopsis() string {
	return "serve HTTP and enqueue every request as a command"
}

// Usage implements subcommands.Command.Usage.
func (*Entry) Usage() string {
	return "entry [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Entry) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.addr, "addr", "", "listen address, overriding http.bind_address and http.port.")
}

// Execute implements subcommands.Command.Execute.
func (e *Entry) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := configArg(args)
	if err := cfg.Validate(); err != nil {
		return fatalf("%v", err)
	}
	log, closer, err := logging.New(cfg.Logging, "entry", cfg.Entry.LogLevel)
	if err != nil {
		return fatalf("%v", err)
	}
	defer closer.Close()
	elog := log.WithFields(logrus.Fields{"component": "entry", "queue": cfg.Entry.InterfaceName})

	geo, err := cfg.InterfaceGeometry(cfg.Entry.InterfaceName, cfg.Entry.InterfaceType)
	if err != nil {
		return fatalf("%v", err)
	}
	q, err := attach.Connect(ctx, elog, cfg.Entry.InterfaceName, geo)
	if err != nil {
		elog.WithError(err).Error("attach")
		return subcommands.ExitFailure
	}
	defer q.Close()

	addr := e.addr
	if addr == "" {
		addr = cfg.Addr()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		elog.WithError(err).Error("listen")
		return subcommands.ExitFailure
	}
	srv := entry.NewServer(q, serverOptions(cfg), elog)
	if err := srv.Serve(ctx, ln); err != nil {
		elog.WithError(err).Error("serve")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func serverOptions(cfg *config.Config) entry.Options {
	return entry.Options{
		RetryTimeout:   cfg.RetryTimeout(),
		Timeout:        cfg.HTTPTimeout(),
		MaxConnections: cfg.HTTP.MaxConnections,
	}
}
