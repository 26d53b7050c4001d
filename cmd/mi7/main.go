// Binary mi7 runs the processes of the mi7 shared memory task queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/gx1727/mi7soft/internal/config"
)

var configPath = flag.String("config", "", "path to the TOML config file. Defaults to the first of "+
	"config.toml and ./config/config.toml that exists.")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(new(Daemon), "processes")
	subcommands.Register(new(Worker), "processes")
	subcommands.Register(new(Entry), "processes")

	subcommands.Register(new(Status), "tools")
	subcommands.Register(new(Send), "tools")
	subcommands.Register(new(Recover), "tools")
	subcommands.Register(new(Config), "tools")

	flag.Parse()

	var (
		cfg  *config.Config
		path string
		err  error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		path = *configPath
	} else {
		cfg, path, err = config.Find()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mi7: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx, cfg, path)
	stop()
	os.Exit(int(status))
}

// fatalf prints to stderr and returns ExitFailure.
func fatalf(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "mi7: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func configArg(args []any) *config.Config {
	return args[0].(*config.Config)
}
