// Command korucli inspects Vulkan devices, renders frame graphs headless
// and packs resource archives.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/devblok/korurt/core"
	log "github.com/sirupsen/logrus"
)

func main() {
	os.Exit(korucli(os.Args[1:], os.Stdout, os.Stderr))
}

type command struct {
	summary string
	run     func(env *environment, args []string) error
}

var commands = map[string]command{
	"devices": {"print the Vulkan physical devices as JSON", devices},
	"run":     {"render a frame graph headless", run},
	"pack":    {"pack a directory into a kar archive", pack},
	"ls":      {"list the files of a kar archive", ls},
}

// environment is what a command runs against.
type environment struct {
	stdout io.Writer
	stderr io.Writer
	config core.Configuration
	log    *log.Logger
}

func (env *environment) flags(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.Usage = func() {
		fmt.Fprintf(env.stderr, "usage: korucli %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

var errUsage = errors.New("usage")

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: korucli <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s  %s\n", name, commands[name].summary)
	}
}

func korucli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "korucli: unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	cfg, err := core.ConfigurationFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "korucli: %s\n", err)
		return 1
	}
	logger := log.New()
	logger.SetOutput(stderr)
	logger.SetLevel(cfg.Level())

	env := &environment{
		stdout: stdout,
		stderr: stderr,
		config: cfg,
		log:    logger,
	}
	if err := cmd.run(env, args[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "korucli %s: %s\n", args[0], err)
		return 1
	}
	return 0
}
