// Package config reads the harbor settings from the command line, falling back to
// HARBOR_* environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const usage = `
harbor
================================================================================

  harbor [OPTIONS]

OPTIONS
-------

  -addr          <addr>     # listen address (default: %s)
  -script-name   <path>     # mount point handed to the application as SCRIPT_NAME
  -workers       <n>        # worker goroutines (default: 2 * GOMAXPROCS)
  -queue-size    <n>        # dispatch queue capacity (default: %d)
  -serialize                # run application code under one lock (default: true)
  -docroot       <path>     # directory served below /static/
  -admin-addr    <addr>     # listen address of /healthz and /stats, empty disables
  -stats-every   <duration> # log a stats line at this interval, 0 disables
  -log-level     <level>    # debug, info, warn or error (default: info)
  -otlp-endpoint <url>      # OTLP gRPC endpoint, empty disables export

  Every option can also be set as HARBOR_<OPTION> in the environment, with dashes
  written as underscores. Flags win over the environment.

`

const (
	DefaultAddr      = "127.0.0.1:7878"
	DefaultQueueSize = 2000
)

type Config struct {
	Addr         string
	ScriptName   string
	Workers      int
	QueueSize    int
	Serialize    bool
	Docroot      string
	AdminAddr    string
	StatsEvery   time.Duration
	LogLevel     slog.Level
	OTLPEndpoint string
}

// Load parses args (without the program name). getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string, output io.Writer) (Config, error) {
	cfg := Config{
		Addr:      DefaultAddr,
		Workers:   2 * runtime.GOMAXPROCS(0),
		QueueSize: DefaultQueueSize,
		Serialize: true,
		LogLevel:  slog.LevelInfo,
	}

	var errs []error
	env := func(name string, apply func(string) error) {
		value := getenv("HARBOR_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
		if value == "" {
			return
		}
		if err := apply(value); err != nil {
			errs = append(errs, fmt.Errorf("config: HARBOR_%s: %w", strings.ToUpper(strings.ReplaceAll(name, "-", "_")), err))
		}
	}
	setString := func(dst *string) func(string) error {
		return func(value string) error { *dst = value; return nil }
	}
	setInt := func(dst *int) func(string) error {
		return func(value string) (err error) { *dst, err = strconv.Atoi(value); return err }
	}

	env("addr", setString(&cfg.Addr))
	env("script-name", setString(&cfg.ScriptName))
	env("workers", setInt(&cfg.Workers))
	env("queue-size", setInt(&cfg.QueueSize))
	env("serialize", func(value string) (err error) { cfg.Serialize, err = strconv.ParseBool(value); return err })
	env("docroot", setString(&cfg.Docroot))
	env("admin-addr", setString(&cfg.AdminAddr))
	env("stats-every", func(value string) (err error) { cfg.StatsEvery, err = time.ParseDuration(value); return err })
	env("log-level", func(value string) error { return cfg.LogLevel.UnmarshalText([]byte(value)) })
	env("otlp-endpoint", setString(&cfg.OTLPEndpoint))
	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}

	flags := flag.NewFlagSet("harbor", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.Usage = func() {
		fmt.Fprintf(output, usage, DefaultAddr, DefaultQueueSize)
	}
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	flags.StringVar(&cfg.ScriptName, "script-name", cfg.ScriptName, "")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "")
	flags.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "")
	flags.BoolVar(&cfg.Serialize, "serialize", cfg.Serialize, "")
	flags.StringVar(&cfg.Docroot, "docroot", cfg.Docroot, "")
	flags.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "")
	flags.DurationVar(&cfg.StatsEvery, "stats-every", cfg.StatsEvery, "")
	flags.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "")
	flags.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}
	if flags.NArg() > 0 {
		return cfg, fmt.Errorf("config: unexpected arguments %q", flags.Args())
	}

	return cfg, cfg.Validate()
}

// Validate reports every problem at once.
func (cfg Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		errs = append(errs, fmt.Errorf("config: addr %q: %w", cfg.Addr, err))
	}
	if cfg.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.AdminAddr); err != nil {
			errs = append(errs, fmt.Errorf("config: admin-addr %q: %w", cfg.AdminAddr, err))
		}
	}
	if cfg.Workers < 1 {
		errs = append(errs, fmt.Errorf("config: workers must be at least 1, got %d", cfg.Workers))
	}
	if cfg.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("config: queue-size must be at least 1, got %d", cfg.QueueSize))
	}
	if cfg.StatsEvery < 0 {
		errs = append(errs, fmt.Errorf("config: stats-every must not be negative, got %s", cfg.StatsEvery))
	}
	if cfg.ScriptName != "" && !strings.HasPrefix(cfg.ScriptName, "/") {
		errs = append(errs, fmt.Errorf("config: script-name must start with /, got %q", cfg.ScriptName))
	}
	if cfg.Docroot != "" {
		if info, err := os.Stat(cfg.Docroot); err != nil {
			errs = append(errs, fmt.Errorf("config: docroot: %w", err))
		} else if !info.IsDir() {
			errs = append(errs, fmt.Errorf("config: docroot %q is not a directory", cfg.Docroot))
		}
	}

	return errors.Join(errs...)
}
