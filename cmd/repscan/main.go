// Command repscan looks up the reputation of IP addresses and domains.
//
// Usage (single lookups):
//
//	repscan lookup 8.8.8.8 example.com
//
// Usage (batch from the latest harvested list):
//
//	repscan batch --latest latest_file.txt
//
// Usage (harvest public peers of this host, then look them up):
//
//	repscan harvest --dir lists && repscan batch --latest lists/latest_file.txt
//
// Usage (print the last stored result without a new lookup):
//
//	repscan show 8.8.8.8
//
// Debug (print what one locator resolves to on a saved page):
//
//	repscan locators --debug-html page.html --field HOSTNAME --text
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repscan/internal/config"
	"repscan/internal/harvest"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "repscan/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, deps{})
	stop()
	os.Exit(code)
}

// deps are the process-level collaborators run would otherwise reach for
// globally. Zero values select the real implementations.
type deps struct {
	HTTPClient *http.Client
	Lister     harvest.Lister
	Now        func() time.Time
}

// usageError marks failures caused by how the command was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	d deps,
) int {
	if d.Now == nil {
		d.Now = time.Now
	}
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, deps: d}

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "repscan: %v\n", err)

	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

// app holds what every subcommand needs after the root has loaded config.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	deps   deps

	cfgPath     string
	verbose     bool
	output      string
	metricsTags string

	cfg    config.Config
	logger *slog.Logger
}

// skipConfig marks commands that must run without a loadable config.
const skipConfig = "skip-config"

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "repscan",
		Short:         "repscan looks up reputation and geolocation data for IPs and domains.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				a.logger = newLogger(a.stderr, config.Default().Log, a.verbose)
				return nil
			}
			return a.loadConfig(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", config.DefaultPath, "path to the YAML config; a missing default file means built-in defaults")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")
	pf.StringVarP(&a.output, "output", "o", "", "result format: listing, table or json (overrides config)")
	pf.StringVar(&a.metricsTags, "metrics-tags", "", "extra metric tags as CSV, e.g. env:prod,team:abuse")

	root.AddCommand(
		a.lookupCommand(),
		a.batchCommand(),
		a.showCommand(),
		a.harvestCommand(),
		a.locatorsCommand(),
		a.configCommand(),
	)
	return root
}

// loadConfig reads and validates config, then applies flag overrides.
func (a *app) loadConfig(cmd *cobra.Command) error {
	explicit := cmd.Flags().Changed("config")
	cfg, err := config.Load(a.cfgPath, !explicit)
	if err != nil {
		return usageError{err}
	}
	if a.output != "" {
		cfg.Output = a.output
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(a.stderr, iss.String())
	}
	if config.HasErrors(issues) {
		return usagef("configuration is invalid: %s", a.cfgPath)
	}

	a.cfg = cfg
	a.logger = newLogger(a.stderr, cfg.Log, a.verbose)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig, verbose bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
