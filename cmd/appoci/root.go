package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/meigma/appoci"
	"github.com/meigma/appoci/config"
)

// Version is the semantic version (set via -ldflags).
var Version = "dev"

type globalFlags struct {
	configFile  string
	cacheDir    string
	plainHTTP   bool
	dockerAuth  bool
	token       string
	concurrency int
	verbose     bool
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string) int {
	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "appoci",
		Short:         "Push and pull multi-component applications as OCI artifacts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "config file (default $"+config.EnvConfig+")")
	pf.StringVar(&g.cacheDir, "cache-dir", "", "blob cache directory")
	pf.BoolVar(&g.plainHTTP, "plain-http", false, "talk to the registry without TLS")
	pf.BoolVar(&g.dockerAuth, "docker-auth", true, "read credentials from the Docker config")
	pf.StringVar(&g.token, "token", "", "bearer token presented to the registry")
	pf.IntVar(&g.concurrency, "concurrency", 0, "parallel blob transfers")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	open := func(cmd *cobra.Command) (*appoci.Client, error) {
		return g.client(cmd, stderr)
	}
	root.AddCommand(
		newPushCmd(open),
		newPullCmd(open),
		newFetchCmd(open),
		newResolveCmd(open),
		newTagCmd(open),
		newPruneCmd(open),
	)
	return root
}

// client builds an appoci client from the config file, the environment
// and the flags that were set explicitly.
func (g *globalFlags) client(cmd *cobra.Command, stderr io.Writer) (*appoci.Client, error) {
	level := log.InfoLevel
	if g.verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})

	opts := []appoci.Option{
		appoci.WithConfigFile(g.configFile),
		appoci.WithLogger(slog.New(handler)),
	}
	flags := cmd.Flags()
	if flags.Changed("cache-dir") {
		opts = append(opts, appoci.WithCacheDir(g.cacheDir))
	}
	if flags.Changed("plain-http") {
		opts = append(opts, appoci.WithPlainHTTP(g.plainHTTP))
	}
	if flags.Changed("concurrency") {
		opts = append(opts, appoci.WithConcurrency(g.concurrency))
	}
	switch {
	case g.token != "":
		opts = append(opts, appoci.WithBearerToken(g.token))
	case g.dockerAuth:
		opts = append(opts, appoci.WithDockerConfig())
	}
	return appoci.NewClient(opts...)
}

// Exit codes.
const (
	exitFailure  = 1
	exitUsage    = 2
	exitAuth     = 3
	exitNotFound = 4
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, appoci.ErrInvalidReference),
		errors.Is(err, appoci.ErrInvalidApplication),
		errors.Is(err, appoci.ErrInvalidConfig):
		return exitUsage
	case errors.Is(err, appoci.ErrUnauthorized), errors.Is(err, appoci.ErrForbidden):
		return exitAuth
	case errors.Is(err, appoci.ErrNotFound):
		return exitNotFound
	default:
		return exitFailure
	}
}
