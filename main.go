package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

var flagDebug bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(ExitError)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleamarket",
		Short: "Collect flea market announcements from the forum",
		Long: `Fetches flea market posts from the forum, normalizes them into structured
records with a language model, and stores them locally and remotely.
Runs are incremental: posts already fetched or normalized are never redone.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	root.AddCommand(newRunCmd(), newServeCmd(), newGeocodeCmd(), newExportCmd())
	return root
}

// errRunFailed reports a pipeline run whose summary is already printed.
var errRunFailed = errors.New("pipeline run failed")
