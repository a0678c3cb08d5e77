package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes
const (
	exitUserError          = 1
	exitBackendUnavailable = 2
	exitUncaught           = 3
)

var configPath string

// commandRan distinguishes flag-parse failures (user error) from
// failures inside a handler
var commandRan bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var uerr *usageError
	switch {
	case errors.As(err, &uerr):
		return exitUserError
	case strategy.IsUnavailable(err):
		return exitBackendUnavailable
	case !commandRan:
		return exitUserError
	}
	return exitUncaught
}

// usageError marks a mistake the caller can fix: a missing flag, an
// unknown entity or strategy name
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "search",
	Short: "Search - multi-tenant hybrid search service",
	Long: `Search runs hybrid full-text, vector, and token-hash search over
the entity projections of a multi-tenant application. One binary serves
ad-hoc queries, maintains indexes, and consumes the indexing queues.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Search version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(workerCmd)
}
