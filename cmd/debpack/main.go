// Command debpack builds, inspects and verifies Debian binary packages.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version information variables (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	flagVerbose   bool
	flagLogFormat string
)

// log is the process logger, configured by the root command's flags.
var log = logrus.New()

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debpack",
		Short: "Build and inspect Debian packages",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogger(log, cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging.")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format: text or json.")

	cmd.AddCommand(
		newBuildCommand(),
		newInfoCommand(),
		newContentsCommand(),
		newExtractCommand(),
		newVerifyCommand(),
		newKeyCommand(),
		newVersionCommand(),
	)
	return cmd
}

func configureLogger(l *logrus.Logger, w io.Writer) error {
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	if flagVerbose {
		l.SetLevel(logrus.DebugLevel)
	}
	switch flagLogFormat {
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", flagLogFormat)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "debpack %s (%s)\n", Version, GitCommit)
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
