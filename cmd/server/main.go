package main

import (
	"fmt"
	"log/slog" // library for structured logging
	"os"       // library for os related operations
	"time"     // library for time formatting

	"github.com/spf13/cobra"
)

// Function to initialize the logger
func setupLogger() *slog.Logger {
	var handler slog.Handler

	if os.Getenv("ENV") == "production" {

		// Initialize JSON handler for production environment
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {

		// Initialize Text handler for development environment with better formatting
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: false,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Format timestamp to be more readable
				if a.Key == slog.TimeKey {
					t := a.Value.Time()
					return slog.String("time", t.Format(time.DateTime))
				}
				return a
			},
		})
	}

	// Create a new logger with the initialized handler
	return slog.New(handler)
}

// Main entry point of the program
func main() {

	// Setup the logger
	logger := setupLogger()
	slog.SetDefault(logger)

	if err := newRootCmd(logger).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "browser-usage-tracker",
		Short:         "Track time spent per website and sync it to a backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger)
		},
	}

	root.AddCommand(newServeCmd(logger))
	root.AddCommand(newStatsCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newSyncCmd(logger))
	root.AddCommand(newClearCmd())
	root.AddCommand(newDeviceIDCmd())
	return root
}
