package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/config"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/metrics"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/stats"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/storage"
	"github.com/dhruvsoni1802/browser-usage-tracker/internal/tracker"
)

// withRepo opens the configured store for a one-shot command
func withRepo(ctx context.Context, fn func(repo *storage.Repository, cfg *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	return fn(storage.NewRepository(store), cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatsCmd() *cobra.Command {
	var sortKey, query string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print time per domain from stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd.Context(), func(repo *storage.Repository, _ *config.Config) error {
				out, err := loadStats(cmd.Context(), repo, time.Now())
				if err != nil {
					return err
				}
				out.Domains = stats.SortBy(stats.Search(out.Domains, query), sortKey)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				return printStats(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&sortKey, "sort", stats.SortByTime, "sort key: time|today|sessions|domain")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only domains containing this text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func loadStats(ctx context.Context, repo *storage.Repository, now time.Time) (stats.Stats, error) {
	pending, err := repo.Pending(ctx)
	if err != nil {
		return stats.Stats{}, err
	}
	archive, err := repo.Archive(ctx)
	if err != nil {
		return stats.Stats{}, err
	}
	return stats.Aggregate(pending, archive, nil, now, time.Local), nil
}

func printStats(w io.Writer, out stats.Stats) error {
	_, _ = fmt.Fprintf(w, "today: %s  all time: %s  pending: %d\n\n",
		stats.FormatDuration(out.TodayTotal), stats.FormatDuration(out.AllTimeTotal), out.PendingCount)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DOMAIN\tTODAY\tTOTAL\tVISITS\tLAST TITLE")
	for _, row := range out.Domains {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			row.Domain,
			stats.FormatDuration(row.TodaySeconds),
			stats.FormatDuration(row.TotalSeconds),
			row.Sessions,
			row.LastTitle)
	}
	return tw.Flush()
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Dump all local data as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd.Context(), func(repo *storage.Repository, _ *config.Config) error {
				out, err := exportData(cmd.Context(), repo, time.Now())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func exportData(ctx context.Context, repo *storage.Repository, now time.Time) (tracker.Export, error) {
	var out tracker.Export
	var err error

	if out.DeviceID, err = repo.DeviceID(ctx); err != nil {
		return out, err
	}
	cfg, _, err := repo.LoadConfig(ctx)
	if err != nil {
		return out, err
	}
	out.Config = cfg.Redacted()
	if out.Pending, err = repo.Pending(ctx); err != nil {
		return out, err
	}
	if out.Archive, err = repo.Archive(ctx); err != nil {
		return out, err
	}
	if out.FailedSyncs, err = repo.FailedSyncs(ctx); err != nil {
		return out, err
	}
	out.ExportedAt = now.UTC().Format(time.RFC3339)
	return out, nil
}

func newSyncCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync pending sessions once; use while the daemon is stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withRepo(ctx, func(repo *storage.Repository, cfg *config.Config) error {
				deviceID, err := repo.DeviceID(ctx)
				if err != nil {
					return err
				}
				trackerCfg, _, err := repo.LoadConfig(ctx)
				if err != nil {
					return err
				}
				pending, err := repo.Pending(ctx)
				if err != nil {
					return err
				}

				engine := newEngine(repo, cfg, quartz.NewReal(), metrics.New(prometheus.NewRegistry()), logger)
				syncCtx, cancel := context.WithTimeout(ctx, cfg.SyncTimeout)
				defer cancel()

				result := engine.Sync(syncCtx, pending, deviceID, trackerCfg)
				if result.InArchive() {
					if err := repo.SavePending(ctx, nil); err != nil {
						return fmt.Errorf("failed to clear pending sessions: %w", err)
					}
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete pending, archived and queued sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete data without --yes")
			}
			return withRepo(cmd.Context(), func(repo *storage.Repository, _ *config.Config) error {
				if err := repo.ClearData(cmd.Context()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "local data cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newDeviceIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device-id",
		Short: "Print this installation's device id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd.Context(), func(repo *storage.Repository, _ *config.Config) error {
				id, err := repo.DeviceID(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}
