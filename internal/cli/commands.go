package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/memocache/cache"
	"github.com/jonwraymond/memocache/health"
	"github.com/jonwraymond/memocache/observe"
)

var (
	// ErrCorruptRecords is returned by verify when any record fails checks.
	ErrCorruptRecords = errors.New("corrupt records found")

	// ErrUnhealthy is returned by health when the backend is unhealthy.
	ErrUnhealthy = errors.New("cache unhealthy")

	// ErrNotConfirmed is returned by clear without --yes.
	ErrNotConfirmed = errors.New("refusing to clear without --yes")
)

// withSession opens the configured store, runs fn and closes the store.
func (a *App) withSession(cmd *cobra.Command, fn func(context.Context, *session) error) (err error) {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close(context.WithoutCancel(ctx)))
	}()
	return fn(ctx, s)
}

type statsView struct {
	Name     string `json:"name" yaml:"name"`
	Backend  string `json:"backend" yaml:"backend"`
	Location string `json:"location" yaml:"location"`

	cache.PersistentStats `yaml:",inline"`
}

func (a *App) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the records in a persistent cache",
		Long: `Read every record and report counts, total size and the total
execution time the valid records represent.

Examples:
  memocache stats -l ~/.cache/notebook
  memocache stats --backend redis -l localhost:6379 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				stats, err := s.store.Stats(ctx)
				if err != nil {
					return err
				}
				view := statsView{
					Name:            s.cfg.Name,
					Backend:         s.cfg.Backend,
					Location:        s.cfg.Location,
					PersistentStats: stats,
				}
				return a.render(view, func(w io.Writer) {
					fmt.Fprintf(w, "Cache %s (%s at %s)\n", view.Name, view.Backend, view.Location)
					fmt.Fprintf(w, "  Records:       %d (%s)\n", stats.Records, formatBytes(stats.Bytes))
					fmt.Fprintf(w, "  OK:            %d\n", stats.OK)
					fmt.Fprintf(w, "  Stale version: %d\n", stats.Stale)
					fmt.Fprintf(w, "  Corrupt:       %d\n", stats.Corrupt)
					fmt.Fprintf(w, "  Runtime saved: %s per full replay\n", stats.TimeSaved.Round(time.Millisecond))
				})
			})
		},
	}
}

type recordView struct {
	cache.RecordStatus `yaml:",inline"`

	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type verifyView struct {
	Summary cache.PersistentStats `json:"summary" yaml:"summary"`
	Records []recordView          `json:"records" yaml:"records"`
}

func (a *App) newVerifyCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every record's checksum, layout, version and key",
		Long: `Verify reads every record and classifies it as ok, stale (written by an
older record format) or corrupt. Exits non-zero when any record is corrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				statuses, err := s.store.Verify(ctx)
				if err != nil {
					return err
				}
				view := verifyView{Summary: cache.Summarize(statuses), Records: []recordView{}}
				for _, st := range statuses {
					if st.State == cache.RecordOK && !all {
						continue
					}
					rv := recordView{RecordStatus: st}
					if st.Err != nil {
						rv.Error = st.Err.Error()
					}
					view.Records = append(view.Records, rv)
				}

				err = a.render(view, func(w io.Writer) {
					for _, rv := range view.Records {
						if rv.Error != "" {
							fmt.Fprintf(w, "%-7s %s: %s\n", rv.State, rv.Name, rv.Error)
						} else {
							fmt.Fprintf(w, "%-7s %s\n", rv.State, rv.Name)
						}
					}
					fmt.Fprintf(w, "%d records: %d ok, %d stale, %d corrupt\n",
						view.Summary.Records, view.Summary.OK, view.Summary.Stale, view.Summary.Corrupt)
				})
				if err != nil {
					return err
				}
				if view.Summary.Corrupt > 0 {
					s.logger.Warn(ctx, "verification found corrupt records",
						observe.Field{Key: "count", Value: view.Summary.Corrupt})
					return fmt.Errorf("%w: %d", ErrCorruptRecords, view.Summary.Corrupt)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List ok records too")
	return cmd
}

type pruneOptions struct {
	stale     bool
	corrupt   bool
	olderThan time.Duration
	dryRun    bool
}

func (a *App) newPruneCmd() *cobra.Command {
	opts := &pruneOptions{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale, corrupt or old records",
		Long: `Prune deletes the records matching at least one selector.

Examples:
  # Remove records from older formats and records that fail verification
  memocache prune -l ~/.cache/notebook --stale --corrupt

  # Show what a 30 day expiry would remove
  memocache prune -l ~/.cache/notebook --older-than 720h --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				res, err := s.store.Prune(ctx, cache.PruneOptions{
					Stale:     opts.stale,
					Corrupt:   opts.corrupt,
					OlderThan: opts.olderThan,
					DryRun:    opts.dryRun,
				})
				if err != nil {
					return err
				}
				if res.Removed == nil {
					res.Removed = []string{}
				}
				s.logger.Info(ctx, "prune finished",
					observe.Field{Key: "scanned", Value: res.Scanned},
					observe.Field{Key: "removed", Value: len(res.Removed)},
					observe.Field{Key: "dry_run", Value: opts.dryRun},
				)
				return a.render(res, func(w io.Writer) {
					verb := "removed"
					if opts.dryRun {
						verb = "would remove"
					}
					for _, name := range res.Removed {
						fmt.Fprintf(w, "%s %s\n", verb, name)
					}
					fmt.Fprintf(w, "%s %d of %d records\n", verb, len(res.Removed), res.Scanned)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.stale, "stale", false, "Remove records written by an older record format")
	cmd.Flags().BoolVar(&opts.corrupt, "corrupt", false, "Remove records that fail verification")
	cmd.Flags().DurationVar(&opts.olderThan, "older-than", 0, "Remove valid records stored longer ago than this")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report without deleting")
	return cmd
}

func (a *App) newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record in a persistent cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return ErrNotConfirmed
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "cleared %s\n", s.cfg.Location)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func (a *App) newHealthCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the persistent backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				agg := health.NewAggregator(health.AggregatorConfig{Timeout: timeout})
				agg.Register("cache."+s.cfg.Name, s.store.Checker("cache."+s.cfg.Name))
				rep := agg.Report(ctx)

				if err := a.render(rep, func(w io.Writer) {
					fmt.Fprintf(w, "status: %s\n", rep.Status)
					for _, r := range rep.Results {
						fmt.Fprintf(w, "  %s: %s (%s)\n", r.Name, r.Status, r.Message)
					}
				}); err != nil {
					return err
				}
				if rep.Status == health.StatusUnhealthy {
					return ErrUnhealthy
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-check timeout")
	return cmd
}
