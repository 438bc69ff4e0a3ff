package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/ruslano69/forum-migrator/pkg/importer"
	"github.com/ruslano69/forum-migrator/pkg/mapper"
	"github.com/ruslano69/forum-migrator/pkg/progress"
	"github.com/ruslano69/forum-migrator/pkg/report"
	"github.com/ruslano69/forum-migrator/pkg/target"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		fromCheckpoint bool
		reportPath     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all phases: users, categories, posts, permalinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fromCheckpoint {
				opts.cfg.Import.FromCheckpoint = true
			}
			return execute(cmd, opts, reportPath, func(ctx context.Context, imp *importer.Importer) (importer.RunStats, error) {
				return imp.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&fromCheckpoint, "from-checkpoint", false, "skip completed phases and resume at the saved offset")
	cmd.Flags().StringVar(&reportPath, "report", "", "write an xlsx report to this path after the run")
	return cmd
}

func newPhaseCmd(opts *rootOptions, phase, short string) *cobra.Command {
	var (
		fromCheckpoint bool
		reportPath     string
	)
	cmd := &cobra.Command{
		Use:   phase,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fromCheckpoint {
				opts.cfg.Import.FromCheckpoint = true
			}
			return execute(cmd, opts, reportPath, func(ctx context.Context, imp *importer.Importer) (importer.RunStats, error) {
				return imp.RunPhase(ctx, mapper.Phase(phase))
			})
		},
	}
	cmd.Flags().BoolVar(&fromCheckpoint, "from-checkpoint", false, "resume the phase at the saved offset")
	cmd.Flags().StringVar(&reportPath, "report", "", "write an xlsx report to this path after the phase")
	return cmd
}

type runFunc func(ctx context.Context, imp *importer.Importer) (importer.RunStats, error)

func execute(cmd *cobra.Command, opts *rootOptions, reportPath string, fn runFunc) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.cfg.Metrics.Addr != "" {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		serveMetrics(mctx, opts.cfg.Metrics.Addr, a.metrics, opts.log)
	}

	run, runErr := fn(ctx, a.importer)
	a.finish(ctx, run, runErr)

	if reportPath != "" {
		if err := report.Write(run, reportPath); err != nil {
			opts.log.Warn().Err(err).Str("path", reportPath).Msg("write report")
		} else {
			opts.log.Info().Str("path", reportPath).Msg("report written")
		}
	}

	printRun(cmd.OutOrStdout(), run)
	return runErr
}

func printRun(w io.Writer, run importer.RunStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tTOTAL\tCREATED\tEXISTING\tSKIPPED\tDEGRADED\tDURATION")
	for _, p := range run.Phases {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", p.Phase, p.Total, p.Created, p.Existing, p.Skipped, p.Degraded, p.Duration.Round(time.Millisecond))
	}
	tw.Flush()
	if run.Error != "" {
		fmt.Fprintln(w, "run failed:", run.Error)
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply target schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tcfg := opts.cfg.Target
			tcfg.Migrate = false
			store, err := target.Open(cmd.Context(), tcfg, opts.log)
			if err != nil {
				return err
			}
			defer store.Close()

			applied, err := store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return nil
		},
	}
}

// statusReport is the --json form of the status command
type statusReport struct {
	Checkpoints []progress.Checkpoint `json:"checkpoints"`
	Target      target.Counts         `json:"target"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show phase checkpoints and target row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pm, err := progress.NewManager(opts.cfg.State.File, false)
			if err != nil {
				return err
			}

			tcfg := opts.cfg.Target
			tcfg.Migrate = false
			store, err := target.Open(cmd.Context(), tcfg, opts.log)
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.Counts(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "count target rows")
			}

			st := statusReport{Checkpoints: pm.All(), Target: counts}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PHASE\tOFFSET\tTOTAL\tCREATED\tEXISTING\tSKIPPED\tCOMPLETED\tERROR")
			for _, cp := range st.Checkpoints {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%t\t%s\n",
					cp.Phase, cp.Offset, cp.Total, cp.Created, cp.Existing, cp.Skipped, cp.Completed, cp.LastError)
			}
			tw.Flush()
			fmt.Fprintf(out, "target: users=%d categories=%d topics=%d posts=%d uploads=%d permalinks=%d\n",
				counts.Users, counts.Categories, counts.Topics, counts.Posts, counts.Uploads, counts.Permalinks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var summaryPath, outPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the last run summary as an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if summaryPath == "" {
				summaryPath = opts.cfg.State.SummaryFile
			}
			run, err := loadSummary(summaryPath)
			if err != nil {
				return err
			}
			if err := report.Write(run, outPath); err != nil {
				return errors.Wrap(err, "write report")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "report written to", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&summaryPath, "summary", "", "run summary JSON (default: state.summary_file)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "import-report.xlsx", "output xlsx path")
	return cmd
}

func newInitConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "init-config [path]",
		Short:       "Write a sample config file",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := SaveConfig(SampleConfig(), path); err != nil {
				return err
			}
			opts.log.Info().Str("path", path).Msg("sample config written")
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
