// ============================================================================
// PTIDES CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for running and inspecting a PTIDES platform
//
// Command Structure:
//   ptides                         # Root command
//   ├── run                        # Run the platform on the system clock
//   ├── simulate                   # Run on a manual clock up to --until
//   │   └── --until               # Simulated platform time to stop at
//   ├── deadlines                  # Print static deadlines per actor
//   ├── trace <file>               # Summarize a trace log
//   ├── status                     # Show the last run report
//   ├── --config, -c               # Config file (default: configs/ptides.yaml)
//   ├── --log-level                # debug | info | warn | error
//   └── --version
//
// run Command:
//   1. Load config and build the actor graph
//   2. Start scheduler, transport, stimuli and status output
//   3. Block until SIGINT/SIGTERM or a fatal scheduler error
//   4. Stop gracefully and write the run report
//
//   Exits non-zero when the scheduler halted (pool exhausted, actuation
//   table full, interrupt table full).
//
//   Examples:
//     ./ptides run
//     ./ptides run -c configs/ptides.yaml --log-level debug
//
// simulate Command:
//   Forces the manual clock and replays the configured stimuli in time
//   order. Actuations and deadline misses are printed when done.
//
//   Examples:
//     ./ptides simulate --until 200ms
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/config"
	"github.com/ChuLiYu/ptides-os/internal/platform"
	"github.com/ChuLiYu/ptides-os/internal/report"
	"github.com/ChuLiYu/ptides-os/internal/trace"
	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ptides",
		Short: "PTIDES: a deadline-driven scheduler for timed actor graphs",
		Long: `ptides runs a static graph of actors under PTIDES semantics:
- events carry timestamps and are processed in tag order
- actuators fire exactly at their nominal time
- platforms exchange timed events over gRPC`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/ptides.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSimulateCommand())
	rootCmd.AddCommand(buildDeadlinesCommand())
	rootCmd.AddCommand(buildTraceCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the platform on the system clock",
		Long:  "Load the config, start the scheduler and its interrupt sources, and run until a signal or a fatal error",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPlatform(ctx)
		},
	}
}

func runPlatform(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := platform.New(cfg, platform.Options{})
	if err != nil {
		return fmt.Errorf("failed to create platform: %w", err)
	}

	slog.Info("starting platform", "id", p.ID(), "config", configFile, "actors", p.Graph().Len())
	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("platform halted: %w", err)
	}
	slog.Info("platform stopped", "id", p.ID())
	return nil
}

func buildSimulateCommand() *cobra.Command {
	var until time.Duration

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the configured stimuli on a manual clock",
		Long:  "Force the manual clock, fire every configured stimulus due before --until in time order, and print actuations and misses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd.OutOrStdout(), until)
		},
	}

	cmd.Flags().DurationVar(&until, "until", time.Second, "simulated platform time to stop at")
	return cmd
}

func simulate(out io.Writer, until time.Duration) error {
	if until <= 0 {
		return fmt.Errorf("--until must be positive, got %s", until)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Platform.Clock = config.ClockManual
	// 模擬不對外提供服務
	cfg.Metrics.Enabled = false
	cfg.Transport.Listen = ""

	p, err := platform.New(cfg, platform.Options{})
	if err != nil {
		return fmt.Errorf("failed to create platform: %w", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start platform: %w", err)
	}

	res, simErr := p.Simulate(types.FromDuration(until))
	if res != nil {
		printSimResult(out, p.ID(), res)
	}
	if simErr != nil {
		return fmt.Errorf("simulation halted: %w", simErr)
	}
	return nil
}

func printSimResult(out io.Writer, id string, res *platform.SimResult) {
	fmt.Fprintf(out, "platform %s simulated until %s\n", id, res.Until)
	fmt.Fprintf(out, "stimuli: %d fired, %d rejected\n\n", res.Stimuli, res.Rejected)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTUATOR\tVALUE\tTAG\tAT")
	for _, a := range res.Actuations {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", a.Actor, a.Value, a.Tag, a.At)
	}
	tw.Flush()

	if len(res.Misses) > 0 {
		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MISSED\tVALUE\tTAG\tNOW\tLATE")
		for _, m := range res.Misses {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", m.Actor, m.Value, m.Tag, m.Now, m.Lateness)
		}
		tw.Flush()
	}

	fmt.Fprintf(out, "\nactuations=%d misses=%d dispatched=%d adjusted=%d\n",
		len(res.Actuations), len(res.Misses), res.Stats.Dispatched, res.Stats.Adjusted)
}

func buildDeadlinesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deadlines",
		Short: "Print the static deadline of every actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showDeadlines(cmd.OutOrStdout())
		},
	}
}

func showDeadlines(out io.Writer) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	g, err := cfg.BuildGraph()
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTOR\tKIND\tDEADLINE\tMULTI-INPUT\tADJUSTMENT")
	for _, a := range report.Actors(g) {
		deadline := "-"
		if a.Deadline != types.NoDeadline {
			deadline = a.Deadline.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", a.Name, a.Kind, deadline, a.MultipleInputs, a.Adjustment)
	}
	return tw.Flush()
}

func buildTraceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <file>",
		Short: "Summarize a trace log",
		Long:  "Verify every record's checksum and print counts per record kind, per-actuator actuations and misses, the tightest dispatch slack and the latest miss",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showTrace(cmd.OutOrStdout(), args[0])
		},
	}
}

func showTrace(out io.Writer, path string) error {
	sum, err := trace.Summarize(path)
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	fmt.Fprintf(out, "trace %s: %d records (seq %d..%d)\n", path, sum.Records, sum.FirstSeq, sum.LastSeq)
	for _, k := range []trace.Kind{trace.KindAdmit, trace.KindAdjust, trace.KindDispatch, trace.KindActuate, trace.KindMiss, trace.KindArm} {
		fmt.Fprintf(out, "  %-8s %d\n", k, sum.ByKind[k])
	}

	for _, name := range sortedKeys(sum.Actuators) {
		fmt.Fprintf(out, "actuator %s: %d actuations, %d misses\n", name, sum.Actuators[name], sum.Misses[name])
	}
	for _, name := range sortedKeys(sum.Misses) {
		if _, ok := sum.Actuators[name]; !ok {
			fmt.Fprintf(out, "actuator %s: 0 actuations, %d misses\n", name, sum.Misses[name])
		}
	}

	if sum.MinSlack != nil {
		fmt.Fprintf(out, "min slack: %s at %s (tag %s)\n", sum.MinSlack.Slack, sum.MinSlack.Actor, sum.MinSlack.Tag)
	}
	if sum.MaxLate != nil {
		fmt.Fprintf(out, "max lateness: %s at %s (tag %s)\n", sum.MaxLate.Slack, sum.MaxLate.Actor, sum.MaxLate.Tag)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of the last run",
		Long:  "Display the run report written by the last run or simulate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.OutOrStdout())
		},
	}
}

func showStatus(out io.Writer) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Report.Path == "" {
		return fmt.Errorf("no report path configured in %s", configFile)
	}

	rep, err := report.NewManager(cfg.Report.Path).Load()
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}

	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, " Platform %s\n", rep.PlatformID)
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "  Started:   %s\n", rep.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Finished:  %s\n", rep.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Now:       %s\n", rep.Now)
	if rep.HaltError != "" {
		fmt.Fprintf(out, "  Halted:    %s\n", rep.HaltError)
	}
	fmt.Fprintln(out)

	st := rep.Stats
	fmt.Fprintln(out, "Scheduler:")
	fmt.Fprintf(out, "  ├─ Admitted:    %d\n", st.Admitted)
	fmt.Fprintf(out, "  ├─ Dispatched:  %d\n", st.Dispatched)
	fmt.Fprintf(out, "  ├─ Adjusted:    %d\n", st.Adjusted)
	fmt.Fprintf(out, "  ├─ Actuations:  %d\n", st.Actuations)
	fmt.Fprintf(out, "  ├─ Misses:      %d\n", st.Misses)
	fmt.Fprintf(out, "  └─ Send errors: %d\n", st.SendErrors)
	fmt.Fprintln(out)

	if len(rep.Misses) > 0 {
		fmt.Fprintln(out, "Recent misses:")
		for _, m := range rep.Misses {
			fmt.Fprintf(out, "  %s value=%d tag=%s late=%s\n", m.Actor, m.Value, m.Tag, m.Lateness)
		}
		fmt.Fprintln(out)
	}

	if rep.TraceSeq > 0 {
		fmt.Fprintf(out, "Trace: %s (last seq %d)\n", cfg.Trace.Path, rep.TraceSeq)
	}
	return nil
}
