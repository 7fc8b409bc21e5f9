package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/dispatch/internal/batch"
	"github.com/Iron-Ham/dispatch/internal/config"
	"github.com/Iron-Ham/dispatch/internal/dispatcher"
	"github.com/Iron-Ham/dispatch/internal/errors"
	"github.com/Iron-Ham/dispatch/internal/feedback"
	"github.com/Iron-Ham/dispatch/internal/logging"
	"github.com/Iron-Ham/dispatch/internal/metrics"
	"github.com/Iron-Ham/dispatch/internal/simulate"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
	"github.com/Iron-Ham/dispatch/internal/tracing"
	"github.com/Iron-Ham/dispatch/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of tasks through the dispatcher",
	Long: `Run submits a batch of tasks to an in-process dispatcher backed by a
simulated provider, waits for every task to finish and prints a summary.

Tasks come from a YAML file (--file) or are generated (--count).
Use --watch to follow the queue and worker pool on a live dashboard.`,
	RunE: runRun,
}

var (
	runFile        string
	runCount       int
	runWatch       bool
	runJSON        bool
	runReload      bool
	runProvider    string
	runModel       string
	runMinLatency  time.Duration
	runMaxLatency  time.Duration
	runFailureRate float64
	runSeed        uint64
	runStopTimeout time.Duration
)

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "YAML batch file of tasks")
	runCmd.Flags().IntVarP(&runCount, "count", "n", 20, "number of generated tasks when no file is given")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "show the live dashboard")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the summary as JSON")
	runCmd.Flags().BoolVar(&runReload, "reload", false, "apply config file changes while running")
	runCmd.Flags().StringVar(&runProvider, "provider", "simulated", "provider chosen by the simulated policy")
	runCmd.Flags().StringVar(&runModel, "model", "echo-1", "model chosen by the simulated policy")
	runCmd.Flags().DurationVar(&runMinLatency, "min-latency", 50*time.Millisecond, "minimum simulated call latency")
	runCmd.Flags().DurationVar(&runMaxLatency, "max-latency", 400*time.Millisecond, "maximum simulated call latency")
	runCmd.Flags().Float64Var(&runFailureRate, "failure-rate", 0.05, "fraction of simulated calls that fail")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 1, "random seed for the simulated provider")
	runCmd.Flags().DurationVar(&runStopTimeout, "stop-timeout", 10*time.Second, "how long shutdown waits for running tasks")
	rootCmd.AddCommand(runCmd)
}

// runSummary is the result of a run, printed as text or JSON.
type runSummary struct {
	Submitted int                      `json:"submitted"`
	Rejected  int                      `json:"rejected"`
	Done      int                      `json:"done"`
	Failed    int                      `json:"failed"`
	Elapsed   time.Duration            `json:"elapsed_ns"`
	Metrics   metrics.Snapshot         `json:"metrics"`
	Providers []feedback.ProviderStats `json:"providers,omitempty"`
	Failures  map[string]int           `json:"failures_by_kind,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tasks, err := loadTasks()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	tp, err := tracing.Init(tracing.Config{
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
		Writer:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	sqlitePath := cfg.Feedback.ResolveSQLitePath()
	sink, err := feedback.New(feedback.Config{
		Backend:    cfg.Feedback.Backend,
		SQLitePath: sqlitePath,
		Buffer:     cfg.Feedback.Buffer,
	}, logger)
	if err != nil {
		return err
	}

	sched, err := dispatcher.New(cfg, dispatcher.Deps{
		Policy:   simulate.StaticPolicy{Provider: runProvider, Model: runModel},
		Adapter:  simulate.NewLatencyAdapter(runMinLatency, runMaxLatency, runFailureRate, runSeed),
		Feedback: sink,
		Logger:   logger,
		Tracer:   tp.Tracer(),
	})
	if err != nil {
		_ = sink.Close(context.Background())
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		_ = sink.Close(context.Background())
		return err
	}

	if runReload && viper.ConfigFileUsed() != "" {
		watcher, err := config.NewWatcher(viper.ConfigFileUsed(),
			func(c *config.Config) {
				if err := sched.Apply(c); err != nil {
					logger.Warn("failed to apply reloaded config", "error", err.Error())
					return
				}
				logger.Info("config reloaded", "path", viper.ConfigFileUsed())
			},
			func(err error) { logger.Warn("config reload failed", "error", err.Error()) },
		)
		if err != nil {
			logger.Warn("config watching disabled", "error", err.Error())
		} else {
			watcher.Start()
			defer func() { _ = watcher.Stop() }()
		}
	}

	start := time.Now()
	summary := runSummary{Failures: make(map[string]int)}
	for _, t := range tasks {
		if _, err := sched.Submit(t); err != nil {
			if errors.KindOf(err) != errors.KindPoolExhausted {
				logger.Warn("submission failed", "error", err.Error())
			}
			summary.Rejected++
			continue
		}
		summary.Submitted++
	}

	if runWatch {
		app := tui.New(sched, tui.Options{
			Refresh:              cfg.TUI.RefreshInterval(),
			TargetQueuePerWorker: cfg.Scaling.TargetQueuePerWorker,
			ExitAfter:            summary.Submitted,
		})
		if err := app.Run(ctx); err != nil {
			logger.Warn("dashboard exited with error", "error", err.Error())
		}
	}

	if err := sched.Wait(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted, shutting down...")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), runStopTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err.Error())
	}
	if err := sink.Close(stopCtx); err != nil {
		logger.Warn("feedback sink close failed", "error", err.Error())
	}

	summary.Elapsed = time.Since(start)
	st := sched.Status()
	summary.Done = st.Counts.Done
	summary.Failed = st.Counts.Failed
	summary.Metrics = sched.Metrics()
	for _, rec := range st.RecentTasks {
		if rec.Result != nil && !rec.Result.Success {
			summary.Failures[rec.Result.ErrorKind]++
		}
	}

	if cfg.Feedback.Backend == feedback.BackendSQLite {
		summary.Providers = providerStats(stopCtx, sqlitePath, logger)
	}

	if runJSON {
		return printRunJSON(cmd.OutOrStdout(), summary)
	}
	printRunText(cmd.OutOrStdout(), summary)
	return nil
}

func loadTasks() ([]taskqueue.Descriptor, error) {
	if runFile != "" {
		return batch.LoadFile(runFile)
	}
	if runCount < 1 {
		return nil, errors.NewValidationError("count must be at least 1").WithField("count").WithValue(runCount)
	}

	complexities := []taskqueue.Complexity{taskqueue.ComplexityLow, taskqueue.ComplexityMedium, taskqueue.ComplexityHigh}
	tasks := make([]taskqueue.Descriptor, runCount)
	for i := range tasks {
		tasks[i] = taskqueue.Descriptor{
			Description: fmt.Sprintf("simulated task %d", i+1),
			Complexity:  complexities[i%len(complexities)],
		}
	}
	return tasks, nil
}

// newLogger logs to the configured directory, or to stderr when none is
// set. The dashboard owns the terminal, so stderr logging is dropped with
// --watch.
func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, error) {
	if cfg.Logging.Dir != "" {
		return logging.NewLoggerWithRotation(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
	}
	if runWatch {
		return logging.NopLogger(), nil
	}
	return logging.NewWriterLogger(stderr, cfg.Logging.Level), nil
}

func providerStats(ctx context.Context, path string, logger *logging.Logger) []feedback.ProviderStats {
	store, err := feedback.OpenSQLite(path)
	if err != nil {
		logger.Warn("failed to open feedback store", "error", err.Error())
		return nil
	}
	defer func() { _ = store.Close(ctx) }()

	stats, err := store.Stats(ctx)
	if err != nil {
		logger.Warn("failed to read provider stats", "error", err.Error())
		return nil
	}
	return stats
}

func printRunJSON(w io.Writer, s runSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func printRunText(w io.Writer, s runSummary) {
	m := s.Metrics

	fmt.Fprintln(w)
	fmt.Fprintln(w, "RUN SUMMARY")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Submitted: %d", s.Submitted)
	if s.Rejected > 0 {
		fmt.Fprintf(w, " (%d rejected)", s.Rejected)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Done:      %d\n", s.Done)
	fmt.Fprintf(w, "Failed:    %d", s.Failed)
	if m.Timeouts > 0 {
		fmt.Fprintf(w, " (%d timed out)", m.Timeouts)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Elapsed:   %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "LATENCY")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Avg queue wait: %.1fms\n", m.AvgQueueWaitMs)
	fmt.Fprintf(w, "Avg run time:   %.1fms\n", m.AvgTaskRunMs)
	fmt.Fprintf(w, "Samples:        %d\n", m.SampleCount)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "WORKERS")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	peak := 0
	for _, h := range m.History {
		peak = max(peak, h.WorkerCount)
	}
	fmt.Fprintf(w, "Peak:     %d\n", max(peak, m.WorkerCount))
	fmt.Fprintf(w, "History:  %d samples\n", len(m.History))

	if len(s.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "RECENT FAILURES")
		fmt.Fprintln(w, strings.Repeat("─", 50))
		for _, kind := range slices.Sorted(maps.Keys(s.Failures)) {
			fmt.Fprintf(w, "%-16s %d\n", kind, s.Failures[kind])
		}
	}

	if len(s.Providers) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "PROVIDERS (all runs)")
		fmt.Fprintln(w, strings.Repeat("─", 50))
		for _, p := range s.Providers {
			rate := 0.0
			if p.Total > 0 {
				rate = float64(p.Successes) / float64(p.Total) * 100
			}
			fmt.Fprintf(w, "%s/%s: %d tasks, %.0f%% success, %.1fms avg\n",
				p.Provider, p.Model, p.Total, rate, p.AvgLatencyMs)
		}
	}
}
