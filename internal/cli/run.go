package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cfssim/internal/metrics"
	"cfssim/internal/sched"
	"cfssim/internal/workload"
)

type runOptions struct {
	configPath   string
	workloadPath string
	csvPath      string
	sqlitePath   string
	printEvents  bool

	nice0       float64
	timeslice   int64
	ioWait      int64
	granularity int64
	ioEvery     int
	ioMode      string
}

func newRunCmd() *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload to completion and print the per-task report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config(cmd)
			if err != nil {
				return err
			}
			return o.run(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.workloadPath, "workload", "w", "", "Workload YAML file (default: built-in cpu+io demo)")
	f.StringVarP(&o.configPath, "config", "c", "", "Scheduler config YAML file")
	f.StringVar(&o.csvPath, "csv", "", "Write every event to this CSV file")
	f.StringVar(&o.sqlitePath, "sqlite", "", "Record the run in this SQLite database")
	f.BoolVar(&o.printEvents, "events", false, "Print every event as it happens")

	def := sched.DefaultConfig()
	f.Float64Var(&o.nice0, "nice0", def.Nice0Load, "NICE_0_LOAD weight normalization")
	f.Int64Var(&o.timeslice, "timeslice", def.TimesliceMS, "CPU timeslice in ms")
	f.Int64Var(&o.ioWait, "io-wait", def.IOWaitMS, "Default io wait in ms")
	f.Int64Var(&o.granularity, "min-granularity", def.MinGranularityMS, "Minimum slice in ms")
	f.IntVar(&o.ioEvery, "io-every", def.IOWaitEvery, "IO tasks wait before every Nth burst")
	f.StringVar(&o.ioMode, "io-mode", string(def.IOMode), "Where io waits happen (inline, overlap)")
	return cmd
}

// config loads the config file and applies the flags that were set explicitly.
func (o *runOptions) config(cmd *cobra.Command) (sched.Config, error) {
	cfg, err := sched.Load(o.configPath)
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("nice0") {
		cfg.Nice0Load = o.nice0
	}
	if f.Changed("timeslice") {
		cfg.TimesliceMS = o.timeslice
	}
	if f.Changed("io-wait") {
		cfg.IOWaitMS = o.ioWait
	}
	if f.Changed("min-granularity") {
		cfg.MinGranularityMS = o.granularity
	}
	if f.Changed("io-every") {
		cfg.IOWaitEvery = o.ioEvery
	}
	if f.Changed("io-mode") {
		mode, err := sched.ParseIOMode(o.ioMode)
		if err != nil {
			return cfg, &sched.ConfigError{Subject: "--io-mode", Err: err}
		}
		cfg.IOMode = mode
	}
	return cfg, cfg.Validate()
}

func (o *runOptions) run(cmd *cobra.Command, cfg sched.Config) (err error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	w := workload.Demo()
	if o.workloadPath != "" {
		if w, err = workload.Load(o.workloadPath); err != nil {
			return err
		}
	}
	tasks, err := w.Build(cfg)
	if err != nil {
		return err
	}

	opts := []sched.Option{sched.WithLogger(logger)}
	if o.printEvents {
		opts = append(opts, sched.WithEventHandler(eventPrinter(out)))
	}

	if o.csvPath != "" {
		cw, cerr := metrics.CreateCSV(o.csvPath)
		if cerr != nil {
			return fmt.Errorf("csv: %w", cerr)
		}
		defer func() { err = errors.Join(err, cw.Close()) }()
		opts = append(opts, sched.WithEventHandler(cw))
	}

	var rec *metrics.SQLiteRecorder
	if o.sqlitePath != "" {
		if rec, err = metrics.OpenSQLite(o.sqlitePath, logger); err != nil {
			return err
		}
		defer func() { err = errors.Join(err, rec.Close()) }()
		if err = rec.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate %s: %w", o.sqlitePath, err)
		}
		var runID string
		if runID, err = rec.BeginRun(ctx, cfg); err != nil {
			return err
		}
		logger.Info("recording run", "run_id", runID, "db", o.sqlitePath)
		opts = append(opts, sched.WithEventHandler(rec))
	}

	s, err := sched.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := s.Load(tasks...); err != nil {
		return err
	}

	report, err := s.Run(ctx)
	if err != nil {
		return err
	}
	if rec != nil {
		if err := rec.FinishRun(ctx, report); err != nil {
			return err
		}
	}
	return metrics.WriteReport(out, report)
}

// eventPrinter prints one line per event.
func eventPrinter(out io.Writer) sched.EventHandler {
	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	return sched.EventHandlerFunc(func(ev sched.Event) error {
		_, err := fmt.Fprintf(out, "Tick: %07d [%s] => Task: %04d, %3dms, remaining: %04dms, vruntime=%09.4f\n",
			ev.Tick,
			center(ev.Kind.String(), 10),
			ev.TaskID,
			ev.Duration,
			ev.Remaining,
			ev.Vruntime,
		)
		return err
	})
}
