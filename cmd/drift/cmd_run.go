package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/clockdrift/pkg/cluster"
	"github.com/daviddao/clockdrift/pkg/machine"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/trace"
)

// runSummary is what `drift run` reports when the cluster stops.
type runSummary struct {
	RunID    string           `json:"run_id,omitempty"`
	Seed     int64            `json:"seed"`
	Mode     string           `json:"mode"`
	LogDir   string           `json:"log_dir"`
	Elapsed  string           `json:"elapsed"`
	Machines []machineSummary `json:"machines"`
}

type machineSummary struct {
	ID          int    `json:"id"`
	Rate        int    `json:"rate"`
	PeerA       int    `json:"peer_a"`
	PeerB       int    `json:"peer_b"`
	Ticks       int64  `json:"ticks"`
	LogicalTime int64  `json:"logical_time"`
	Queued      int    `json:"queued"`
	TraceFile   string `json:"trace_file"`
}

func (a *app) cmdRun(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := flags.String("config", "", "config file (default $DRIFT_CONFIG or drift.yaml)")
	machines := flags.Int("machines", 0, "number of machines (at least 3)")
	duration := flags.Duration("duration", 0, "stop after this long (0 = until ctrl-c)")
	seed := flags.Int64("seed", 0, "random seed (0 = time-based)")
	mode := flags.String("mode", "", "as-written or lamport")
	logDir := flags.String("log-dir", "", "directory for <id>.log trace files")
	noDB := flags.Bool("no-db", false, "write trace files only")
	quiet := flags.Bool("quiet", false, "no progress output on stderr")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *cfgPath != "" {
		if err := a.loadConfig(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "drift: run: %v\n", err)
			return 1
		}
	}
	cfg := a.cfg
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "machines":
			cfg.Machines = *machines
		case "duration":
			cfg.Duration = *duration
		case "seed":
			cfg.Seed = *seed
		case "mode":
			cfg.Mode = *mode
		case "log-dir":
			cfg.LogDir = *logDir
		}
	})
	if *noDB {
		cfg.DBPath = ""
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "drift: run: %v\n", err)
		return 1
	}
	m, _ := machine.ParseMode(cfg.Mode)

	files, err := trace.NewFileRecorder(cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drift: run: %v\n", err)
		return 1
	}
	defer files.CloseAll()

	var rec trace.Recorder = files
	runID := ""
	if cfg.DBPath != "" {
		s, err := a.db()
		if err != nil {
			fmt.Fprintf(os.Stderr, "drift: run: %v\n", err)
			return 1
		}
		runID = uuid.NewString()
		rec = trace.Multi(files, s.Recorder(runID))
	}

	logger := log.New(os.Stderr, "drift: ", log.Ltime)
	if *quiet {
		logger = log.New(io.Discard, "", 0)
	}

	c, err := cluster.New(cluster.Options{
		Machines:     cfg.Machines,
		MinRate:      cfg.MinRate,
		MaxRate:      cfg.MaxRate,
		Seed:         cfg.Seed,
		Mode:         m,
		ShufflePeers: cfg.ShufflePeers,
		Recorder:     rec,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "drift: run: %v\n", err)
		return 1
	}

	if runID != "" {
		if err := a.registerRun(runID, c, m); err != nil {
			fmt.Fprintf(os.Stderr, "drift: run: %v\n", err)
			return 1
		}
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.Duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.Duration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	// Handle ctrl-c gracefully.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			fmt.Fprintln(os.Stderr, "\nstopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Duration > 0 {
		logger.Printf("running %d machines for %s", cfg.Machines, cfg.Duration)
	} else {
		logger.Printf("running %d machines (ctrl-c to stop)", cfg.Machines)
	}
	started := time.Now()
	runErr := c.Run(ctx)
	elapsed := time.Since(started)

	if runID != "" {
		if err := a.store.FinishRun(runID, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "drift: run: finish: %v\n", err)
		}
	}

	sum := summarize(c, files, m)
	sum.RunID = runID
	sum.Elapsed = elapsed.Round(time.Millisecond).String()
	if *jsonOut {
		printJSON(sum)
	} else {
		printSummary(sum)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "drift: run: %v\n", runErr)
		return 1
	}
	return 0
}

// registerRun records the run and its machines before any trace line is
// written.
func (a *app) registerRun(runID string, c *cluster.Cluster, m machine.Mode) error {
	infos := c.MachineInfos()
	if _, err := a.store.CreateRun(model.Run{
		ID:       runID,
		Seed:     c.Seed(),
		Mode:     m.String(),
		Machines: len(infos),
	}); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	for _, info := range infos {
		info.RunID = runID
		if err := a.store.RegisterMachine(info); err != nil {
			return fmt.Errorf("register machine %d: %w", info.ID, err)
		}
	}
	return nil
}

func summarize(c *cluster.Cluster, files *trace.FileRecorder, m machine.Mode) runSummary {
	sum := runSummary{Seed: c.Seed(), Mode: m.String(), LogDir: files.Dir()}
	infos := c.MachineInfos()
	for i, mach := range c.Machines() {
		sum.Machines = append(sum.Machines, machineSummary{
			ID:          infos[i].ID,
			Rate:        infos[i].Rate,
			PeerA:       infos[i].PeerA,
			PeerB:       infos[i].PeerB,
			Ticks:       mach.Ticks(),
			LogicalTime: mach.LocalTime(),
			Queued:      mach.Inbox().Len(),
			TraceFile:   files.Path(mach.ID()),
		})
	}
	return sum
}

func printSummary(sum runSummary) {
	if sum.RunID != "" {
		fmt.Printf("run %s (seed %d, %s) stopped after %s\n", sum.RunID, sum.Seed, sum.Mode, sum.Elapsed)
	} else {
		fmt.Printf("run (seed %d, %s) stopped after %s\n", sum.Seed, sum.Mode, sum.Elapsed)
	}
	for _, ms := range sum.Machines {
		fmt.Printf("  machine %-2d rate=%d/s peers=%d,%d ticks=%-5d clock=%-5d queued=%-5d %s\n",
			ms.ID, ms.Rate, ms.PeerA, ms.PeerB, ms.Ticks, ms.LogicalTime, ms.Queued, ms.TraceFile)
	}
}
