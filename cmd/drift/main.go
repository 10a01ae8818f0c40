// Command drift runs and inspects simulated clock-drift clusters: machines
// ticking at different rates, exchanging messages and keeping Lamport
// logical clocks.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("drift", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	// Setup
	case "init":
		os.Exit(a.cmdInit(os.Args[2:]))

	// Simulation
	case "run":
		os.Exit(a.cmdRun(os.Args[2:]))

	// Inspection
	case "log":
		os.Exit(a.cmdLog(os.Args[2:]))
	case "status":
		os.Exit(a.cmdStatus(os.Args[2:]))
	case "watch":
		os.Exit(a.cmdWatch(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "drift: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'drift --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`drift: simulate clock drift in a small cluster

Each machine ticks at its own rate (1..6 ticks/s by default), randomly
sends "It is N o'clock" messages to its two peers or records an internal
event, and advances a logical clock once per tick. Traces go to one
<id>.log file per machine and to a shared SQLite database.

Usage:
  drift <command> [flags]

Setup:
  init [--config F] [--force]   Write a default config file, create the database

Commands:
  run [--machines N] [--duration D] [--seed S] [--mode M]
                                Run a cluster until D elapses or ctrl-c
  log [--run ID] [--machine N]  Show a run's trace (all machines in Lamport order)
  log --files [--dir D]         Merge the <id>.log files of the last run
  status [--run ID]             Show runs, machine rates and event counts
  watch [--run ID] [--machine N]
                                Stream trace lines as they are written

Modes:
  as-written  machines never read their inbox (default)
  lamport     a non-empty inbox is drained and the clock jumps past the
              latest sender time

Environment:
  DRIFT_CONFIG   config file (default: drift.yaml)
  DRIFT_DB       SQLite database path (default: clockdrift.db)
  DRIFT_LOG_DIR  trace file directory (default: VM_logs)
  DRIFT_SEED     random seed (default: time-based)

log, status and run support --json for machine-readable output.

Exit codes:
  0  success
  1  error
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "drift: "+format+"\n", args...)
	os.Exit(1)
}
