package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/clockdrift/pkg/frontier"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/store"
)

func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	runID := flags.String("run", "", "run ID (default: latest)")
	machineID := flags.Int("machine", store.AllMachines, "only this machine (default: all)")
	interval := flags.Duration("interval", time.Second, "poll interval")
	jsonOut := flags.Bool("json", false, "JSON output (one JSON object per line)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "drift: watch: --interval must be positive")
		return 1
	}

	run, err := a.resolveRun(*runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drift: watch: %v\n", err)
		return 1
	}

	var ids []int
	if *machineID == store.AllMachines {
		infos, err := a.store.ListMachines(run.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "drift: watch: %v\n", err)
			return 1
		}
		for _, info := range infos {
			ids = append(ids, info.ID)
		}
	} else {
		ids = []int{*machineID}
	}
	cursors := make(map[int]int64, len(ids))
	merger := frontier.NewMerger(ids)

	// Handle ctrl-c gracefully.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	fmt.Fprintf(os.Stderr, "watching run %s (poll every %s, ctrl-c to stop)\n", run.ID, *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			fmt.Fprintln(os.Stderr, "\nstopped")
			return 0
		case <-ticker.C:
			// Read the finish mark first so lines written before it are
			// drained on this poll.
			finished := false
			if r, err := a.store.GetRun(run.ID); err == nil && r.FinishedAt != nil {
				finished = true
			}

			n, err := a.pollLines(run.ID, ids, cursors, merger, *jsonOut)
			if err != nil {
				fmt.Fprintf(os.Stderr, "drift: watch: %v\n", err)
				continue
			}
			if finished && n == 0 {
				printLines(merger.Flush(), *jsonOut)
				fmt.Fprintln(os.Stderr, "run finished")
				return 0
			}
		}
	}
}

// pollLines fetches every line written since the last poll, advances the
// per-machine cursors and prints the lines whose place in the merged
// order is final. It returns how many lines it fetched.
func (a *app) pollLines(runID string, ids []int, cursors map[int]int64, merger *frontier.Merger, jsonOut bool) (int, error) {
	fetched := 0
	for _, id := range ids {
		for {
			lines, err := a.store.ListLines(runID, id, cursors[id], 500)
			if err != nil {
				return fetched, err
			}
			if len(lines) == 0 {
				break
			}
			merger.Add(lines...)
			fetched += len(lines)
			cursors[id] = lines[len(lines)-1].Seq
		}
	}
	printLines(merger.Ready(), jsonOut)
	return fetched, nil
}

func printLines(lines []model.TraceLine, jsonOut bool) {
	for _, l := range lines {
		if jsonOut {
			b, _ := json.Marshal(l)
			fmt.Println(string(b))
		} else {
			printLine(l)
		}
	}
}
