package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/clockdrift/pkg/model"
)

// machineStatus is one machine of a run with its trace counts.
type machineStatus struct {
	model.MachineInfo
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
	Internal int64 `json:"internal"`
	Ticks    int64 `json:"ticks"`
	LastSeq  int64 `json:"last_seq"`
}

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	runID := flags.String("run", "", "run ID (default: latest)")
	recent := flags.Int("runs", 5, "how many recent runs to list")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	run, err := a.resolveRun(*runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drift: status: %v\n", err)
		return 1
	}
	runs, _ := a.store.ListRuns(*recent)

	machines, err := a.machineStatuses(run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drift: status: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"run":      run,
			"state":    runState(run),
			"machines": machines,
			"runs":     runs,
		})
		return 0
	}

	fmt.Printf("run %s (%s)\n", run.ID, runState(run))
	fmt.Printf("  mode=%s seed=%d started=%s", run.Mode, run.Seed, run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Printf(" took=%s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Println()
	fmt.Println("machines:")
	for _, m := range machines {
		fmt.Printf("  %-3d rate=%d/s peers=%d,%d ticks=%-5d sent=%-4d received=%-4d internal=%-5d\n",
			m.ID, m.Rate, m.PeerA, m.PeerB, m.Ticks, m.Sent, m.Received, m.Internal)
	}
	if len(runs) > 1 {
		fmt.Println("recent runs:")
		for _, r := range runs {
			marker := ""
			if r.ID == run.ID {
				marker = " <--"
			}
			fmt.Printf("  %s %s %-10s %d machines %s%s\n",
				r.StartedAt.Local().Format("15:04:05"), r.ID, r.Mode, r.Machines, runState(&r), marker)
		}
	}
	return 0
}

// machineStatuses joins a run's machines with their per-kind trace counts.
func (a *app) machineStatuses(runID string) ([]machineStatus, error) {
	infos, err := a.store.ListMachines(runID)
	if err != nil {
		return nil, err
	}
	counts, err := a.store.CountByKind(runID)
	if err != nil {
		return nil, err
	}
	out := make([]machineStatus, len(infos))
	for i, info := range infos {
		c := counts[info.ID]
		out[i] = machineStatus{
			MachineInfo: info,
			Sent:        c[model.TraceSent],
			Received:    c[model.TraceReceived],
			Internal:    c[model.TraceInternal],
			Ticks:       c[model.TraceSent] + c[model.TraceReceived] + c[model.TraceInternal],
			LastSeq:     a.store.MaxSeq(runID, info.ID),
		}
	}
	return out, nil
}

// runState returns "running" until the run has a finish time.
func runState(r *model.Run) string {
	if r.FinishedAt == nil {
		return "running"
	}
	return "finished"
}
