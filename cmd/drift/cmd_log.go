package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/daviddao/clockdrift/pkg/clock"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/store"
	"github.com/daviddao/clockdrift/pkg/trace"
)

func (a *app) cmdLog(args []string) int {
	flags := flag.NewFlagSet("log", flag.ContinueOnError)
	runID := flags.String("run", "", "run ID (default: latest)")
	machineID := flags.Int("machine", store.AllMachines, "only this machine (default: all, in Lamport order)")
	since := flags.Int64("since", 0, "lines after this sequence number (single machine only)")
	limit := flags.Int("limit", 50, "max lines to return")
	kind := flags.String("kind", "", "filter by trace kind, e.g. \"MESSAGE SENT\"")
	files := flags.Bool("files", false, "read <id>.log files instead of the database")
	dir := flags.String("dir", "", "trace file directory for --files (default: log_dir)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	var lines []model.TraceLine
	var err error
	if *files {
		d := *dir
		if d == "" {
			d = a.cfg.LogDir
		}
		lines, err = readTraceDir(d, *machineID)
	} else {
		lines, err = a.queryLines(*runID, *machineID, *since, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "drift: log: %v\n", err)
		return 1
	}

	if *kind != "" {
		filtered := lines[:0]
		for _, l := range lines {
			if string(l.Kind) == *kind {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}
	if *limit > 0 && len(lines) > *limit {
		lines = lines[:*limit]
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"lines": lines, "count": len(lines)})
		return 0
	}
	if len(lines) == 0 {
		fmt.Println("no trace lines")
		return 0
	}
	for _, l := range lines {
		printLine(l)
	}
	return 0
}

func (a *app) queryLines(runID string, machineID int, since int64, limit int) ([]model.TraceLine, error) {
	run, err := a.resolveRun(runID)
	if err != nil {
		return nil, err
	}
	return a.store.ListLines(run.ID, machineID, since, limit)
}

// readTraceDir loads <id>.log files from dir. With store.AllMachines every
// file is read and the lines are merged in Lamport total order.
func readTraceDir(dir string, machineID int) ([]model.TraceLine, error) {
	var ids []int
	if machineID == store.AllMachines {
		paths, err := filepath.Glob(filepath.Join(dir, "*.log"))
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			id, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(p), ".log"))
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("no trace files in %s", dir)
		}
	} else {
		ids = []int{machineID}
	}

	var out []model.TraceLine
	for _, id := range ids {
		raw, err := trace.ReadFile(filepath.Join(dir, strconv.Itoa(id)+".log"))
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no trace for machine %d in %s", id, dir)
		}
		if err != nil {
			return nil, err
		}
		for i, line := range raw {
			l := model.TraceLine{MachineID: id, Seq: int64(i + 1), Line: line}
			if r, err := model.ParseTraceLine(line); err == nil {
				l.Kind, l.SystemTime, l.LogicalTime = r.Kind, r.SystemTime, r.LogicalTime
			}
			out = append(out, l)
		}
	}
	if machineID == store.AllMachines {
		sortTotalOrder(out)
	}
	return out, nil
}

// sortTotalOrder orders lines by (logical time, machine id), keeping each
// machine's write order for equal pairs.
func sortTotalOrder(lines []model.TraceLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		return clock.TotalOrderLess(lines[i].LogicalTime, lines[i].MachineID,
			lines[j].LogicalTime, lines[j].MachineID)
	})
}

// printLine prints one trace line as "[lt=N] mID KIND detail".
func printLine(l model.TraceLine) {
	r, err := model.ParseTraceLine(l.Line)
	if err != nil {
		fmt.Printf("[lt=%d] m%d %s\n", l.LogicalTime, l.MachineID, l.Line)
		return
	}
	if r.Detail != "" {
		fmt.Printf("[lt=%d] m%d %s %s\n", r.LogicalTime, l.MachineID, r.Kind, r.Detail)
	} else {
		fmt.Printf("[lt=%d] m%d %s\n", r.LogicalTime, l.MachineID, r.Kind)
	}
}
