package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daviddao/clockdrift/pkg/config"
	"github.com/daviddao/clockdrift/pkg/frontier"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/store"
	"github.com/daviddao/clockdrift/pkg/trace"
)

// --- envOr tests ---

func TestEnvOr_EnvSet(t *testing.T) {
	t.Setenv("TEST_DRIFT_ENV", "hello")
	if got := envOr("TEST_DRIFT_ENV", "default"); got != "hello" {
		t.Fatalf("envOr with set env: got %q, want %q", got, "hello")
	}
}

func TestEnvOr_EnvUnset(t *testing.T) {
	if got := envOr("TEST_DRIFT_UNSET_KEY_XYZ", "fallback"); got != "fallback" {
		t.Fatalf("envOr with unset env: got %q, want %q", got, "fallback")
	}
}

func TestEnvOr_EmptyEnv(t *testing.T) {
	t.Setenv("TEST_DRIFT_EMPTY", "")
	if got := envOr("TEST_DRIFT_EMPTY", "default"); got != "default" {
		t.Fatalf("envOr with empty env: got %q, want %q", got, "default")
	}
}

// --- helpers ---

// newTestApp returns an app whose config, database and trace files all
// live in a temp dir. The DRIFT_* variables point there too, so commands
// that reload the config stay inside it.
func newTestApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvDB, filepath.Join(dir, "test.db"))
	t.Setenv(config.EnvLogDir, filepath.Join(dir, "logs"))
	t.Setenv(config.EnvSeed, "")

	a := &app{}
	if err := a.loadConfig(filepath.Join(dir, "drift.yaml")); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func traceLine(kind model.TraceKind, detail string, lt int64) string {
	return model.TraceRecord{Kind: kind, Detail: detail, SystemTime: 100 + float64(lt), LogicalTime: lt}.Format()
}

// seedRun stores a small three-machine run:
//
//	m0: STARTED@0 INTERNAL@0 SENT@1
//	m1: STARTED@0 INTERNAL@0
//	m2: STARTED@0
func seedRun(t *testing.T, a *app) *model.Run {
	t.Helper()
	s, err := a.db()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	run, err := s.CreateRun(model.Run{Seed: 9, Mode: "as-written", Machines: 3})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for id := 0; id < 3; id++ {
		if err := s.RegisterMachine(model.MachineInfo{
			RunID: run.ID, ID: id, Rate: id + 1, PeerA: (id + 1) % 3, PeerB: (id + 2) % 3,
		}); err != nil {
			t.Fatalf("RegisterMachine: %v", err)
		}
	}
	rec := s.Recorder(run.ID)
	writes := []struct {
		id   int
		line string
	}{
		{0, traceLine(model.TraceStarted, "machine 0 at 1 ticks/s", 0)},
		{1, traceLine(model.TraceStarted, "machine 1 at 2 ticks/s", 0)},
		{0, traceLine(model.TraceInternal, "", 0)},
		{2, traceLine(model.TraceStarted, "machine 2 at 3 ticks/s", 0)},
		{0, traceLine(model.TraceSent, "to 1: It is 1 o'clock on machine 0.", 1)},
		{1, traceLine(model.TraceInternal, "", 0)},
	}
	for _, w := range writes {
		if err := rec.Record(w.id, w.line); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	return run
}

// logLines returns the non-empty lines of out.
func logLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// --- init tests ---

func TestCmdInit_WritesConfig(t *testing.T) {
	a := newTestApp(t)
	var code int
	out := captureStdout(t, func() { code = a.cmdInit(nil) })
	if code != 0 {
		t.Fatalf("cmdInit = %d, output %q", code, out)
	}
	if !strings.Contains(out, "initialized clockdrift") {
		t.Fatalf("unexpected output %q", out)
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Machines != 3 || cfg.MinRate != 1 || cfg.MaxRate != 6 {
		t.Fatalf("written config = %+v", cfg)
	}
	if _, err := os.Stat(a.cfg.DBPath); err != nil {
		t.Fatalf("database not created: %v", err)
	}
}

func TestCmdInit_RefusesExisting(t *testing.T) {
	a := newTestApp(t)
	if err := os.WriteFile(a.cfgPath, []byte("machines: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var code int
	errOut := captureStderr(t, func() { code = a.cmdInit(nil) })
	if code != 1 || !strings.Contains(errOut, "already exists") {
		t.Fatalf("cmdInit over existing file: code=%d stderr=%q", code, errOut)
	}

	captureStdout(t, func() { code = a.cmdInit([]string{"--force"}) })
	if code != 0 {
		t.Fatalf("cmdInit --force = %d", code)
	}
	cfg, _ := config.Load(a.cfgPath)
	if cfg.Machines != 3 {
		t.Fatalf("--force should rewrite defaults, got machines=%d", cfg.Machines)
	}
}

// --- run tests ---

func TestCmdRun_RecordsFilesAndStore(t *testing.T) {
	a := newTestApp(t)
	var code int
	out := captureStdout(t, func() {
		code = a.cmdRun([]string{"--duration", "300ms", "--seed", "5", "--quiet", "--json"})
	})
	if code != 0 {
		t.Fatalf("cmdRun = %d, output %q", code, out)
	}

	var sum runSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if sum.Seed != 5 || sum.Mode != "as-written" || sum.RunID == "" {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.Machines) != 3 {
		t.Fatalf("got %d machines, want 3", len(sum.Machines))
	}

	run, err := a.store.GetRun(sum.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.FinishedAt == nil || run.Seed != 5 {
		t.Fatalf("stored run = %+v", run)
	}
	infos, _ := a.store.ListMachines(run.ID)
	if len(infos) != 3 {
		t.Fatalf("registered %d machines, want 3", len(infos))
	}

	for i, ms := range sum.Machines {
		if ms.Rate != infos[i].Rate || ms.PeerA != infos[i].PeerA {
			t.Fatalf("machine %d summary %+v does not match store %+v", i, ms, infos[i])
		}
		if ms.Ticks < 1 {
			t.Fatalf("machine %d never ticked", i)
		}
		lines, err := trace.ReadFile(ms.TraceFile)
		if err != nil {
			t.Fatalf("read %s: %v", ms.TraceFile, err)
		}
		if !strings.HasPrefix(lines[0], string(model.TraceStarted)) {
			t.Fatalf("machine %d first line %q", i, lines[0])
		}
		if !strings.HasPrefix(lines[len(lines)-1], string(model.TraceStopped)) {
			t.Fatalf("machine %d last line %q", i, lines[len(lines)-1])
		}
		if int64(len(lines)) != ms.Ticks+2 {
			t.Fatalf("machine %d: %d lines for %d ticks", i, len(lines), ms.Ticks)
		}
		if got := a.store.MaxSeq(run.ID, i); got != int64(len(lines)) {
			t.Fatalf("machine %d: store has %d lines, file has %d", i, got, len(lines))
		}
	}
}

func TestCmdRun_NoDB(t *testing.T) {
	a := newTestApp(t)
	var code int
	out := captureStdout(t, func() {
		code = a.cmdRun([]string{"--duration", "100ms", "--no-db", "--quiet", "--json", "--mode", "lamport"})
	})
	if code != 0 {
		t.Fatalf("cmdRun = %d", code)
	}
	var sum runSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.RunID != "" || sum.Mode != "lamport" {
		t.Fatalf("summary = %+v", sum)
	}
	if _, err := os.Stat(a.cfg.DBPath); !os.IsNotExist(err) {
		t.Fatalf("--no-db created the database: %v", err)
	}
}

func TestCmdRun_InvalidFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--machines", "2"},
		{"--mode", "vector"},
		{"--duration", "-1s"},
		{"--bogus"},
	} {
		a := newTestApp(t)
		var code int
		captureStderr(t, func() { code = a.cmdRun(append(args, "--quiet")) })
		if code != 1 {
			t.Errorf("cmdRun(%v) = %d, want 1", args, code)
		}
	}
}

// --- log tests ---

func TestCmdLog_AllMachinesInLamportOrder(t *testing.T) {
	a := newTestApp(t)
	seedRun(t, a)

	var code int
	out := captureStdout(t, func() { code = a.cmdLog(nil) })
	if code != 0 {
		t.Fatalf("cmdLog = %d", code)
	}
	want := []string{
		"[lt=0] m0 STARTED machine 0 at 1 ticks/s",
		"[lt=0] m0 INTERNAL EVENT",
		"[lt=0] m1 STARTED machine 1 at 2 ticks/s",
		"[lt=0] m1 INTERNAL EVENT",
		"[lt=0] m2 STARTED machine 2 at 3 ticks/s",
		"[lt=1] m0 MESSAGE SENT to 1: It is 1 o'clock on machine 0.",
	}
	got := logLines(out)
	if len(got) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(got), out)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCmdLog_SingleMachineKindFilter(t *testing.T) {
	a := newTestApp(t)
	run := seedRun(t, a)

	var code int
	out := captureStdout(t, func() {
		code = a.cmdLog([]string{"--run", run.ID, "--machine", "0", "--kind", "MESSAGE SENT", "--json"})
	})
	if code != 0 {
		t.Fatalf("cmdLog = %d", code)
	}
	var res struct {
		Lines []model.TraceLine `json:"lines"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 || res.Lines[0].Kind != model.TraceSent || res.Lines[0].Seq != 3 {
		t.Fatalf("got %+v", res)
	}
}

func TestCmdLog_UnknownRun(t *testing.T) {
	a := newTestApp(t)
	var code int
	errOut := captureStderr(t, func() { code = a.cmdLog([]string{"--run", "nope"}) })
	if code != 1 || !strings.Contains(errOut, "run not found") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}

func TestCmdLog_NoRuns(t *testing.T) {
	a := newTestApp(t)
	var code int
	errOut := captureStderr(t, func() { code = a.cmdLog(nil) })
	if code != 1 || !strings.Contains(errOut, "no runs yet") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}

func TestCmdLog_MergesTraceFiles(t *testing.T) {
	a := newTestApp(t)
	rec, err := trace.NewFileRecorder(a.cfg.LogDir)
	if err != nil {
		t.Fatal(err)
	}
	for id, lts := range map[int][]int64{0: {0, 1, 2}, 1: {0, 1}, 2: {0}} {
		rec.Wipe(id)
		for _, lt := range lts {
			rec.Record(id, traceLine(model.TraceInternal, "", lt))
		}
	}
	rec.CloseAll()
	// Not a machine trace; must be skipped.
	os.WriteFile(filepath.Join(a.cfg.LogDir, "notes.log"), []byte("hello\n"), 0644)

	var code int
	out := captureStdout(t, func() { code = a.cmdLog([]string{"--files", "--json"}) })
	if code != 0 {
		t.Fatalf("cmdLog --files = %d", code)
	}
	var res struct {
		Lines []model.TraceLine `json:"lines"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	want := [][2]int64{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {2, 0}} // (logical, machine)
	if len(res.Lines) != len(want) {
		t.Fatalf("got %d lines", len(res.Lines))
	}
	for i, w := range want {
		l := res.Lines[i]
		if l.LogicalTime != w[0] || int64(l.MachineID) != w[1] {
			t.Fatalf("line %d = (lt %d, m%d), want (lt %d, m%d)", i, l.LogicalTime, l.MachineID, w[0], w[1])
		}
	}
}

func TestReadTraceDir_Missing(t *testing.T) {
	dir := t.TempDir()
	if _, err := readTraceDir(dir, store.AllMachines); err == nil {
		t.Fatal("empty dir should fail")
	}
	if _, err := readTraceDir(dir, 4); err == nil || !strings.Contains(err.Error(), "machine 4") {
		t.Fatalf("missing machine file: err = %v", err)
	}
}

// --- printLine tests ---

func TestPrintLine_Record(t *testing.T) {
	l := model.TraceLine{MachineID: 2, Line: traceLine(model.TraceSent, "to 0,1: It is 7 o'clock on machine 2.", 7)}
	out := captureStdout(t, func() { printLine(l) })
	if out != "[lt=7] m2 MESSAGE SENT to 0,1: It is 7 o'clock on machine 2.\n" {
		t.Fatalf("printLine = %q", out)
	}
}

func TestPrintLine_Unparsed(t *testing.T) {
	l := model.TraceLine{MachineID: 1, LogicalTime: 3, Line: "free text"}
	out := captureStdout(t, func() { printLine(l) })
	if out != "[lt=3] m1 free text\n" {
		t.Fatalf("printLine = %q", out)
	}
}

// --- status tests ---

func TestCmdStatus_JSON(t *testing.T) {
	a := newTestApp(t)
	run := seedRun(t, a)

	var code int
	out := captureStdout(t, func() { code = a.cmdStatus([]string{"--json"}) })
	if code != 0 {
		t.Fatalf("cmdStatus = %d", code)
	}
	var res struct {
		Run      model.Run       `json:"run"`
		State    string          `json:"state"`
		Machines []machineStatus `json:"machines"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if res.Run.ID != run.ID || res.State != "running" {
		t.Fatalf("run = %+v state=%s", res.Run, res.State)
	}
	if len(res.Machines) != 3 {
		t.Fatalf("got %d machines", len(res.Machines))
	}
	m0 := res.Machines[0]
	if m0.Sent != 1 || m0.Internal != 1 || m0.Ticks != 2 || m0.LastSeq != 3 || m0.Rate != 1 {
		t.Fatalf("machine 0 = %+v", m0)
	}
	if res.Machines[2].Ticks != 0 || res.Machines[2].LastSeq != 1 {
		t.Fatalf("machine 2 = %+v", res.Machines[2])
	}
}

func TestCmdStatus_Text(t *testing.T) {
	a := newTestApp(t)
	run := seedRun(t, a)
	if err := a.store.FinishRun(run.ID, run.StartedAt.Add(1500*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	var code int
	out := captureStdout(t, func() { code = a.cmdStatus(nil) })
	if code != 0 {
		t.Fatalf("cmdStatus = %d", code)
	}
	for _, want := range []string{run.ID + " (finished)", "took=1.5s", "rate=2/s peers=2,0"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestRunState(t *testing.T) {
	now := time.Now()
	if got := runState(&model.Run{}); got != "running" {
		t.Fatalf("runState(unfinished) = %q", got)
	}
	if got := runState(&model.Run{FinishedAt: &now}); got != "finished" {
		t.Fatalf("runState(finished) = %q", got)
	}
}

// --- watch tests ---

func TestCmdWatch_DrainsFinishedRun(t *testing.T) {
	a := newTestApp(t)
	run := seedRun(t, a)
	if err := a.store.FinishRun(run.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	var code int
	out := captureStdout(t, func() {
		captureStderr(t, func() { code = a.cmdWatch([]string{"--interval", "10ms"}) })
	})
	if code != 0 {
		t.Fatalf("cmdWatch = %d", code)
	}
	got := logLines(out)
	if len(got) != 6 {
		t.Fatalf("watch printed %d lines:\n%s", len(got), out)
	}
	if got[len(got)-1] != "[lt=1] m0 MESSAGE SENT to 1: It is 1 o'clock on machine 0." {
		t.Fatalf("last line = %q", got[len(got)-1])
	}
}

func TestPollLines_AdvancesCursors(t *testing.T) {
	a := newTestApp(t)
	run := seedRun(t, a)
	cursors := map[int]int64{}
	merger := frontier.NewMerger([]int{0})

	var n int
	captureStdout(t, func() { n, _ = a.pollLines(run.ID, []int{0}, cursors, merger, false) })
	if n != 3 || cursors[0] != 3 {
		t.Fatalf("first poll: n=%d cursor=%d", n, cursors[0])
	}
	a.store.AppendLine(run.ID, 0, traceLine(model.TraceInternal, "", 2))
	out := captureStdout(t, func() { n, _ = a.pollLines(run.ID, []int{0}, cursors, merger, true) })
	if n != 1 || cursors[0] != 4 {
		t.Fatalf("second poll: n=%d cursor=%d", n, cursors[0])
	}
	var l model.TraceLine
	if err := json.Unmarshal([]byte(out), &l); err != nil || l.LogicalTime != 2 {
		t.Fatalf("json line %q: %v", out, err)
	}
}

// --- Helpers ---

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}
