package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daviddao/clockdrift/pkg/config"
	"github.com/daviddao/clockdrift/pkg/model"
	"github.com/daviddao/clockdrift/pkg/store"
)

// app holds shared state for all CLI subcommands.
type app struct {
	cfgPath string
	cfg     config.Config
	store   *store.Store // opened on first use
}

// newApp loads the config file named by DRIFT_CONFIG (or drift.yaml) and
// the DRIFT_* overrides. The database is not opened until a command
// needs it.
func newApp() (*app, error) {
	a := &app{}
	if err := a.loadConfig(envOr(config.EnvConfig, config.DefaultFile)); err != nil {
		return nil, err
	}
	return a, nil
}

// loadConfig replaces the active config. Any open database is closed so
// the next db call follows the new DBPath.
func (a *app) loadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	a.Close()
	a.cfgPath, a.cfg = path, cfg
	return nil
}

// db opens the trace database at cfg.DBPath, creating its directory.
func (a *app) db() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.DBPath == "" {
		return nil, errors.New("no database configured (set db in the config or DRIFT_DB)")
	}
	if dir := filepath.Dir(a.cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", a.cfg.DBPath, err)
	}
	a.store = s
	return s, nil
}

// Close releases the database connection, if any.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

// resolveRun returns the run with the given id, or the latest run when id
// is empty.
func (a *app) resolveRun(id string) (*model.Run, error) {
	s, err := a.db()
	if err != nil {
		return nil, err
	}
	if id == "" {
		r, err := s.LatestRun()
		if errors.Is(err, store.ErrRunNotFound) {
			return nil, errors.New("no runs yet: start one with 'drift run'")
		}
		return r, err
	}
	return s.GetRun(id)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
