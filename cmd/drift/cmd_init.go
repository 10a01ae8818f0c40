package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/clockdrift/pkg/config"
)

func (a *app) cmdInit(args []string) int {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	cfgPath := flags.String("config", a.cfgPath, "config file to write")
	force := flags.Bool("force", false, "overwrite an existing config file")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	_, err := os.Stat(*cfgPath)
	switch {
	case err == nil && !*force:
		fmt.Fprintf(os.Stderr, "drift: init: %s already exists (use --force to overwrite)\n", *cfgPath)
		return 1
	case err != nil && !errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "drift: init: %v\n", err)
		return 1
	}

	cfg := config.Default()
	if err := cfg.Write(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "drift: init: %v\n", err)
		return 1
	}
	if err := a.loadConfig(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "drift: init: %v\n", err)
		return 1
	}

	fmt.Printf("initialized clockdrift (config: %s)\n", *cfgPath)
	if a.cfg.DBPath != "" {
		s, err := a.db()
		if err != nil {
			fmt.Fprintf(os.Stderr, "drift: init: database error: %v\n", err)
			return 1
		}
		runs, err := s.ListRuns(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "drift: init: database error: %v\n", err)
			return 1
		}
		fmt.Printf("  db: %s\n", a.cfg.DBPath)
		if len(runs) > 0 {
			fmt.Printf("  %d existing run(s)\n", len(runs))
		}
	}
	fmt.Printf("  traces: %s/<id>.log\n", a.cfg.LogDir)

	fmt.Println()
	fmt.Println("next steps:")
	if *cfgPath != config.DefaultFile {
		fmt.Printf("  export %s=%s\n", config.EnvConfig, *cfgPath)
	}
	fmt.Println("  drift run --duration 1m   # run the cluster for a minute")
	fmt.Println("  drift log                 # merged trace of the last run")
	return 0
}
