// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/skratchdot/open-golang/open"

	"github.com/traylinx/piv-supervisor/internal/config"
	"github.com/traylinx/piv-supervisor/internal/registry"
	"github.com/traylinx/piv-supervisor/internal/util"
)

// handleStatusCommand implements `status` (spec.md §6): prints the registry
// contents as a table; exit 0 unless the registry is unreadable. `--open`
// is a convenience the teacher's own go.mod carries skratchdot/open-golang
// for but never wires up: here it opens the Intervention Log in whatever
// application the OS associates with a .md file, so an operator can jump
// straight from a table of stalled projects to their history.
func handleStatusCommand(args []string) {
	flagSet := flag.NewFlagSet("status", flag.ExitOnError)
	openLog := flagSet.Bool("open", false, "Open the Intervention Log in the OS default application")
	if err := flagSet.Parse(args); err != nil {
		os.Exit(2)
	}

	home, err := util.NewHome()
	if err != nil {
		fmt.Fprintf(os.Stderr, "piv status: %v\n", err)
		os.Exit(1)
	}

	if *openLog {
		cfg, err := config.Load(home.RootPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "piv status: load config: %v\n", err)
			os.Exit(1)
		}
		if err := open.Run(cfg.InterventionLogPath); err != nil {
			fmt.Fprintf(os.Stderr, "piv status: open intervention log: %v\n", err)
			os.Exit(1)
		}
		return
	}

	reg, err := registry.Read(home.RegistryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "piv status: registry unreadable: %v\n", err)
		os.Exit(1)
	}

	projects := reg.List()
	if len(projects) == 0 {
		fmt.Println("No registered projects.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPHASE\tVERSION\tPID\tHEARTBEAT AGE")
	now := time.Now().UTC()
	for _, p := range projects {
		phase := "-"
		if p.CurrentPhase != nil {
			phase = fmt.Sprintf("%d", *p.CurrentPhase)
		}
		pid := "-"
		if p.OrchestratorPid != nil {
			pid = fmt.Sprintf("%d", *p.OrchestratorPid)
		}
		age := now.Sub(p.Heartbeat).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.Name, p.Status, phase, p.PivCommandsVersion, pid, age)
	}
	w.Flush()
}
