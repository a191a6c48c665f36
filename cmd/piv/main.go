// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command piv is the multi-project development supervisor's CLI: init
// scaffolds and registers a project, status prints the registry, and
// monitor runs (or single-shots) the periodic cycle described in
// spec.md §6. Subcommand dispatch mirrors the teacher's cmd/server/main.go
// os.Args[1]-then-handleXCommand shape, one file per subcommand.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/piv-supervisor/internal/buildinfo"
	"github.com/traylinx/piv-supervisor/internal/logging"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		handleInitCommand(os.Args[2:])
	case "status":
		handleStatusCommand(os.Args[2:])
	case "monitor":
		handleMonitorCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("piv %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "piv: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: piv <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  init <path>      Scaffold and register a new project")
	fmt.Println("  status           Print the registry as a table")
	fmt.Println("  monitor          Run the periodic supervisor loop")
	fmt.Println("  monitor --once   Run exactly one cycle and exit")
	fmt.Println("  version          Print build information")
}

func fatalf(format string, args ...interface{}) {
	log.Errorf(format, args...)
	os.Exit(1)
}
