// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/piv-supervisor/internal/bootstrap"
	"github.com/traylinx/piv-supervisor/internal/util"
)

// handleInitCommand implements the `init <path>` CLI surface (spec.md §6):
// exit 0 on success, 2 on path conflict, 1 on I/O error.
func handleInitCommand(args []string) {
	flagSet := flag.NewFlagSet("init", flag.ExitOnError)
	name := flagSet.String("name", "", "Friendly project name (defaults to the directory's base name)")
	from := flagSet.String("from", "", "Framework source directory to copy command assets from")
	overwrite := flagSet.Bool("overwrite", false, "Allow initializing into a non-empty directory")

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "piv init: missing target path")
		os.Exit(2)
	}
	target := args[0]
	if err := flagSet.Parse(args[1:]); err != nil {
		os.Exit(2)
	}

	home, err := util.NewHome()
	if err != nil {
		fmt.Fprintf(os.Stderr, "piv init: %v\n", err)
		os.Exit(1)
	}
	if err := home.EnsureDir(home.RootPath()); err != nil {
		fmt.Fprintf(os.Stderr, "piv init: %v\n", err)
		os.Exit(1)
	}

	frameworkSource := *from
	if frameworkSource == "" {
		frameworkSource = os.Getenv("PIV_FRAMEWORK_SOURCE_DIR")
	}
	if frameworkSource == "" {
		fmt.Fprintln(os.Stderr, "piv init: --from or PIV_FRAMEWORK_SOURCE_DIR is required")
		os.Exit(1)
	}

	project, err := bootstrap.Init(bootstrap.Options{
		TargetPath:         target,
		FriendlyName:       *name,
		FrameworkSourceDir: frameworkSource,
		RegistryPath:       home.RegistryPath(),
		Overwrite:          *overwrite,
	})
	if err != nil {
		if errors.Is(err, bootstrap.ErrPathConflict) {
			fmt.Fprintf(os.Stderr, "piv init: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "piv init: %v\n", err)
		os.Exit(1)
	}

	log.Infof("piv init: registered %s at %s (framework version %s)", project.Name, project.Path, project.PivCommandsVersion)
}
