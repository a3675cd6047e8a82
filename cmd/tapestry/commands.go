// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Populated at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "tapestry",
		Short: "Workflow automation runtime for chat platforms",
		Long: `Tapestry runs published chat workflows: it holds the live
platform connections, listens for commands and component interactions,
and executes the matching workflow graphs.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the runtime daemon",
		RunE:  runDaemon,
	}

	validateCmd = &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Validate a workflow graph file and print its issues",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("tapestry %s (%s)\n", version, commit)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
}
