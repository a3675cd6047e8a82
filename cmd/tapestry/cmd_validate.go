// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TapestryLabs/tapestry/services/flow/graph"
	"github.com/TapestryLabs/tapestry/services/flow/validate"
)

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}

	g, err := graph.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse workflow: %w", err)
	}

	issues := validate.Validate(g)
	for _, issue := range issues {
		where := ""
		if issue.NodeID != "" {
			where = " [" + issue.NodeID + "]"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s: %s\n", issue.Level, where, issue.Message)
	}

	if validate.HasErrors(issues) {
		return fmt.Errorf("workflow has errors")
	}

	if _, err := graph.Compile(g); err != nil {
		return fmt.Errorf("compile workflow: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d nodes, %d edges, %d warnings\n",
		len(g.Nodes), len(g.Edges), len(issues))
	return nil
}
