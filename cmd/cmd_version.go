package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

func versionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and build details",
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(out, BuildDetails())
		},
	}
}

// BuildDetails returns the version, commit and build date
func BuildDetails() string {
	if version == "" {
		return "PathQL (unknown version)"
	}

	return fmt.Sprintf(`PathQL %v
For documentation, visit https://github.com/qbloq/pathql

Commit SHA-1          : %v
Commit timestamp      : %v
Go version            : %v

Licensed under the Apache Public License 2.0
Copyright 2026`,
		version,
		commit,
		date,
		runtime.Version())
}
