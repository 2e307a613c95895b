package main

import (
	"github.com/spf13/cobra"

	"fleettrack/internal/buildinfo"
)

var rootCmd = &cobra.Command{
	Use:           "tracker",
	Short:         "Live fleet tracking synchronization engine",
	Version:       buildinfo.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}
