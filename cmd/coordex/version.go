package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		info("coordex version %s", version.Get())
	},
}
