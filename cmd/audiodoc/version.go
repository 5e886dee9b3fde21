package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("audiodoc %s\n", version.GitRelease)
		fmt.Printf("  Go:     %s\n", version.GoInfo)
		fmt.Printf("  Commit: %s\n", version.GitCommit)
		fmt.Printf("  Date:   %s\n", version.GitCommitDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
