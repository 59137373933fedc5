package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "resume-analyzer",
	Short: "Resume analysis job engine",
	Long: `resume-analyzer runs two-stage resume assessments (structure, then appeal)
as asynchronous jobs with deduplication, retries and status polling.

Examples:
  resume-analyzer serve                                      # HTTP API and workers
  resume-analyzer analyze --file cv.txt --industry healthcare # one-off local analysis
  resume-analyzer loadgen --submissions 200                  # in-process load test`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(loadgenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
