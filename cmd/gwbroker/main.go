// Command gwbroker is the process wrapper around the Gateway
// Orchestrator, grounded on cuemby-warren's cmd/warren: a cobra root
// command with run/apply/validate subcommands and global logging flags.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modbroker/gwbroker/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gwbroker",
	Short: "gwbroker hosts gateway modules and routes messages between them",
	Long: `gwbroker is an in-process gateway message broker: it hosts
dynamically composed modules and routes messages between them along
explicitly declared links, either over an in-process wire endpoint or
a direct thread-to-thread queue.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(validateCmd)
}
