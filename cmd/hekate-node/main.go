// cmd/hekate-node/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hekate-node",
	Short: "Run a hekate cluster node",
	Long: `hekate-node starts one process as a member of a hekate cluster:
gossip membership, messaging channels, distributed locks, and
coordination processes, all driven by the github.com/hekate-project/hekate
module.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
