package cmd

import (
	"fmt"
	"os"

	"github.com/rackfleet/rackrpc/cmd/agent"
	"github.com/rackfleet/rackrpc/cmd/perf"
	"github.com/rackfleet/rackrpc/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rackrpc",
		Short: "rack-to-region RPC transport",
		Long: fmt.Sprintf(`rackrpc (v%s)

The RPC transport a rack controller uses to talk to its region: a
connection pool toward every region event-loop, typed wire argument
codecs and a serialized database task queue.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rackrpc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rackrpc v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(agent.AgentCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
