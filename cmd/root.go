package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dFront/cmd/action"
	"github.com/ValentinKolb/dFront/cmd/serve"
	"github.com/ValentinKolb/dFront/cmd/singleton"
	"github.com/ValentinKolb/dFront/cmd/table"
	"github.com/ValentinKolb/dFront/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dfront",
		Short: "reactive data sync for server-held entities",
		Long: fmt.Sprintf(`dFront (v%s)

A client-side data synchronization layer written in Go. It mirrors
server-held entities into reference-counted caches, keeps them live
through server-pushed patches and runs idempotent actions.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dFront",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dFront v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(table.TableCommands)
	RootCmd.AddCommand(singleton.SingletonCommands)
	RootCmd.AddCommand(action.ActionCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, ws)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
