package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dps/cmd/lock"
	"github.com/ValentinKolb/dps/cmd/store"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dps",
		Short: "distributed process store directory",
		Long: fmt.Sprintf(`dps (v%s)

A backend-agnostic directory of named key-value stores and
distributed locks, written in Go. Stores and locks live in a
pluggable storage backend (memdb, boltdb, redisdb).`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dps",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dps v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(store.StoreCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
