package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dDoc/cmd/doc"
	"github.com/ValentinKolb/dDoc/cmd/lock"
	"github.com/ValentinKolb/dDoc/cmd/ns"
	"github.com/ValentinKolb/dDoc/cmd/perf"
	"github.com/ValentinKolb/dDoc/cmd/repl"
	"github.com/ValentinKolb/dDoc/cmd/serve"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ddoc",
		Short: "replicated document store",
		Long: fmt.Sprintf(`dDoc (v%s)

A replicated document store written in Go. A replica set elects a single
primary per term, replicates every write through an ordered log and drops
temporary collections whenever a new primary takes over.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dDoc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dDoc v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(ns.NamespaceCommands)
	RootCmd.AddCommand(doc.DocumentCommands)
	RootCmd.AddCommand(repl.ReplicaSetCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, msgpack)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
