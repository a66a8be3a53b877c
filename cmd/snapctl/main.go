package main

import (
	"os"

	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"

	"github.com/danmuck/raftsnap/cmd/internal/logcfg"
)

var rootCmd *cobra.Command

func init() {
	cobra.EnableCommandSorting = false
	rootCmd = &cobra.Command{
		Use:   "snapctl",
		Short: "Raft snapshot directory inspection tool",
		Long: `Example:
			snapctl list <snapshot-root>
			snapctl meta <snapshot-dir>
			snapctl verify <snapshot-dir>
			snapctl prune <snapshot-root>
		`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       "1.0.0",
	}
	rootCmd.AddCommand(
		newList(),
		newMeta(),
		newVerify(),
		newPrune(),
	)
}

func main() {
	logs.Configure(logcfg.Load())

	if err := rootCmd.Execute(); err != nil {
		logs.Errorf(err, "snapctl failed")
		os.Exit(1)
	}
}
