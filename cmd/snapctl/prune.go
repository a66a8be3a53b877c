package main

import (
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"

	"github.com/danmuck/raftsnap/src/filestore"
	"github.com/danmuck/raftsnap/src/registry"
	"github.com/danmuck/raftsnap/src/snapshot"
)

// prune runs the same retention scan a participant performs at startup:
// keep the youngest readable snapshot, reclaim every other snapshot
// directory.
func newPrune() *cobra.Command {
	return &cobra.Command{
		Use:   "prune <snapshot-root>",
		Short: "Keep the youngest readable snapshot, delete the rest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := snapshot.InitManager("snapctl", filestore.New(), args[0], registry.New())
			if err != nil {
				return err
			}
			if it, ok := mgr.Current(); ok {
				logs.Infof("retained %s (%s)", snapshot.DirName(it), it)
			} else {
				logs.Infof("no readable snapshot retained")
			}
			return nil
		},
	}
}
