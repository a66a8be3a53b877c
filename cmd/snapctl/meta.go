package main

import (
	"encoding/hex"
	"fmt"

	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"

	"github.com/danmuck/raftsnap/src/filestore"
)

func newMeta() *cobra.Command {
	return &cobra.Command{
		Use:   "meta <snapshot-dir>",
		Short: "Print the metadata header of one snapshot directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := filestore.New().ReadMeta(args[0])
			if err != nil {
				return fmt.Errorf("failed to read meta: %w", err)
			}

			logs.Titlef("\nSnapshot %s\n", args[0])
			logs.DataKV("Index", fmt.Sprintf("%d", meta.Index))
			logs.DataKV("Term", fmt.Sprintf("%d", meta.Term))
			cluster := "(empty)"
			if len(meta.Cluster) > 0 {
				cluster = hex.EncodeToString(meta.Cluster)
			}
			logs.DataKV("Cluster", cluster)
			return nil
		},
	}
}
