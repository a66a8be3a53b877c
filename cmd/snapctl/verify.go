package main

import (
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"

	"github.com/danmuck/raftsnap/src/filestore"
)

func newVerify() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <snapshot-dir>",
		Short: "Deep-check one snapshot directory (header checksum, payload size and crc)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := filestore.New().Verify(args[0]); err != nil {
				return err
			}
			logs.Infof("%s: ok", args[0])
			return nil
		},
	}
}
