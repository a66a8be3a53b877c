package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/danmuck/raftsnap/src/filestore"
	"github.com/danmuck/raftsnap/src/snapshot"
)

func newList() *cobra.Command {
	return &cobra.Command{
		Use:   "list <snapshot-root>",
		Short: "List snapshot directories under a root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(args[0])
		},
	}
}

func runList(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to read snapshot root: %w", err)
	}

	backend := filestore.New()
	var rows [][]string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := snapshot.ParseDirName(entry.Name()); !ok {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		index, term := "?", "?"
		if meta, err := backend.ReadMeta(dir); err == nil {
			index = fmt.Sprintf("%d", meta.Index)
			term = fmt.Sprintf("%d", meta.Term)
		}

		health := "ok"
		if err := backend.Verify(dir); err != nil {
			health = err.Error()
		}

		rows = append(rows, []string{entry.Name(), index, term, payloadSize(dir), health})
	}

	if len(rows) == 0 {
		fmt.Println("no snapshots")
		return nil
	}

	table := newTable([]string{"Dir", "Index", "Term", "Size", "Health"}, rows)
	table.Render()
	return nil
}

func payloadSize(dir string) string {
	info, err := os.Stat(filepath.Join(dir, filestore.PayloadFileName))
	if err != nil {
		return "?"
	}
	return formatBytes(uint64(info.Size()))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newTable(title []string, data [][]string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(title)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data)
	return table
}
