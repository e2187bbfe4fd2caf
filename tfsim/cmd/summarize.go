package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sarchlab/timedfifo/analysis"
	"github.com/sarchlab/timedfifo/datarecording"
	"github.com/spf13/cobra"
)

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <trace.sqlite3>",
		Short: "Count the queue events recorded in a SQLite trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return summarize(cmd.OutOrStdout(), args[0])
		},
	}
}

func summarize(w io.Writer, filename string) error {
	reader, err := datarecording.OpenSQLiteReader(filename)
	if err != nil {
		return err
	}
	defer reader.Close()

	tables, err := reader.ListTables()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Tables: %s\n\n", strings.Join(tables, ", "))

	counts, err := reader.CountBy(analysis.QueueEventTable, "Queue", "Kind")
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tEVENT\tCOUNT")

	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Keys[0], c.Keys[1], c.Count)
	}

	return tw.Flush()
}
