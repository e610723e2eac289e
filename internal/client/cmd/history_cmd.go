package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rudransh-shrivastava/sharesync/internal/db"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list past transfers",
	Long:  `prints the most recent transfers recorded in the history database, newest first`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, closeDB, err := openHistory()
		if err != nil {
			return err
		}
		defer closeDB()

		rows, err := history.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stdout, "no transfers yet")
			return nil
		}
		renderHistory(os.Stdout, rows)
		return nil
	},
}

func renderHistory(w io.Writer, rows []db.Transfer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Started", "Direction", "Name", "Size", "Chunks", "State", "Peer", "Detail"})
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

	for _, r := range rows {
		detail := r.Path
		if r.Error != "" {
			detail = r.Error
		}
		table.Append([]string{
			humanize.Time(time.UnixMilli(r.StartedAt)),
			r.Direction,
			r.Name,
			humanize.Bytes(uint64(r.Size)),
			strconv.Itoa(r.Chunks) + "/" + strconv.Itoa(r.TotalChunks),
			stateColor(r.State),
			r.PeerID,
			detail,
		})
	}
	table.Render()
}

func stateColor(state string) string {
	switch state {
	case "completed":
		return color.FgGreen.Render(state)
	case "aborted":
		return color.FgRed.Render(state)
	default:
		return color.FgYellow.Render(state)
	}
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of transfers to show, 0 for all")
}
