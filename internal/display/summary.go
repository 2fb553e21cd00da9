package display

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/chatforwarder/internal/metrics"
)

// RenderSummary writes the per-tag session table shown on exit.
func RenderSummary(w io.Writer, snap metrics.Snapshot) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Tag", "Label", "Received", "Filtered"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, tc := range snap.Tags {
		tw.Append([]string{
			tc.Tag.String(),
			tc.Label,
			fmt.Sprintf("%d", tc.Received),
			fmt.Sprintf("%d", tc.Filtered),
		})
	}
	tw.SetFooter([]string{
		"",
		"Total",
		fmt.Sprintf("%d", snap.Received),
		fmt.Sprintf("%d", snap.Filtered),
	})
	tw.Render()

	fmt.Fprintf(w, "Session %s: %d sent, %d send errors, %d empty datagrams, %d receive errors\n",
		snap.Uptime, snap.Sent, snap.SendErrors, snap.Empty, snap.ReceiveErrors)
}
