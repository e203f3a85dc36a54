package metrics

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"cfssim/internal/sched"
)

// WriteReport prints the per-task summary of a halted run.
func WriteReport(w io.Writer, r *sched.Report) error {
	if _, err := fmt.Fprintf(w, "halted after %s ticks (cpu %sms, idle %sms)\n\n",
		humanize.Comma(r.Ticks), humanize.Comma(r.CPUTime), humanize.Comma(r.IdleTicks)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tTYPE\tPRIO\tWEIGHT\tSHARE\tBURST\tCPU\tWAIT\tDISPATCHES\tVRUNTIME\tDONE@\t")
	for _, t := range r.Tasks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%.1f%%\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			t.ID,
			t.Kind,
			t.Priority,
			humanize.CommafWithDigits(t.Weight, 2),
			t.Share*100,
			humanize.Comma(t.Burst),
			humanize.Comma(t.CPUTime),
			humanize.Comma(t.WaitTime),
			t.Dispatches,
			humanize.CommafWithDigits(t.FinalVruntime, 3),
			humanize.Comma(t.CompletionTick),
		)
	}
	return tw.Flush()
}
