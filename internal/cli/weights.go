package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cfssim/internal/sched"
)

func newWeightsCmd() *cobra.Command {
	var (
		nice0 float64
		maxP  int
	)

	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Print the priority to weight table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := sched.DefaultConfig()
			cfg.Nice0Load, cfg.MaxPriority = nice0, maxP
			if err := cfg.Validate(); err != nil {
				return err
			}

			wt := cfg.WeightTable()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "PRIO\tWEIGHT\tVRUNTIME/MS\t")
			for p := 0; p <= wt.MaxPriority; p++ {
				w, err := wt.Weight(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t\n", p, w, wt.Scale(1, w))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Float64Var(&nice0, "nice0", sched.DefaultNice0Load, "NICE_0_LOAD weight normalization")
	cmd.Flags().IntVar(&maxP, "max", sched.DefaultMaxPriority, "Highest priority number to print")
	return cmd
}
