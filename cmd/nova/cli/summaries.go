package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var summaryLimit int

var summariesCmd = &cobra.Command{
	Use:   "summaries",
	Short: "List stored conversation summaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		sums, err := r.Store.Summaries(cmd.Context(), ownerID, summaryLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, sums)
		}
		if len(sums) == 0 {
			fmt.Fprintln(out, "No summaries yet.")
			return nil
		}
		for _, s := range sums {
			fmt.Fprintf(out, "%s  %s\n  %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04"), s.ID, strings.ReplaceAll(s.Text, "\n", "\n  "))
		}
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize the latest messages now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		item, err := r.Summarizer.Summarize(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), item)
		}
		fmt.Fprintln(cmd.OutOrStdout(), item.Content)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(summariesCmd)
	RootCmd.AddCommand(summarizeCmd)
	summariesCmd.Flags().IntVarP(&summaryLimit, "limit", "n", 10, "Maximum summaries to show")
}
