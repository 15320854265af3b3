package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [pattern]",
	Short: "Store every line of matching text files as a message",
	Long: `Import reads the files matching a glob such as 'notes/**/*.txt' and stores
each non-blank line as a message, which is then clustered into topics.
Only files allowed by guard.import_globs are read.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		n, err := r.Runtime.Import(cmd.Context(), ownerID, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d messages\n", n)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(importCmd)
}
