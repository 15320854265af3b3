package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/nova/internal/store"
)

var messageLimit int

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect conversation topics",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		topics, err := r.Topics.ListTopics(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, topics)
		}
		if len(topics) == 0 {
			fmt.Fprintln(out, "No topics yet.")
			return nil
		}

		t := newTable("ID", "Messages", "Keywords", "Updated")
		for _, tp := range topics {
			t.Row(tp.ID, strconv.Itoa(tp.MessageCount), strings.Join(tp.Keywords, ", "), tp.LastUpdated.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintln(out, t.Render())
		return nil
	},
}

var topicsMessagesCmd = &cobra.Command{
	Use:   "messages [topic-id]",
	Short: "Show the newest messages of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		msgs, err := r.Topics.TopicMessages(cmd.Context(), ownerID, args[0], messageLimit)
		if err != nil {
			return err
		}
		return printMessages(cmd.OutOrStdout(), msgs)
	},
}

var topicsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute the topic index from stored messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		n, err := r.Topics.Rebuild(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %d topics for %s\n", n, ownerID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the newest messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		msgs, err := r.Topics.RecentMessages(cmd.Context(), ownerID, messageLimit)
		if err != nil {
			return err
		}
		return printMessages(cmd.OutOrStdout(), msgs)
	},
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))).
		Headers(headers...)
}

func printMessages(out io.Writer, msgs []*store.Message) error {
	if jsonOutput {
		return printJSON(out, msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages.")
		return nil
	}
	t := newTable("ID", "Role", "Topic", "Content")
	for _, m := range msgs {
		t.Row(m.ID, string(m.Role), m.TopicID, m.Content)
	}
	fmt.Fprintln(out, t.Render())
	return nil
}

func init() {
	RootCmd.AddCommand(topicsCmd)
	RootCmd.AddCommand(historyCmd)
	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsMessagesCmd)
	topicsCmd.AddCommand(topicsRebuildCmd)
	topicsMessagesCmd.Flags().IntVarP(&messageLimit, "limit", "n", 20, "Maximum messages to show")
	historyCmd.Flags().IntVarP(&messageLimit, "limit", "n", 20, "Maximum messages to show")
}
