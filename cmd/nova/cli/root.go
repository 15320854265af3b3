package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool
	ownerID    string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "nova",
	Short: "Conversation assistant with topic memory",
	Long: `Nova answers chat messages with a two-stage analyze and generate pipeline,
groups every message into evolving topics and keeps summaries of what matters.`,
	SilenceUsage: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func defaultOwner() string {
	if o := os.Getenv("NOVA_OWNER"); o != "" {
		return o
	}
	return "local"
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOME/.nova/config.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON logs and output")
	RootCmd.PersistentFlags().StringVar(&ownerID, "owner", defaultOwner(), "Conversation owner id")
}
