package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/nova/internal/config"
	"github.com/felixgeelhaar/nova/internal/store"
)

var reveal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored configuration",
	Long: `Values are kept in the nova database. Keys ending in .api_key
(for example groq.api_key) are sealed before they are written.`,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		s, err := openConfigStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if config.IsSecretKey(key) {
			if value, err = config.NewSealer().Seal(value); err != nil {
				return fmt.Errorf("failed to seal %s: %w", key, err)
			}
		}
		if err := s.SetConfig(cmd.Context(), key, value); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		s, err := openConfigStore()
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		val, err := s.GetConfig(cmd.Context(), key)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(out, "(not set)")
			return nil
		}
		if err != nil {
			return err
		}

		if config.IsSealed(val) {
			if val, err = config.NewSealer().Open(val); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if !reveal {
				val = config.Mask(val)
			}
		}
		fmt.Fprintln(out, val)
		return nil
	},
}

// openConfigStore skips provider validation so keys can be set before they exist.
func openConfigStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configGetCmd.Flags().BoolVar(&reveal, "reveal", false, "Print sealed values in full")
}
