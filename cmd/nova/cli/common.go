package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/nova/internal/config"
	"github.com/felixgeelhaar/nova/internal/observe"
	"github.com/felixgeelhaar/nova/internal/store"
)

func newObserver(w io.Writer) *observe.Observer {
	if jsonOutput {
		return observe.NewJSON(w, verbose)
	}
	return observe.New(w, verbose)
}

// openStore opens the database under the configured data directory.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

// applyStoredKeys fills API keys the environment did not provide from the
// store's configuration table, unsealing them on the way.
func applyStoredKeys(ctx context.Context, cfg *config.Config, s store.Storage, sealer *config.Sealer) error {
	for _, p := range []*config.ProviderConfig{&cfg.Analyzer, &cfg.Generator} {
		if p.APIKey != "" || p.Name == "" {
			continue
		}
		raw, err := s.GetConfig(ctx, p.Name+".api_key")
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		key, err := sealer.Open(raw)
		if err != nil {
			return fmt.Errorf("%s.api_key: %w", p.Name, err)
		}
		p.APIKey = key
	}
	return nil
}

// openRunner loads and validates configuration, then wires a Runner.
// The returned close func must be called once the command is done.
func openRunner(cmd *cobra.Command) (*Runner, func(), error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := applyStoredKeys(ctx, cfg, s, config.NewSealer()); err != nil {
		s.Close()
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	obs := newObserver(cmd.ErrOrStderr())
	r, err := NewRunner(ctx, cfg, obs, s)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return r, func() {
		if err := r.Close(context.Background()); err != nil {
			obs.Log().Warn().Err(err).Msg("shutdown incomplete")
		}
		s.Close()
		_ = obs.Close()
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
