package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/config"
	"github.com/JakeFAU/knowledge-engine/internal/logging"
	"github.com/JakeFAU/knowledge-engine/internal/server"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType struct{}

// env is what PersistentPreRunE hands to subcommands.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "knowledge-engine",
		Short: "Turns web pages into a knowledge graph.",
		Long: `knowledge-engine fetches pages, asks a language model for the entities
and relations they mention, and merges the results into a graph. Work moves
through durable fetch, extract and graph merge queues, so a restart picks up
where the last run stopped.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: &cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(
		newRunCmd(),
		newEnqueueCmd(),
		newEntitiesCmd(),
		newRelationsCmd(),
		newDocumentCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

// withStores opens the stores for the duration of fn.
func withStores(cmd *cobra.Command, fn func(*server.Stores) error) (err error) {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	stores, err := server.OpenStores(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, stores.Close())
	}()
	return fn(stores)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
