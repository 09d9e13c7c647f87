package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"renderstudio/internal/infra"
	"renderstudio/internal/infra/credentials"
)

func newEngineKeyCommand() *cobra.Command {
	var (
		engineName string
		key        string
		dbURL      string
	)
	cmd := &cobra.Command{
		Use:   "engine-key",
		Short: "Store the rendering engine API key in the shared database",
		Long: `engine-key writes the API key the renderer uses when ENGINE_API_KEY is
not set in its environment. The key is read from --key or ENGINE_API_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key = strings.TrimSpace(key)
			if key == "" {
				key = strings.TrimSpace(os.Getenv("ENGINE_API_KEY"))
			}
			if key == "" {
				return errors.New("API key is required via --key or ENGINE_API_KEY")
			}
			if strings.TrimSpace(dbURL) == "" {
				return errors.New("DATABASE_URL is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			pool, err := infra.NewDBPool(ctx, dbURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := infra.NewLogger("cli", "studioctl").With().Str("engine", engineName).Logger()
			store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			if err := store.SetEngineAPIKey(ctx, engineName, key, map[string]any{"source": "studioctl"}); err != nil {
				return fmt.Errorf("persist %s api key: %w", engineName, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s API key stored (%s)\n", engineName, infra.MaskSecret(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&engineName, "engine", envOr("ENGINE_NAME", "sd35"), "engine name the key belongs to")
	cmd.Flags().StringVar(&key, "key", "", "API key (falls back to ENGINE_API_KEY)")
	cmd.Flags().StringVar(&dbURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres URL")
	return cmd
}
