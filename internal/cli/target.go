package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/ratecheck/internal/target"
)

func newTargetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Run the rate-limited target service",
		Long: `Run the HTTP service the load tests verify. Requests carrying an API_KEY
header are limited per key, other requests per client IP, within a fixed
window. Limited requests are answered with 429.

Configuration is read from the environment and an optional .env file:
  APP_PORT, STORE (memory|redis), REDIS_HOST, REDIS_PORT, REDIS_PASSWORD,
  REDIS_DB, RATE_MAX_REQUESTS_BY_IP, RATE_MAX_REQUESTS_BY_TOKEN,
  RATE_PERIOD_WINDOW_SECONDS`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.logger("info")
			if err != nil {
				return &CommandError{Code: ExitError, Err: err}
			}

			// The service keeps its own unprefixed environment keys
			v := viper.New()
			if cmd.Flags().Changed("port") {
				port, _ := cmd.Flags().GetInt("port")
				v.Set("APP_PORT", port)
			}
			if cmd.Flags().Changed("store") {
				store, _ := cmd.Flags().GetString("store")
				v.Set("STORE", store)
			}

			envDir, _ := cmd.Flags().GetString("env-dir")
			cfg, err := target.LoadConfig(v, envDir)
			if err != nil {
				return &CommandError{Code: ExitError, Err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := target.NewServerFromConfig(ctx, cfg, logger)
			if err != nil {
				return &CommandError{Code: ExitError, Err: err}
			}
			defer srv.Close()

			if err := srv.ListenAndServe(ctx); err != nil {
				return &CommandError{Code: ExitError, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().Int("port", 0, "Listen port (overrides APP_PORT)")
	cmd.Flags().String("store", "", "Counter store: memory or redis (overrides STORE)")
	cmd.Flags().String("env-dir", ".", "Directory holding an optional .env file")

	return cmd
}
