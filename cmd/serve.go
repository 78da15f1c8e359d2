package cmd

import (
	"log/slog"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/relay"
	"github.com/BioHazard786/warpmeet/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagServeConfig    string
	flagServeListen    string
	flagServeRateLimit float64
	flagServeBurst     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the relay that assigns peer ids, keeps room rosters and forwards
offers, answers and candidates between the members of a room.

Endpoints:
  /ws       WebSocket signaling (JSON text or msgpack binary frames)
  /health   JSON health check
  /metrics  Prometheus metrics

Examples:
  warpmeet serve
  warpmeet serve --listen :9000 --rate-limit 20 --burst 40`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{
			ConfigFile: flagServeConfig,
			ListenAddr: flagServeListen,
			RateLimit:  flagServeRateLimit,
			Burst:      flagServeBurst,
		})
		if err != nil {
			return err
		}

		srv := relay.NewServer(relay.Options{
			Addr:      cfg.ListenAddr,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
			Logger:    slog.Default(),
		})
		ui.PrintInfof("Relay listening on %s", cfg.ListenAddr)
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&flagServeConfig, "config", "", "Path to a YAML config file")
	serveCmd.Flags().StringVarP(&flagServeListen, "listen", "l", "", "Listen address")
	serveCmd.Flags().Float64Var(&flagServeRateLimit, "rate-limit", 0, "Messages per second allowed per client")
	serveCmd.Flags().IntVar(&flagServeBurst, "burst", 0, "Message burst allowed per client")
}
