package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for the map viewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		sess, err := initSession(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer sess.Close() //nolint:errcheck

		srv := server.New(sess, serverConfig())
		return srv.Run(ctx, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func serverConfig() server.Config {
	return server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		LayerCacheSize: cfg.Server.LayerCacheSize,
		LayerCacheTTL:  time.Duration(cfg.Server.LayerCacheTTLMins) * time.Minute,
		Lang:           landcover.MatchLanguage(cfg.Lang),
	}
}

// resolvePort prefers the flag over config.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}
