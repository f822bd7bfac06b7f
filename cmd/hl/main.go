package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "hl"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if os.Getenv("HL_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Hyperliquid terminal: live market data, account views, trading",
		Version: version,
		Long: `hl keeps a local daemon subscribed to the exchange's push feeds and
answers reads from its warm cache. Without the daemon every command
falls back to direct API calls, just slower.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tradeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
