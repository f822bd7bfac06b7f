package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperdrift/hl/internal/config"
	"github.com/hyperdrift/hl/internal/daemon"
	"github.com/hyperdrift/hl/internal/ipc"
	"github.com/hyperdrift/hl/internal/paths"
)

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the market-data daemon",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE:  runServerStart,
	}
	startCmd.Flags().Bool("testnet", false, "Mirror testnet instead of mainnet")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(*cobra.Command, []string) error {
			if err := daemon.StopRunning(); err != nil {
				return err
			}
			fmt.Println("Server stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE:  runServerStatus,
	}
	statusCmd.Flags().Bool("json", false, "Emit raw JSON")

	// The foreground daemon process that `server start` spawns.
	runCmd := &cobra.Command{
		Use:    "run",
		Hidden: true,
		RunE:   runServerForeground,
	}
	runCmd.Flags().Bool("testnet", false, "Mirror testnet instead of mainnet")

	cmd.AddCommand(startCmd, stopCmd, statusCmd, runCmd)
	return cmd
}

func runServerStart(cmd *cobra.Command, _ []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	if err := daemon.StartDetached(daemon.Options{Testnet: testnet}); err != nil {
		return err
	}
	network := "mainnet"
	if testnet {
		network = "testnet"
	}
	fmt.Printf("Server started (%s)\n", network)
	return nil
}

func runServerForeground(cmd *cobra.Command, _ []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	tuning := config.LoadDaemon(paths.DaemonYAML())
	return daemon.Run(context.Background(), daemon.Options{
		Testnet:         testnet,
		RefreshInterval: tuning.RefreshInterval.Std(),
		MetricsAddr:     tuning.MetricsAddr,
		WSURL:           tuning.WSURL,
		HTTPURL:         tuning.HTTPURL,
	})
}

func runServerStatus(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	c := ipc.TryConnect(paths.Socket())
	if c == nil {
		if asJSON {
			fmt.Println(`{"running":false}`)
			return nil
		}
		fmt.Println("Server is not running")
		return nil
	}
	defer c.Close()

	st, err := c.GetStatus()
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	network := "mainnet"
	if st.Testnet {
		network = "testnet"
	}
	transport := "disconnected"
	if st.Connected {
		transport = "connected"
	}
	fmt.Printf("Server running (%s), transport %s, up %s\n",
		network, transport, (time.Duration(st.Uptime) * time.Millisecond).Round(time.Second))
	fmt.Printf("  mids:       %s\n", slotLine(st.Cache.HasMids, st.Cache.MidsAgeMS))
	fmt.Printf("  assetCtxs:  %s\n", slotLine(st.Cache.HasAssetCtxs, st.Cache.AssetCtxsAgeMS))
	fmt.Printf("  perpMetas:  %s\n", slotLine(st.Cache.HasPerpMetas, st.Cache.PerpMetasAgeMS))
	_ = os.Stdout.Sync()
	return nil
}

func slotLine(present bool, ageMS *int64) string {
	if !present {
		return "empty"
	}
	if ageMS == nil {
		return "populated"
	}
	return fmt.Sprintf("populated, %s old", (time.Duration(*ageMS) * time.Millisecond).Round(time.Millisecond))
}
