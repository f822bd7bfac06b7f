package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hyperdrift/hl/internal/exchange"
	"github.com/hyperdrift/hl/internal/watcher"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal views",
	}

	priceCmd := &cobra.Command{
		Use:   "price <coin>",
		Short: "Stream the mid price for a coin",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatchPrice,
	}
	bookCmd := &cobra.Command{
		Use:   "book <coin>",
		Short: "Stream the L2 order book for a coin",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatchBook,
	}
	ordersCmd := &cobra.Command{
		Use:   "orders [address]",
		Short: "Stream the open-orders list for an address",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatchOrders,
	}
	positionsCmd := &cobra.Command{
		Use:   "positions [address]",
		Short: "Stream clearinghouse state for an address",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatchPositions,
	}
	balanceCmd := &cobra.Command{
		Use:   "balance [address]",
		Short: "Stream merged perp and spot balances for an address",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatchBalance,
	}

	for _, c := range []*cobra.Command{priceCmd, bookCmd, ordersCmd, positionsCmd, balanceCmd} {
		c.Flags().Bool("testnet", false, "Watch testnet instead of mainnet")
	}

	cmd.AddCommand(priceCmd, bookCmd, ordersCmd, positionsCmd, balanceCmd)
	return cmd
}

// runWatcher drives any watcher until interrupt: hide the cursor on a TTY,
// start, wait for SIGINT/SIGTERM, stop, restore the cursor, exit 0.
func runWatcher(w watcher.Watcher) error {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	if isTTY {
		fmt.Print("\x1b[?25l")
	}
	restore := func() {
		if isTTY {
			fmt.Print("\x1b[?25h\n")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := w.Start(ctx)
	cancel()
	if err != nil {
		restore()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	w.Stop()
	restore()
	return nil
}

func onWatchError(err error) {
	fmt.Fprintf(os.Stderr, "\nreconnecting: %v\n", err)
}

// resolveAddress prefers the explicit argument, falling back to the wallet
// configured in the environment.
func resolveAddress(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if addr := exchange.WalletAddress(); addr != "" {
		return addr, nil
	}
	return "", fmt.Errorf("no address given and no wallet configured; pass an address or set %s", exchange.EnvWalletAddress)
}

func runWatchPrice(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	w := watcher.NewPriceWatcher(args[0], testnet, func(u watcher.PriceUpdate) {
		fmt.Printf("\r%s  %s        ", u.Coin, u.Price)
	}, onWatchError)
	return runWatcher(w)
}

func runWatchBook(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	coin := args[0]
	w := watcher.NewBookWatcher(coin, testnet, func(u watcher.BookUpdate) {
		fmt.Printf("\x1b[2J\x1b[H%s  %s\n\n", coin, time.UnixMilli(u.Time).Format(time.TimeOnly))
		depth := 10
		if len(u.Asks) < depth {
			depth = len(u.Asks)
		}
		for i := depth - 1; i >= 0; i-- {
			fmt.Printf("  %12s  %12s\n", u.Asks[i].Px, u.Asks[i].Sz)
		}
		fmt.Println("  ------------")
		for i := 0; i < depth && i < len(u.Bids); i++ {
			fmt.Printf("  %12s  %12s\n", u.Bids[i].Px, u.Bids[i].Sz)
		}
	}, onWatchError)
	return runWatcher(w)
}

func runWatchOrders(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	addr, err := resolveAddress(args)
	if err != nil {
		return err
	}
	w := watcher.NewOrdersWatcher(addr, testnet, func(orders []exchange.OpenOrder) {
		fmt.Printf("\x1b[2J\x1b[H%d open orders\n\n", len(orders))
		for _, o := range orders {
			fmt.Printf("  %-8d %-6s %-4s %12s @ %-12s\n", o.Oid, o.Coin, o.Side, o.Sz, o.LimitPx)
		}
	}, onWatchError)
	return runWatcher(w)
}

func runWatchPositions(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	addr, err := resolveAddress(args)
	if err != nil {
		return err
	}
	w := watcher.NewPositionWatcher(addr, testnet, func(state json.RawMessage) {
		fmt.Printf("\x1b[2J\x1b[H%s\n", state)
	}, onWatchError)
	return runWatcher(w)
}

func runWatchBalance(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	addr, err := resolveAddress(args)
	if err != nil {
		return err
	}
	w := watcher.NewBalanceWatcher(addr, testnet, func(u watcher.BalanceUpdate) {
		out, err := json.MarshalIndent(u, "", "  ")
		if err != nil {
			return
		}
		fmt.Printf("\x1b[2J\x1b[H%s\n", out)
	}, onWatchError)
	return runWatcher(w)
}
