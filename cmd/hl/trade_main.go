package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperdrift/hl/internal/exchange"
	"github.com/hyperdrift/hl/internal/gateway"
	"github.com/hyperdrift/hl/internal/paths"
	"github.com/hyperdrift/hl/internal/trade"
	"github.com/hyperdrift/hl/internal/userconfig"
)

func tradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Place and manage orders",
	}

	orderCmd := &cobra.Command{
		Use:   "order <long|short|buy|sell> <coin> <size>",
		Short: "Market order via slippage-priced IOC limit",
		Args:  cobra.ExactArgs(3),
		RunE:  runTradeOrder,
	}
	orderCmd.Flags().Bool("testnet", false, "Trade on testnet")
	orderCmd.Flags().Bool("reduce-only", false, "Reduce an existing position only")

	cancelCmd := &cobra.Command{
		Use:   "cancel <coin> <oid>",
		Short: "Cancel a resting order",
		Args:  cobra.ExactArgs(2),
		RunE:  runTradeCancel,
	}
	cancelCmd.Flags().Bool("testnet", false, "Trade on testnet")

	leverageCmd := &cobra.Command{
		Use:   "leverage <coin> <leverage>",
		Short: "Update leverage for a market",
		Args:  cobra.ExactArgs(2),
		RunE:  runTradeLeverage,
	}
	leverageCmd.Flags().Bool("testnet", false, "Trade on testnet")
	leverageCmd.Flags().Bool("cross", true, "Cross margin (false for isolated)")

	referrerCmd := &cobra.Command{
		Use:   "set-referrer <code>",
		Short: "Register a referral code",
		Args:  cobra.ExactArgs(1),
		RunE:  runTradeSetReferrer,
	}
	referrerCmd.Flags().Bool("testnet", false, "Trade on testnet")

	cmd.AddCommand(orderCmd, cancelCmd, leverageCmd, referrerCmd)
	return cmd
}

// resolveAsset maps a coin symbol to its perp asset index via the cached
// (or pulled) universe.
func resolveAsset(ctx context.Context, g *gateway.Gateway, coin string) (int, exchange.PerpMeta, error) {
	metas, _, err := g.PerpMetas(ctx)
	if err != nil {
		return 0, exchange.PerpMeta{}, err
	}
	for i, m := range metas {
		if strings.EqualFold(m.Name, coin) {
			return i, m, nil
		}
	}
	return 0, exchange.PerpMeta{}, fmt.Errorf("Unknown coin: %s", strings.ToUpper(coin))
}

func runTradeOrder(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	reduceOnly, _ := cmd.Flags().GetBool("reduce-only")
	coin, size := args[1], args[2]

	dir, err := trade.ParseDirection(args[0])
	if err != nil {
		return err
	}
	if dir.MarketType == trade.MarketSpot {
		return fmt.Errorf("spot trading is not supported yet; use long/short for perps")
	}
	if err := trade.ValidateSize(size); err != nil {
		return err
	}

	signer, err := exchange.SignerFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g := gateway.NewForNetwork(testnet)
	asset, _, err := resolveAsset(ctx, g, coin)
	if err != nil {
		return err
	}

	mids, _, err := g.Prices(ctx, coin)
	if err != nil {
		return err
	}
	var mid string
	for _, px := range mids {
		mid = px
	}

	// Market intent becomes an aggressive IOC limit priced off the mid.
	cfg := userconfig.Load(paths.UserConfig())
	px, err := trade.SlippagePrice(mid, dir.IsBuy, cfg.Slippage)
	if err != nil {
		return err
	}

	ex := exchange.NewExchange(testnet, signer)
	result, err := ex.Order(ctx, exchange.OrderRequest{
		Asset:      asset,
		IsBuy:      dir.IsBuy,
		Px:         px,
		Sz:         size,
		ReduceOnly: reduceOnly,
		Tif:        "Ioc",
	})
	if err != nil {
		return err
	}
	fmt.Printf("Order submitted: %s %s %s @ %s (slippage %v%%)\n%s\n",
		args[0], size, strings.ToUpper(coin), px, cfg.Slippage, result.Response)
	return nil
}

func runTradeCancel(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	coin := args[0]
	oid, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q", args[1])
	}

	signer, err := exchange.SignerFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	asset, _, err := resolveAsset(ctx, gateway.NewForNetwork(testnet), coin)
	if err != nil {
		return err
	}

	if _, err := exchange.NewExchange(testnet, signer).Cancel(ctx, asset, oid); err != nil {
		return err
	}
	fmt.Printf("Cancelled order %d on %s\n", oid, strings.ToUpper(coin))
	return nil
}

func runTradeLeverage(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")
	cross, _ := cmd.Flags().GetBool("cross")
	coin := args[0]

	leverage, err := strconv.Atoi(args[1])
	if err != nil || leverage < 1 {
		return fmt.Errorf("invalid leverage %q", args[1])
	}

	signer, err := exchange.SignerFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	asset, meta, err := resolveAsset(ctx, gateway.NewForNetwork(testnet), coin)
	if err != nil {
		return err
	}
	if leverage > meta.MaxLeverage {
		return fmt.Errorf("leverage %d exceeds max %d for %s", leverage, meta.MaxLeverage, meta.Name)
	}
	if meta.OnlyIsolated && cross {
		return fmt.Errorf("%s supports isolated margin only", meta.Name)
	}

	if _, err := exchange.NewExchange(testnet, signer).UpdateLeverage(ctx, asset, leverage, cross); err != nil {
		return err
	}
	fmt.Printf("Leverage for %s set to %dx\n", meta.Name, leverage)
	return nil
}

func runTradeSetReferrer(cmd *cobra.Command, args []string) error {
	testnet, _ := cmd.Flags().GetBool("testnet")

	signer, err := exchange.SignerFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := exchange.NewExchange(testnet, signer).SetReferrer(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Referrer set")
	return nil
}
