package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hyperdrift/hl/internal/paths"
	"github.com/hyperdrift/hl/internal/userconfig"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write user preferences",
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a preference",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one preference",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print all preferences",
		RunE: func(*cobra.Command, []string) error {
			cfg := userconfig.Load(paths.UserConfig())
			fmt.Printf("slippage = %v\n", cfg.Slippage)
			return nil
		},
	}

	cmd.AddCommand(setCmd, getCmd, listCmd)
	return cmd
}

func runConfigSet(_ *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	switch key {
	case "slippage":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid slippage %q", value)
		}
		if v < 0 {
			return fmt.Errorf("slippage must be non-negative, got %v", v)
		}
		cfg, err := userconfig.Update(paths.UserConfig(), func(c *userconfig.Config) {
			c.Slippage = v
		})
		if err != nil {
			return err
		}
		fmt.Printf("slippage = %v\n", cfg.Slippage)
		return nil
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
}

func runConfigGet(_ *cobra.Command, args []string) error {
	switch key := args[0]; key {
	case "slippage":
		cfg := userconfig.Load(paths.UserConfig())
		fmt.Printf("%v\n", cfg.Slippage)
		return nil
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
}
