package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"token-dump/config"
	"token-dump/pkg/settings"
	"token-dump/pkg/types"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change local settings",
	Long: `Show or change the settings kept in the local settings file: slippage,
custom tokens and token list URIs.

Examples:
  token-dump settings
  token-dump settings slippage 100
  token-dump settings tokens add 0x6B175474E89094C44Da98b954EedeAC495271d0F
  token-dump settings lists add https://tokens.coingecko.com/uniswap/all.json`,
	Args: cobra.NoArgs,
	Run:  runShowSettings,
}

var slippageCmd = &cobra.Command{
	Use:   "slippage [bps]",
	Short: "Show or set the slippage tolerance in basis points",
	Args:  cobra.MaximumNArgs(1),
	Run:   runSlippage,
}

var customTokensCmd = &cobra.Command{
	Use:   "tokens [add|remove] [address]",
	Short: "List, add or remove custom tokens",
	Args:  cobra.MaximumNArgs(2),
	Run:   runCustomTokens,
}

var tokenListsCmd = &cobra.Command{
	Use:   "lists [add|remove] [uri]",
	Short: "List, add or remove token list URIs",
	Args:  cobra.MaximumNArgs(2),
	Run:   runTokenLists,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(slippageCmd)
	settingsCmd.AddCommand(customTokensCmd)
	settingsCmd.AddCommand(tokenListsCmd)
}

func openStore() *settings.Store {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	store, err := settings.NewStore(cfg.SettingsPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return store
}

func runShowSettings(cmd *cobra.Command, args []string) {
	store := openStore()
	s := store.Settings()

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		jsonData, _ := json.MarshalIndent(s, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Printf("\n  Settings file: %s\n", color.HiBlackString(store.FilePath()))
	fmt.Printf("  Slippage:      %s\n", color.CyanString(formatBps(s.SlippageBps)))
	fmt.Printf("  Custom tokens: %d\n", len(s.CustomTokens))
	fmt.Printf("  Token lists:   %d\n\n", len(s.TokenLists))
}

func runSlippage(cmd *cobra.Command, args []string) {
	store := openStore()
	if len(args) == 0 {
		fmt.Printf("\nSlippage: %s\n\n", color.CyanString(formatBps(store.Settings().SlippageBps)))
		return
	}

	bps, err := strconv.Atoi(args[0])
	if err != nil {
		printError(fmt.Errorf("slippage must be a whole number of basis points: %w", err))
		os.Exit(1)
	}
	if err := store.SetSlippage(bps); err != nil {
		printError(err)
		os.Exit(1)
	}
	printSuccess(color.GreenString("Slippage set to %s", formatBps(bps)))
}

func runCustomTokens(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		store := openStore()
		listCustomTokens(store.Settings().CustomTokens)
		return
	}
	if len(args) != 2 {
		printError(fmt.Errorf("usage: token-dump settings tokens [add|remove] <address>"))
		os.Exit(1)
	}
	if !common.IsHexAddress(args[1]) {
		printError(fmt.Errorf("invalid token address %q", args[1]))
		os.Exit(1)
	}
	addr := common.HexToAddress(args[1])

	switch args[0] {
	case "add":
		a, err := newApp(cmd)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		token, err := a.provider.Lookup(ctx, a.cfg.ChainID, addr)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if err := a.store.AddCustomToken(token); err != nil {
			printError(err)
			os.Exit(1)
		}
		printSuccess(color.GreenString("Added %s (%s, %d decimals)", token.Symbol, token.Name, token.Decimals))
	case "remove":
		store := openStore()
		if err := store.RemoveCustomToken(types.TokenKey(addr)); err != nil {
			printError(err)
			os.Exit(1)
		}
		printSuccess(color.GreenString("Removed %s", addr.Hex()))
	default:
		printError(fmt.Errorf("unknown action %q (use add or remove)", args[0]))
		os.Exit(1)
	}
}

func listCustomTokens(custom []types.Token) {
	if len(custom) == 0 {
		fmt.Println("\nNo custom tokens. Add one with: token-dump settings tokens add <address>")
		return
	}
	fmt.Println()
	for _, t := range custom {
		fmt.Printf("  %-10s  %2d decimals  %s\n", color.YellowString(t.Symbol), t.Decimals, color.HiBlackString(t.Address.Hex()))
	}
	fmt.Println()
}

func runTokenLists(cmd *cobra.Command, args []string) {
	store := openStore()
	if len(args) == 0 {
		lists := store.Settings().TokenLists
		if len(lists) == 0 {
			fmt.Println("\nNo token lists configured.")
			return
		}
		fmt.Println()
		for _, uri := range lists {
			fmt.Printf("  %s\n", color.CyanString(uri))
		}
		fmt.Println()
		return
	}
	if len(args) != 2 {
		printError(fmt.Errorf("usage: token-dump settings lists [add|remove] <uri>"))
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "add":
		err = store.AddTokenList(args[1])
	case "remove":
		err = store.RemoveTokenList(args[1])
	default:
		err = fmt.Errorf("unknown action %q (use add or remove)", args[0])
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	printSuccess(color.GreenString("Token lists updated"))
}

func formatBps(bps int) string {
	return fmt.Sprintf("%d bps (%.2f%%)", bps, float64(bps)/100)
}
