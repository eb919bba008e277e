package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"token-dump/pkg/tokens"
	"token-dump/pkg/types"
)

var (
	filterSymbol string
	showZero     bool
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "List the wallet's token balances",
	Long: `List the balances of every known token (built-in and custom) held by the
configured wallet, largest first.

Examples:
  token-dump balances
  token-dump balances --symbol USD
  token-dump balances --all`,
	Run: runBalances,
}

func init() {
	rootCmd.AddCommand(balancesCmd)

	balancesCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
	balancesCmd.Flags().BoolVar(&showZero, "all", false, "Include tokens with a zero balance")
}

func runBalances(cmd *cobra.Command, args []string) {
	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	known := a.registry.All()
	if filterSymbol != "" {
		var temp []types.Token
		for _, token := range known {
			if strings.Contains(strings.ToUpper(token.Symbol), strings.ToUpper(filterSymbol)) {
				temp = append(temp, token)
			}
		}
		known = temp
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !a.json {
		s.Suffix = " Reading balances..."
		s.Start()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	balances, err := a.provider.Balances(ctx, a.wallet.Address(), known)
	if !a.json {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if !showZero {
		balances = tokens.NonZero(balances)
	}

	if a.json {
		type row struct {
			Symbol  string `json:"symbol"`
			Address string `json:"address"`
			Balance string `json:"balance"`
		}
		out := make([]row, 0, len(balances))
		for _, b := range balances {
			out = append(out, row{Symbol: b.Symbol, Address: b.Address.Hex(), Balance: b.Amount.String()})
		}
		jsonData, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayBalances(a, balances)
}

func displayBalances(a *app, balances []types.TokenWithAmount) {
	if len(balances) == 0 {
		fmt.Println("\nNo token balances found.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              TOKEN BALANCES")
	fmt.Println(strings.Repeat("=", 90))
	fmt.Printf("\n  Wallet: %s", color.CyanString(a.wallet.Address().Hex()))
	if a.wallet.IsSafe() {
		fmt.Printf(" %s", color.MagentaString("(Safe)"))
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 90))

	for _, b := range balances {
		fmt.Printf("  %-10s  %24s  %s\n",
			color.YellowString(b.Symbol),
			b.Amount.String(),
			color.HiBlackString(b.Address.Hex()))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", len(balances))
}
