package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"token-dump/pkg/parser"
	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
	"token-dump/pkg/wizard"
)

var quoteSolver string

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <token>[, <amount> <token>...] to <token>",
	Short: "Show what a dump would return without placing orders",
	Long: `Fetch quotes for selling several tokens into one.

Examples:
  token-dump quote 100 USDC to WETH
  token-dump quote 100 USDC, all DAI, 0.5 LINK to WETH --solver bebop`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteSolver, "solver", "cowswap", "Solver to route through (cowswap or bebop)")
}

func runQuote(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := parser.ParseDumpCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	solverType, err := parseSolver(quoteSolver)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	sess, err := a.newSession(ctx, solverType, req, "")
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	fetcher := wizard.NewFetcher(sess, a.solver(solverType), a.wallet.IsSafe(), a.cfg.QuoteDebounce, a.logger)
	if err := fetchQuotes(ctx, fetcher, a.json); err != nil {
		printError(err)
		os.Exit(1)
	}

	if a.json {
		printQuoteJSON(sess)
		return
	}
	displayQuote(sess)
}

func fetchQuotes(ctx context.Context, fetcher *wizard.Fetcher, quiet bool) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !quiet {
		s.Suffix = " Fetching quotes..."
		s.Start()
		defer s.Stop()
	}
	return fetcher.Fetch(ctx)
}

// quoteLine is one sold token of a quote
type quoteLine struct {
	Token   string `json:"token"`
	Sell    string `json:"sell"`
	Receive string `json:"receive,omitempty"`
	Expires string `json:"expires,omitempty"`
	Error   string `json:"error,omitempty"`
}

func quoteLines(sess *wizard.Session) ([]quoteLine, types.NormalizedAmount) {
	q := sess.Quote()
	out := sess.Output()
	total := new(big.Int)

	var lines []quoteLine
	for _, token := range sess.Selected() {
		key := token.Key()
		line := quoteLine{
			Token: token.Symbol,
			Sell:  types.NewAmount(sess.Amount(key), token.Decimals).String(),
		}
		if qe := sess.QuoteError(key); qe != nil {
			line.Error = describeQuoteError(qe)
			lines = append(lines, line)
			continue
		}
		if e, ok := quote.Entry(q, key); ok && e.ExpirationTimestamp > 0 {
			line.Expires = time.Unix(e.ExpirationTimestamp, 0).Format("15:04:05")
		}
		if quote.IsCowswap(q) {
			buy := quote.BuyAmount(q, key)
			total.Add(total, buy.RawOrZero())
			line.Receive = buy.String()
		}
		lines = append(lines, line)
	}

	if quote.IsBebop(q) {
		total = quote.BuyAmount(q, out.Key()).RawOrZero()
	}
	return lines, types.NewAmount(total, out.Decimals)
}

func describeQuoteError(qe *solver.QuoteError) string {
	msg := qe.Message
	if qe.Kind != "" {
		msg = qe.Kind + ": " + msg
	}
	if qe.ShouldDisable {
		msg += " (token not tradable)"
	}
	return msg
}

func printQuoteJSON(sess *wizard.Session) {
	lines, total := quoteLines(sess)
	output := map[string]interface{}{
		"solver":   sess.Solver(),
		"receiver": sess.Receiver().Hex(),
		"output":   sess.Output().Symbol,
		"tokens":   lines,
		"total":    total.String(),
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
}

func displayQuote(sess *wizard.Session) {
	lines, total := quoteLines(sess)
	out := sess.Output()

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          DUMP QUOTE")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Solver:    %s\n", color.CyanString(string(sess.Solver())))
	fmt.Printf("  Receiver:  %s\n", color.HiBlackString(sess.Receiver().Hex()))
	fmt.Printf("  Output:    %s\n\n", color.YellowString(out.Symbol))

	for _, l := range lines {
		switch {
		case l.Error != "":
			fmt.Printf("  %-10s %20s  %s\n", color.YellowString(l.Token), l.Sell, color.RedString(l.Error))
		case l.Receive != "":
			fmt.Printf("  %-10s %20s  -> ~%s %s  (expires %s)\n", color.YellowString(l.Token), l.Sell, l.Receive, out.Symbol, l.Expires)
		default:
			fmt.Printf("  %-10s %20s\n", color.YellowString(l.Token), l.Sell)
		}
	}

	fmt.Printf("\n  Total:     ~%s %s\n", color.GreenString(total.String()), out.Symbol)
	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
