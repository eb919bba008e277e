package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"token-dump/pkg/parser"
	"token-dump/pkg/types"
	"token-dump/pkg/wizard"
)

var (
	dumpSolver   string
	dumpReceiver string
	dumpNoPrompt bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump <amount> <token>[, <amount> <token>...] to <token>",
	Short: "Sell several tokens for one destination token",
	Long: `Run the full dump: quote, approve, sign and execute.

Tokens the solver cannot trade are dropped from the dump. With a Safe
(safe_address configured) approvals and orders are proposed to the Safe as one
batched transaction, and the command waits for the owners to execute it.
Bebop cannot settle orders for a Safe, so a Safe always dumps through cowswap.

Before confirming, type '<amount> <token>' at the prompt to change an amount.

Examples:
  token-dump dump 100 USDC, all DAI to WETH
  token-dump dump all LINK, all UNI to USDC --solver bebop --receiver 0x123...
  token-dump dump 100 USDC to WETH --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVar(&dumpSolver, "solver", "cowswap", "Solver to route through (cowswap or bebop)")
	dumpCmd.Flags().StringVar(&dumpReceiver, "receiver", "", "Address receiving the output token (default: your wallet)")
	dumpCmd.Flags().BoolVarP(&dumpNoPrompt, "yes", "y", false, "Skip confirmation prompt")
}

// dumpFlow is implemented by wizard.CowswapFlow and wizard.BebopFlow
type dumpFlow interface {
	Approve(ctx context.Context) error
	Sign(ctx context.Context) error
	Execute(ctx context.Context) ([]wizard.Result, error)
	RunSafeBatch(ctx context.Context) (string, []wizard.Result, error)
}

func runDump(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	req, err := parser.ParseDumpCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	solverType, err := parseSolver(dumpSolver)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if solverType == types.SolverBebop && a.wallet.IsSafe() {
		printError(fmt.Errorf("bebop cannot settle orders for a safe, use --solver cowswap"))
		os.Exit(1)
	}

	sess, err := a.newSession(ctx, solverType, req, dumpReceiver)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	slv := a.solver(solverType)
	fetcher := wizard.NewFetcher(sess, slv, a.wallet.IsSafe(), a.cfg.QuoteDebounce, a.logger)
	if err := fetchQuotes(ctx, fetcher, a.json); err != nil {
		printError(err)
		os.Exit(1)
	}

	// drop what cannot be traded, then quote the rest again
	if dropped := dropUntradable(sess); len(dropped) > 0 {
		color.Yellow("\nDropping %s: not tradable through %s", strings.Join(dropped, ", "), solverType)
		if len(sess.SelectedKeys()) == 0 {
			printError(fmt.Errorf("no token left to dump"))
			os.Exit(1)
		}
		if solverType == types.SolverBebop {
			if err := fetchQuotes(ctx, fetcher, a.json); err != nil {
				printError(err)
				os.Exit(1)
			}
		}
	}

	if !a.json {
		displayQuote(sess)
	}
	if !dumpNoPrompt && !a.json {
		if !a.reviewQuotes(ctx, sess, fetcher) {
			fmt.Println("\nDump cancelled.")
			os.Exit(0)
		}
	}

	board := wizard.NewStatusBoard()
	if !a.json {
		board.Observe(printTransition(sess))
	}

	deps := wizard.Deps{
		Session:  sess,
		Solver:   slv,
		Wallet:   a.wallet,
		Board:    board,
		Poll:     wizard.PollConfig{Interval: a.cfg.PollInterval, Timeout: a.cfg.PollTimeout},
		Recorder: a.store,
		Notifier: a.notifier,
		Logger:   a.logger,
	}
	var fl dumpFlow
	if solverType == types.SolverBebop {
		fl = wizard.NewBebopFlow(deps)
	} else {
		fl = wizard.NewCowswapFlow(deps)
	}

	results, safeTx, err := runSteps(ctx, a.wallet.IsSafe(), fetcher, fl)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if a.json {
		printResultsJSON(sess, safeTx, results)
		return
	}
	displayResults(sess, safeTx, results)
}

// reviewQuotes asks for confirmation. Until the user answers, expired quotes
// are refreshed in the background, and typing "<amount> <token>" changes the
// amount of a token and quotes it again.
func (a *app) reviewQuotes(ctx context.Context, sess *wizard.Session, fetcher *wizard.Fetcher) bool {
	freshCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fetcher.KeepFresh(freshCtx, a.cfg.PollInterval)
	}()
	defer func() {
		cancel()
		<-done
	}()

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\nProceed with dump? (y/N, or '<amount> <token>' to change an amount): ")
		response, err := reader.ReadString('\n')
		if err != nil {
			return false
		}

		response = strings.TrimSpace(response)
		switch strings.ToLower(response) {
		case "y", "yes":
			return true
		case "", "n", "no":
			return false
		}

		if err := a.amendAmount(ctx, sess, fetcher, response); err != nil {
			printError(err)
			continue
		}
		displayQuote(sess)
	}
}

// amendAmount sets a new amount for a selected token and waits for the
// debounced refetch
func (a *app) amendAmount(ctx context.Context, sess *wizard.Session, fetcher *wizard.Fetcher, input string) error {
	leg, err := parser.ParseLeg(input)
	if err != nil {
		return err
	}
	token, ok := selectedToken(sess, leg.Token)
	if !ok {
		return fmt.Errorf("%s is not part of this dump", leg.Token)
	}
	amount, err := a.legAmount(ctx, token, leg)
	if err != nil {
		return err
	}
	if err := fetcher.SetAmount(ctx, token.Key(), amount); err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Fetching quotes..."
	s.Start()
	fetcher.Settle()
	s.Stop()
	return nil
}

// selectedToken finds a selected token by symbol or address
func selectedToken(sess *wizard.Session, ref string) (types.Token, bool) {
	for _, t := range sess.Selected() {
		if common.IsHexAddress(ref) && t.Key() == types.TokenKey(common.HexToAddress(ref)) {
			return t, true
		}
		if strings.EqualFold(t.Symbol, ref) {
			return t, true
		}
	}
	return types.Token{}, false
}

// runSteps refreshes expired quotes between steps, so that nothing is signed
// against a stale quote
func runSteps(ctx context.Context, isSafe bool, fetcher *wizard.Fetcher, fl dumpFlow) ([]wizard.Result, string, error) {
	if _, err := fetcher.RefreshExpired(ctx, time.Now()); err != nil {
		return nil, "", err
	}

	if isSafe {
		color.Cyan("\nProposing the batch to the Safe. Waiting for owners to execute it...")
		safeTx, results, err := fl.RunSafeBatch(ctx)
		return results, safeTx, err
	}

	if err := fl.Approve(ctx); err != nil {
		return nil, "", err
	}
	if _, err := fetcher.RefreshExpired(ctx, time.Now()); err != nil {
		return nil, "", err
	}
	if err := fl.Sign(ctx); err != nil {
		return nil, "", err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for orders to settle..."
	s.Start()
	results, err := fl.Execute(ctx)
	s.Stop()
	return results, "", err
}

// dropUntradable deselects tokens the solver refuses to trade
func dropUntradable(sess *wizard.Session) []string {
	var dropped []string
	for _, token := range sess.Selected() {
		if qe := sess.QuoteError(token.Key()); qe != nil && qe.ShouldDisable {
			sess.Deselect(token.Key())
			dropped = append(dropped, token.Symbol)
		}
	}
	return dropped
}

func printTransition(sess *wizard.Session) func(wizard.Transition) {
	symbols := make(map[string]string)
	for _, t := range sess.Selected() {
		symbols[t.Key()] = t.Symbol
	}
	return func(t wizard.Transition) {
		name := symbols[t.Token]
		if name == "" {
			name = t.Token
		}
		fmt.Printf("  %-10s %-10s %s\n", color.YellowString(name), t.Step, coloredStep(t.To))
	}
}

func coloredStep(s types.StepStatus) string {
	switch s {
	case types.StepValid:
		return color.GreenString("done")
	case types.StepPending:
		return color.YellowString("pending")
	case types.StepInvalid:
		return color.RedString("failed")
	default:
		return color.HiBlackString("reset")
	}
}

func printResultsJSON(sess *wizard.Session, safeTx string, results []wizard.Result) {
	type result struct {
		Tokens []string          `json:"tokens"`
		UID    string            `json:"uid,omitempty"`
		Status types.OrderStatus `json:"status,omitempty"`
		Error  string            `json:"error,omitempty"`
	}
	out := make([]result, 0, len(results))
	for _, r := range results {
		res := result{Tokens: symbolsOf(sess, r.Tokens), UID: r.UID, Status: r.Status}
		if r.Err != nil {
			res.Error = r.Err.Error()
		}
		out = append(out, res)
	}
	jsonData, _ := json.MarshalIndent(map[string]interface{}{
		"session": sess.ID(),
		"safe_tx": safeTx,
		"orders":  out,
	}, "", "  ")
	fmt.Println(string(jsonData))
}

func displayResults(sess *wizard.Session, safeTx string, results []wizard.Result) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                         DUMP RESULT")
	fmt.Println(strings.Repeat("=", 70))

	if safeTx != "" {
		fmt.Printf("\n  Safe Tx:   %s\n", color.CyanString(safeTx))
	}
	if len(results) == 0 {
		fmt.Println("\n  No order was placed.")
	}

	for _, r := range results {
		fmt.Printf("\n  Tokens:    %s\n", color.YellowString(strings.Join(symbolsOf(sess, r.Tokens), ", ")))
		if r.UID != "" {
			fmt.Printf("  Order:     %s\n", color.HiBlackString(r.UID))
		}
		fmt.Printf("  Status:    %s\n", coloredOrderStatus(r.Status))
		if r.Err != nil {
			fmt.Printf("  Error:     %s\n", color.RedString(r.Err.Error()))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("\nYou can check your orders later using:")
	color.Cyan("  token-dump status\n")
}

func symbolsOf(sess *wizard.Session, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		name := key
		for _, t := range sess.Selected() {
			if t.Key() == key {
				name = t.Symbol
				break
			}
		}
		out = append(out, name)
	}
	return out
}
