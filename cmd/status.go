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

	"token-dump/pkg/settings"
	"token-dump/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status [order-uid]",
	Short: "Check the status of submitted orders",
	Long: `Check the settlement status of the orders placed by previous dumps.
Without an order uid every pending order is refreshed.

Examples:
  token-dump status
  token-dump status 0x1234...abcd
  token-dump status --watch --interval 10`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch pending orders until they settle")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var uid string
	if len(args) == 1 {
		uid = args[0]
		if _, ok := a.store.Order(uid); !ok {
			printError(fmt.Errorf("order %s is not in the local history", uid))
			os.Exit(1)
		}
	}

	if watchStatus {
		if a.json {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			os.Exit(1)
		}
		watchOrders(a, uid)
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !a.json {
		s.Suffix = " Checking order status..."
		s.Start()
	}
	refreshOrders(cmd.Context(), a, uid)
	if !a.json {
		s.Stop()
	}

	orders := selectOrders(a.store, uid)
	if a.json {
		jsonData, _ := json.MarshalIndent(orders, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayOrders(a, orders)
}

// refreshOrders polls the solver for every pending order once
func refreshOrders(ctx context.Context, a *app, uid string) {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, rec := range a.store.PendingOrders() {
		if uid != "" && rec.UID != uid {
			continue
		}
		status, err := a.solver(rec.Solver).PollStatus(ctx, rec.UID)
		if err != nil {
			a.logger.WithField("uid", rec.UID).WithError(err).Warn("status check failed")
			continue
		}
		if status != rec.Status {
			if err := a.store.UpdateOrderStatus(rec.UID, status); err != nil {
				a.logger.WithError(err).Warn("failed to save order status")
			}
		}
	}
}

func watchOrders(a *app, uid string) {
	fmt.Printf("\nWatching pending orders. Checking every %d seconds. Press Ctrl+C to stop.\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		refreshOrders(context.Background(), a, uid)
		orders := selectOrders(a.store, uid)
		displayOrders(a, orders)

		pending := false
		for _, rec := range orders {
			if !rec.Status.IsTerminal() {
				pending = true
			}
		}
		if !pending {
			printSuccess("All orders settled.")
			return
		}
		<-ticker.C
	}
}

func selectOrders(store *settings.Store, uid string) []settings.OrderRecord {
	if uid == "" {
		return store.Orders()
	}
	rec, _ := store.Order(uid)
	return []settings.OrderRecord{rec}
}

func displayOrders(a *app, orders []settings.OrderRecord) {
	if len(orders) == 0 {
		fmt.Println("\nNo orders found. Place one with: token-dump dump ...")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          ORDER STATUS")
	fmt.Println(strings.Repeat("=", 70))

	for _, rec := range orders {
		fmt.Printf("\n  Order:        %s\n", color.CyanString(shortUID(rec.UID)))
		fmt.Printf("  Solver:       %s\n", rec.Solver)
		fmt.Printf("  Sold:         %s\n", color.YellowString(strings.Join(tokenNames(a, rec.SellTokens), ", ")))
		fmt.Printf("  For:          %s\n", color.YellowString(strings.Join(tokenNames(a, []string{rec.BuyToken}), "")))
		fmt.Printf("  Status:       %s\n", coloredOrderStatus(rec.Status))
		fmt.Printf("  Last Updated: %s\n", rec.Updated.Format("2006-01-02 15:04:05"))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func tokenNames(a *app, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if t, ok := a.registry.Resolve(key); ok {
			out = append(out, t.Symbol)
			continue
		}
		out = append(out, key)
	}
	return out
}

func shortUID(uid string) string {
	if len(uid) > 24 {
		return uid[:12] + "..." + uid[len(uid)-8:]
	}
	return uid
}

func coloredOrderStatus(status types.OrderStatus) string {
	s := string(status)
	switch {
	case status.IsSuccess():
		return color.GreenString(s)
	case status == types.OrderPending, status == types.OrderNotStarted, status == "":
		return color.YellowString(s)
	case status == types.OrderCowswapExpired:
		return color.MagentaString(s)
	default:
		return color.RedString(s)
	}
}
