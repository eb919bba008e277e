package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "token-dump",
	Short: "Dump many ERC-20 tokens into one in a single run",
	Long: `token-dump sells several ERC-20 tokens held by your wallet for a single
destination token. Orders are routed through CoW Protocol (one order per token)
or Bebop JAM (one aggregated order).

Examples:
  token-dump balances
  token-dump quote 100 USDC, all DAI to WETH
  token-dump dump 100 USDC, all DAI to WETH --solver bebop
  token-dump status --watch
  token-dump settings slippage 100`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// newLogger builds the logger shared by every component. Logs go to stderr
// so that JSON output on stdout stays parseable.
func newLogger(level string, verbose, jsonOutput bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if jsonOutput {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
