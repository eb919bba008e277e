package cmd

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"token-dump/config"
	"token-dump/pkg/notify"
	"token-dump/pkg/parser"
	"token-dump/pkg/safe"
	"token-dump/pkg/settings"
	"token-dump/pkg/solver"
	"token-dump/pkg/solver/bebop"
	"token-dump/pkg/solver/cowswap"
	"token-dump/pkg/tokens"
	"token-dump/pkg/types"
	"token-dump/pkg/wallet"
	"token-dump/pkg/wizard"
)

// app is everything a command needs, built once from the configuration
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	owner    *wallet.EOA
	wallet   wizard.Wallet
	store    *settings.Store
	registry *tokens.Registry
	provider *tokens.Provider
	notifier *notify.Notifier
	json     bool
}

func newApp(cmd *cobra.Command) (*app, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel, verbose, jsonOutput)

	store, err := settings.NewStore(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}

	owner, err := wallet.Dial(cfg.RPCURL, cfg.PrivateKey, cfg.ChainID, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		owner:    owner,
		wallet:   owner,
		store:    store,
		registry: tokens.NewRegistry(cfg.ChainID, store.Settings().CustomTokens),
		provider: tokens.NewProvider(owner.Caller(), logger),
		json:     jsonOutput,
	}

	if cfg.IsSafe() {
		addr := common.HexToAddress(cfg.SafeAddress)
		service := safe.NewClient(cfg.SafeServiceURL, cfg.ChainID, addr, logger)
		a.wallet = wallet.NewSafe(addr, owner, service)
	}

	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhook))
	}
	a.notifier = notify.NewNotifier(logger, senders...)

	return a, nil
}

// solver returns the client for solverType configured for the wallet
func (a *app) solver(solverType types.SolverType) solver.Solver {
	if solverType == types.SolverBebop {
		return bebop.NewClient(bebop.Config{
			BaseURL:  a.cfg.BebopURL,
			ChainID:  a.cfg.ChainID,
			User:     a.cfg.BebopUser,
			Password: a.cfg.BebopPassword,
		}, a.logger)
	}

	validFor := a.cfg.CowswapValidFor
	if a.wallet.IsSafe() {
		validFor = a.cfg.SafeValidFor
	}
	return cowswap.NewClient(cowswap.Config{
		BaseURL:     a.cfg.CowswapURL,
		ChainID:     a.cfg.ChainID,
		SlippageBps: a.store.Settings().SlippageBps,
		ValidFor:    validFor,
		Presign:     a.wallet.IsSafe(),
	}, a.logger)
}

// resolveToken finds a token by symbol in the registry, or reads an unknown
// address from the chain
func (a *app) resolveToken(ctx context.Context, ref string) (types.Token, error) {
	if t, ok := a.registry.Resolve(ref); ok {
		return t, nil
	}
	if !common.IsHexAddress(ref) {
		return types.Token{}, fmt.Errorf("unknown token %s (add it with: token-dump settings tokens add <address>)", ref)
	}
	t, err := a.provider.Lookup(ctx, a.cfg.ChainID, common.HexToAddress(ref))
	if err != nil {
		return types.Token{}, err
	}
	a.registry.Add(t)
	return t, nil
}

// newSession turns a parsed dump command into a session. "all" resolves to
// the full wallet balance.
func (a *app) newSession(ctx context.Context, solverType types.SolverType, req *parser.DumpRequest, receiver string) (*wizard.Session, error) {
	output, err := a.resolveToken(ctx, req.Output)
	if err != nil {
		return nil, err
	}

	sess := wizard.NewSession(solverType, a.wallet.Address())
	sess.SetOutput(output)
	if receiver != "" {
		if !common.IsHexAddress(receiver) {
			return nil, fmt.Errorf("invalid receiver address %q", receiver)
		}
		sess.SetReceiver(common.HexToAddress(receiver))
	}

	for _, leg := range req.Legs {
		token, err := a.resolveToken(ctx, leg.Token)
		if err != nil {
			return nil, err
		}
		amount, err := a.legAmount(ctx, token, leg)
		if err != nil {
			return nil, err
		}
		if err := sess.Select(token, amount); err != nil {
			return nil, err
		}
	}

	if _, err := sess.Request(); err != nil {
		return nil, err
	}
	return sess, nil
}

// legAmount resolves the amount of a leg against the wallet balance. "all"
// sells the whole balance.
func (a *app) legAmount(ctx context.Context, token types.Token, leg parser.Leg) (*big.Int, error) {
	balance, err := a.provider.Balance(ctx, a.wallet.Address(), token)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s balance: %w", token.Symbol, err)
	}

	amount := balance
	if !leg.All {
		parsed, err := types.ParseAmount(leg.Amount, token.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", token.Symbol, err)
		}
		amount = parsed.Raw
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("nothing to sell: %s balance is zero", token.Symbol)
	}
	if amount.Cmp(balance) > 0 {
		return nil, fmt.Errorf("insufficient %s balance: have %s", token.Symbol, types.NewAmount(balance, token.Decimals))
	}
	return amount, nil
}

func parseSolver(name string) (types.SolverType, error) {
	s, ok := types.ParseSolverType(strings.TrimSpace(name))
	if !ok {
		return "", fmt.Errorf("unknown solver %q (use cowswap or bebop)", name)
	}
	return s, nil
}
