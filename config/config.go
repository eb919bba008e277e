package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	ChainID        int64
	RPCURL         string
	PrivateKey     string
	SafeAddress    string
	SafeServiceURL string

	CowswapURL      string
	CowswapValidFor time.Duration
	SafeValidFor    time.Duration
	BebopURL        string
	BebopUser       string
	BebopPassword   string

	TelegramToken  string
	TelegramChatID string
	DiscordWebhook string

	SettingsPath  string
	LogLevel      string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	QuoteDebounce time.Duration
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".token-dump")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	// Set default values
	viper.SetDefault("chain_id", 1)
	viper.SetDefault("safe_service_url", "https://safe-transaction-mainnet.safe.global")
	viper.SetDefault("cowswap_url", "https://api.cow.fi/mainnet")
	viper.SetDefault("cowswap_valid_for", "30m")
	viper.SetDefault("safe_valid_for", "24h")
	viper.SetDefault("bebop_url", "https://api.bebop.xyz/jam/ethereum")
	viper.SetDefault("settings_path", defaultSettingsPath())
	viper.SetDefault("log_level", "info")
	viper.SetDefault("poll_interval", "3s")
	viper.SetDefault("poll_timeout", "50m")
	viper.SetDefault("quote_debounce", "400ms")

	// Read from environment variables
	viper.SetEnvPrefix("TOKEN_DUMP")
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		ChainID:         viper.GetInt64("chain_id"),
		RPCURL:          viper.GetString("rpc_url"),
		PrivateKey:      strings.TrimPrefix(viper.GetString("private_key"), "0x"),
		SafeAddress:     viper.GetString("safe_address"),
		SafeServiceURL:  viper.GetString("safe_service_url"),
		CowswapURL:      viper.GetString("cowswap_url"),
		CowswapValidFor: viper.GetDuration("cowswap_valid_for"),
		SafeValidFor:    viper.GetDuration("safe_valid_for"),
		BebopURL:        viper.GetString("bebop_url"),
		BebopUser:       viper.GetString("bebop_user"),
		BebopPassword:   viper.GetString("bebop_password"),
		TelegramToken:   viper.GetString("telegram_token"),
		TelegramChatID:  viper.GetString("telegram_chat_id"),
		DiscordWebhook:  viper.GetString("discord_webhook"),
		SettingsPath:    viper.GetString("settings_path"),
		LogLevel:        viper.GetString("log_level"),
		PollInterval:    viper.GetDuration("poll_interval"),
		PollTimeout:     viper.GetDuration("poll_timeout"),
		QuoteDebounce:   viper.GetDuration("quote_debounce"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL not found. Please set TOKEN_DUMP_RPC_URL environment variable or rpc_url in .token-dump.yaml")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private key not found. Please set TOKEN_DUMP_PRIVATE_KEY environment variable or private_key in .token-dump.yaml")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("invalid chain id %d", c.ChainID)
	}
	if c.SafeAddress != "" && !common.IsHexAddress(c.SafeAddress) {
		return fmt.Errorf("invalid safe address %q", c.SafeAddress)
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 {
		return fmt.Errorf("poll_interval and poll_timeout must be positive")
	}
	if c.PollInterval > c.PollTimeout {
		return fmt.Errorf("poll_interval %s exceeds poll_timeout %s", c.PollInterval, c.PollTimeout)
	}
	return nil
}

// IsSafe reports whether orders are placed from a Safe
func (c *Config) IsSafe() bool {
	return c.SafeAddress != ""
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".token-dump-settings.json"
	}
	return filepath.Join(home, ".token-dump", "settings.json")
}
