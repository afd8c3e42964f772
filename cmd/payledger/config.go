package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/payledger/internal/logger"
	"github.com/nkiryanov/payledger/internal/service/cashback"
)

const (
	defaultLoggingLevel          = logger.LevelInfo
	defaultEnvironment           = logger.EnvProduction
	defaultWalletCurrency        = "USD"
	defaultInviteFriendMinAmount = "50"
	defaultMaxRewardedUses       = 5
)

type Config struct {
	// Default logging level
	LogLevel string

	// Database to connect to
	DatabaseDSN string

	// Currency code every user balance is held in. Payments in other
	// currencies are converted on the way in and out.
	WalletCurrency string

	// Promotional policy knobs. Product owns the numbers, the ledger only
	// enforces them.
	PromoCodeCashback     bool
	InviteFriendCashback  bool
	InviteFriendMinAmount string
	MaxRewardedUses       int

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:              defaultLoggingLevel,
		Environment:           defaultEnvironment,
		WalletCurrency:        defaultWalletCurrency,
		PromoCodeCashback:     true,
		InviteFriendCashback:  true,
		InviteFriendMinAmount: defaultInviteFriendMinAmount,
		MaxRewardedUses:       defaultMaxRewardedUses,
	}
}

// CashbackPolicy builds the policy the cashback and dispatcher services
// enforce from the raw config values.
func (c *Config) CashbackPolicy() (cashback.Policy, error) {
	minAmount, err := decimal.NewFromString(c.InviteFriendMinAmount)
	if err != nil {
		return cashback.Policy{}, err
	}

	return cashback.Policy{
		PromoCodeEnabled:      c.PromoCodeCashback,
		InviteFriendEnabled:   c.InviteFriendCashback,
		InviteFriendMinAmount: minAmount,
		MaxRewardedUses:       c.MaxRewardedUses,
	}, nil
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	setBool := func(o *bool) func(value string) {
		return func(value string) {
			if parsed, err := strconv.ParseBool(value); err == nil {
				*o = parsed
			}
		}
	}

	setInt := func(o *int) func(value string) {
		return func(value string) {
			if parsed, err := strconv.Atoi(value); err == nil {
				*o = parsed
			}
		}
	}

	envMap := map[string]func(string){
		"DATABASE_URI":             setString(&c.DatabaseDSN),
		"LOG_LEVEL":                setString(&c.LogLevel),
		"ENVIRONMENT":              setString(&c.Environment),
		"WALLET_CURRENCY":          setString(&c.WalletCurrency),
		"PROMO_CODE_CASHBACK":      setBool(&c.PromoCodeCashback),
		"INVITE_FRIEND_CASHBACK":   setBool(&c.InviteFriendCashback),
		"INVITE_FRIEND_MIN_AMOUNT": setString(&c.InviteFriendMinAmount),
		"MAX_REWARDED_USES":        setInt(&c.MaxRewardedUses),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("payledger", pflag.ContinueOnError)

	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.WalletCurrency, "wallet-currency", "w", c.WalletCurrency, "Currency code user balances are held in")
	fs.BoolVar(&c.PromoCodeCashback, "promo-code-cashback", c.PromoCodeCashback, "Enable promo code cashback")
	fs.BoolVar(&c.InviteFriendCashback, "invite-friend-cashback", c.InviteFriendCashback, "Enable invite friend cashback")
	fs.StringVar(&c.InviteFriendMinAmount, "invite-friend-min-amount", c.InviteFriendMinAmount, "Minimal payment amount for the invite friend reward")
	fs.IntVar(&c.MaxRewardedUses, "max-rewarded-uses", c.MaxRewardedUses, "Rewarded promo code uses per friend")

	return fs.Parse(args)
}
