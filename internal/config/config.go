package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Mode selects the strategy variant driven by the scheduler.
type Mode string

const (
	ModeSignal Mode = "signal"
	ModeProfit Mode = "profit"
)

var (
	// ErrUnsupportedMode is returned when general.mode is neither signal nor profit.
	ErrUnsupportedMode = errors.New("unsupported strategy mode")
	// ErrMissing is returned when a setting required by the selected mode is absent.
	ErrMissing = errors.New("missing required configuration")
	// ErrInvalid is returned when a setting is present but unusable.
	ErrInvalid = errors.New("invalid configuration")
)

// Mainnet defaults carried over from the reference deployment.
const (
	DefaultQuoteAsset = "0xA0b86991C6218b36c1d19D4a2e9Eb0cE3606eB48" // USDC
	DefaultQuoter     = "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"
)

// DefaultBasket is the fixed set of assets scanned in profit mode.
var DefaultBasket = []string{
	"0x6B175474E89094C44Da98b954EedeAC495271d0F", // DAI
	"0xdAC17F958D2ee523a2206206994597C13D831ec7", // USDT
}

// Config holds all configuration for the application.
type Config struct {
	General  General  `mapstructure:"general"`
	Trading  Trading  `mapstructure:"trading"`
	Wallet   Wallet   `mapstructure:"wallet"`
	Dex      Dex      `mapstructure:"dex"`
	Oracle   Oracle   `mapstructure:"oracle"`
	Web3     Web3     `mapstructure:"web3"`
	Binance  Binance  `mapstructure:"binance"`
	Database Database `mapstructure:"database"`
	Export   Export   `mapstructure:"export"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
}

// General holds the scheduler settings.
type General struct {
	Mode          Mode `mapstructure:"mode"`
	CycleInterval int  `mapstructure:"cycle_interval"`
	ErrorBackoff  int  `mapstructure:"error_backoff"`
}

// Trading holds the strategy and swap parameters.
type Trading struct {
	TokenAddress        string   `mapstructure:"token_address"`
	AmountETH           float64  `mapstructure:"amount_eth"`
	PriceHistoryLength  int      `mapstructure:"price_history_length"`
	BuySlopeThreshold   float64  `mapstructure:"buy_slope_threshold"`
	BuyZScoreThreshold  float64  `mapstructure:"buy_zscore_threshold"`
	SellSlopeThreshold  float64  `mapstructure:"sell_slope_threshold"`
	SellZScoreThreshold float64  `mapstructure:"sell_zscore_threshold"`
	Slippage            float64  `mapstructure:"slippage"`
	FeeTier             uint32   `mapstructure:"fee_tier"`
	GrowthFactor        float64  `mapstructure:"growth_factor"`
	BaseTradeAmount     float64  `mapstructure:"base_trade_amount"`
	QuoteAsset          string   `mapstructure:"quote_asset"`
	Basket              []string `mapstructure:"basket"`
	PriceSymbol         string   `mapstructure:"price_symbol"`
}

// Wallet holds the signing credentials. Never log this struct.
type Wallet struct {
	PrivateKey    string `mapstructure:"private_key"`
	WalletAddress string `mapstructure:"wallet_address"`
}

// Dex holds the swap venue contracts.
type Dex struct {
	RouterAddress string `mapstructure:"router_address"`
	QuoterAddress string `mapstructure:"quoter_address"`
	RouterABIPath string `mapstructure:"router_abi_path"`
}

// Feed registers a price source for one (asset, base) pair.
type Feed struct {
	Asset   string `mapstructure:"asset"`
	Base    string `mapstructure:"base"`
	Source  string `mapstructure:"source"` // "chainlink" or "binance"
	Address string `mapstructure:"address"`
	Symbol  string `mapstructure:"symbol"`
}

// Oracle holds the price oracle settings.
type Oracle struct {
	Address string `mapstructure:"address"`
	TTL     int    `mapstructure:"ttl"`
	Feeds   []Feed `mapstructure:"feeds"`
}

// Web3 holds the node connection settings.
type Web3 struct {
	RPCURL         string `mapstructure:"rpc_url"`
	ConfirmTimeout int    `mapstructure:"confirm_timeout"`
}

// Binance holds the configuration for the Binance ticker API.
type Binance struct {
	BaseURL        string  `mapstructure:"base_url"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Export holds the ledger export settings.
type Export struct {
	Dir         string `mapstructure:"dir"`
	EveryNCycle int    `mapstructure:"every_n_cycles"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level   string   `mapstructure:"level"`
	Format  string   `mapstructure:"format"`
	Outputs []string `mapstructure:"outputs"`
}

// Server holds the configuration for the operator API. Port 0 disables it.
type Server struct {
	Port int `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.mode", string(ModeSignal))
	v.SetDefault("general.cycle_interval", 5)
	v.SetDefault("general.error_backoff", 3)

	v.SetDefault("trading.amount_eth", 0.01)
	v.SetDefault("trading.price_history_length", 20)
	v.SetDefault("trading.slippage", 0.01)
	v.SetDefault("trading.fee_tier", 3000)
	v.SetDefault("trading.growth_factor", 1.05)
	v.SetDefault("trading.base_trade_amount", 1.0)
	v.SetDefault("trading.quote_asset", DefaultQuoteAsset)
	v.SetDefault("trading.basket", DefaultBasket)

	v.SetDefault("dex.quoter_address", DefaultQuoter)
	v.SetDefault("oracle.ttl", 60)
	v.SetDefault("web3.confirm_timeout", 300)

	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size

	v.SetDefault("database.dsn", "data/trading_log.db")
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.every_n_cycles", 10)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
}

// LoadConfig reads config.yml from path, applies environment overrides and
// normalizes the mode. It does not validate; call Validate once the mode is final.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.General.Mode = ParseMode(string(cfg.General.Mode))
	return cfg, nil
}

// ParseMode lower-cases and trims a mode string. It does not reject unknown values.
func ParseMode(s string) Mode {
	return Mode(strings.ToLower(strings.TrimSpace(s)))
}

// CycleInterval returns the pause between cycles.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.General.CycleInterval) * time.Second
}

// ErrorBackoff returns the pause after a failed cycle.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.General.ErrorBackoff) * time.Second
}

// OracleTTL returns the price cache lifetime.
func (c *Config) OracleTTL() time.Duration {
	return time.Duration(c.Oracle.TTL) * time.Second
}

// ConfirmTimeout bounds the wait for an approval receipt.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Web3.ConfirmTimeout) * time.Second
}

// Validate reports the first fatal initialization problem for the selected mode.
func (c *Config) Validate() error {
	switch c.General.Mode {
	case ModeSignal:
		if c.Trading.PriceHistoryLength <= 0 {
			return fmt.Errorf("%w: trading.price_history_length must be positive", ErrInvalid)
		}
		return nil
	case ModeProfit:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, c.General.Mode)
	}

	required := []struct{ key, value string }{
		{"dex.router_address", c.Dex.RouterAddress},
		{"oracle.address", c.Oracle.Address},
		{"web3.rpc_url", c.Web3.RPCURL},
		{"wallet.private_key", c.Wallet.PrivateKey},
		{"wallet.wallet_address", c.Wallet.WalletAddress},
		{"trading.token_address", c.Trading.TokenAddress},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissing, r.key)
		}
	}

	addresses := map[string]string{
		"dex.router_address":  c.Dex.RouterAddress,
		"dex.quoter_address":  c.Dex.QuoterAddress,
		"oracle.address":      c.Oracle.Address,
		"trading.quote_asset": c.Trading.QuoteAsset,
	}
	for key, value := range addresses {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%w: %s is not an address: %q", ErrInvalid, key, value)
		}
	}
	for _, asset := range c.Trading.Basket {
		if !common.IsHexAddress(asset) {
			return fmt.Errorf("%w: trading.basket entry is not an address: %q", ErrInvalid, asset)
		}
	}

	if c.Trading.Slippage < 0 || c.Trading.Slippage >= 1 {
		return fmt.Errorf("%w: trading.slippage must be in [0, 1)", ErrInvalid)
	}

	if c.Dex.RouterABIPath != "" {
		if _, err := os.Stat(c.Dex.RouterABIPath); err != nil {
			return fmt.Errorf("%w: router ABI artifact %s: %v", ErrMissing, c.Dex.RouterABIPath, err)
		}
	}
	return nil
}
