package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dex-trade-bot-go/internal/binance"
	"dex-trade-bot-go/internal/config"
	"dex-trade-bot-go/internal/contracts"
	"dex-trade-bot-go/internal/database"
	"dex-trade-bot-go/internal/execution"
	"dex-trade-bot-go/internal/ledger"
	"dex-trade-bot-go/internal/oracle"
	"dex-trade-bot-go/internal/strategy"
	"dex-trade-bot-go/internal/trader"
	"dex-trade-bot-go/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const breakerCooldown = 30 * time.Second

func runTrader(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("mode", string(cfg.General.Mode)))

	// Initialization failures are fatal and reported once.
	if err := cfg.Validate(); err != nil {
		log.Error("Initialization failed", zap.Error(err))
		return err
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return err
	}
	log.Info("Database connection successful and schema migrated.")
	led := ledger.New(db, log, cfg.Export.Dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := strategy.Deps{
		Logger: log,
		Signal: strategy.SignalConfigFrom(cfg.Trading),
		Profit: strategy.ProfitConfigFrom(cfg.Trading),
	}
	// Left nil in signal mode so the engine sees no executor.
	var exec trader.Executor
	var feeds trader.FeedReporter

	switch cfg.General.Mode {
	case config.ModeSignal:
		source, err := signalSource(ctx, &cfg, log)
		if err != nil {
			log.Error("Initialization failed", zap.Error(err))
			return err
		}
		deps.Source = source
		if r, ok := source.(trader.FeedReporter); ok {
			feeds = r
		}
	case config.ModeProfit:
		engine, orc, err := bootstrapProfit(ctx, &cfg, log)
		if err != nil {
			log.Error("Initialization failed", zap.Error(err))
			return err
		}
		deps.Oracle = orc
		exec = engine
		feeds = orc
	}

	strat, err := strategy.New(cfg.General.Mode, deps)
	if err != nil {
		log.Error("Initialization failed", zap.Error(err))
		return err
	}

	engine, err := trader.NewEngine(log, strat, led, exec, trader.OptionsFrom(&cfg))
	if err != nil {
		log.Error("Initialization failed", zap.Error(err))
		return err
	}

	var api *trader.APIServer
	if cfg.Server.Port > 0 {
		api = trader.NewAPIServer(engine, led, cfg.Server.Port, log)
		if feeds != nil {
			api.WithFeeds(feeds)
		}
		api.Start()
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigchan:
		log.Info("Shutdown signal received, gracefully shutting down...")
		engine.Stop()
	case <-engine.Done():
	}

	if api != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := api.Stop(shutdownCtx); err != nil {
			log.Warn("API server shutdown", zap.Error(err))
		}
	}
	log.Info("Bot has been shut down.", zap.Uint64("cycles", engine.Cycles()))
	return nil
}

// signalSource prefers the Binance ticker when a symbol is configured. The
// ticker is the only price source, so an unreachable API is fatal.
func signalSource(ctx context.Context, cfg *config.Config, log *zap.Logger) (strategy.PriceSource, error) {
	if cfg.Trading.PriceSymbol == "" {
		log.Info("No price symbol configured, using synthetic signal prices")
		return strategy.NewSyntheticSource(nil), nil
	}
	rest := binance.NewRestClient(&cfg.Binance, log)
	if err := pingBinance(ctx, rest, log); err != nil {
		return nil, err
	}
	ticker := binance.NewTicker(rest, strings.ToUpper(cfg.Trading.PriceSymbol))
	return oracle.NewBreakerFeed(ticker.Symbol(), ticker, breakerCooldown), nil
}

// pingBinance checks connectivity through the server time endpoint.
func pingBinance(ctx context.Context, rest binance.RestClientInterface, log *zap.Logger) error {
	if _, err := rest.GetServerTime(ctx); err != nil {
		return fmt.Errorf("connect to Binance API: %w", err)
	}
	log.Info("Successfully connected to Binance API.")
	return nil
}

// bootstrapProfit dials the node and builds the wallet, oracle and execution engine.
func bootstrapProfit(ctx context.Context, cfg *config.Config, log *zap.Logger) (*execution.Engine, *oracle.Oracle, error) {
	client, err := ethclient.DialContext(ctx, cfg.Web3.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial node: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read chain id: %w", err)
	}
	log.Info("Connected to node", zap.String("chain_id", chainID.String()))

	cred, err := wallet.Load(cfg.Wallet, cfg.Trading, log)
	if err != nil {
		return nil, nil, err
	}
	cred.CheckBalances(ctx, client, true, log)

	routerABI := contracts.Router
	if cfg.Dex.RouterABIPath != "" {
		if routerABI, err = contracts.LoadRouterABI(cfg.Dex.RouterABIPath); err != nil {
			return nil, nil, err
		}
	}

	orc := oracle.New(log, cfg.OracleTTL())
	if err := registerFeeds(ctx, orc, cfg, client, log); err != nil {
		return nil, nil, err
	}

	engine := execution.New(client, wallet.NewSigner(cred, chainID), execution.Config{
		Router:         common.HexToAddress(cfg.Dex.RouterAddress),
		RouterABI:      routerABI,
		Quoter:         common.HexToAddress(cfg.Dex.QuoterAddress),
		BaseAsset:      cred.BaseAsset,
		Amount:         cred.TradeAmount,
		FeeTier:        cfg.Trading.FeeTier,
		Slippage:       decimal.NewFromFloat(cfg.Trading.Slippage),
		ConfirmTimeout: cfg.ConfirmTimeout(),
	}, log)
	return engine, orc, nil
}

// registerFeeds binds oracle.address to (token_address, quote_asset) and adds the
// explicit feeds list. Every feed sits behind a circuit breaker. An unreachable
// Binance API only warns: the oracle falls back while the breaker is open.
func registerFeeds(ctx context.Context, orc *oracle.Oracle, cfg *config.Config, node oracle.ContractCaller, log *zap.Logger) error {
	var rest *binance.RestClient
	register := func(asset, base string, feed oracle.Feed) {
		name := asset + "/" + base
		orc.Register(asset, base, oracle.NewBreakerFeed(name, feed, breakerCooldown))
		log.Info("Registered price feed", zap.String("pair", name))
	}

	register(cfg.Trading.TokenAddress, cfg.Trading.QuoteAsset,
		oracle.NewChainlinkFeed(node, common.HexToAddress(cfg.Oracle.Address), oracle.ChainlinkDecimals))

	for _, f := range cfg.Oracle.Feeds {
		base := f.Base
		if base == "" {
			base = cfg.Trading.QuoteAsset
		}
		switch strings.ToLower(f.Source) {
		case "", "chainlink":
			if !common.IsHexAddress(f.Address) {
				return fmt.Errorf("%w: oracle feed %s has no aggregator address", config.ErrInvalid, f.Asset)
			}
			register(f.Asset, base, oracle.NewChainlinkFeed(node, common.HexToAddress(f.Address), oracle.ChainlinkDecimals))
		case "binance":
			if f.Symbol == "" {
				return fmt.Errorf("%w: oracle feed %s has no symbol", config.ErrInvalid, f.Asset)
			}
			if rest == nil {
				rest = binance.NewRestClient(&cfg.Binance, log)
				if err := pingBinance(ctx, rest, log); err != nil {
					log.Warn("Binance feeds unavailable at startup", zap.Error(err))
				}
			}
			register(f.Asset, base, binance.NewTicker(rest, strings.ToUpper(f.Symbol)))
		default:
			return fmt.Errorf("%w: unknown oracle feed source %q", config.ErrInvalid, f.Source)
		}
	}
	return nil
}
