// Package execution turns a trade decision into a signed swap on the DEX router.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"dex-trade-bot-go/internal/contracts"
	"dex-trade-bot-go/internal/strategy"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	approveGasLimit = 100000
	swapGasLimit    = 300000
	deadlineWindow  = 1200 * time.Second

	defaultPollInterval = 2 * time.Second
)

// tokenDecimals is the precision assumed for every traded token.
const tokenDecimals = 18

// Venue is the node subset used to build and submit swaps. *ethclient.Client satisfies it.
type Venue interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer signs transactions for the trading wallet.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Config holds the swap parameters fixed for a session.
type Config struct {
	Router         common.Address
	RouterABI      abi.ABI
	Quoter         common.Address
	BaseAsset      common.Address
	Amount         decimal.Decimal // whole tokens
	FeeTier        uint32
	Slippage       decimal.Decimal
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// SwapRequest asks for one swap of the configured amount against the base asset.
type SwapRequest struct {
	Asset    common.Address
	Action   strategy.Action
	GasPrice *big.Int // wei
}

// Engine builds, signs and submits swaps. It is driven by a single worker.
type Engine struct {
	cfg       Config
	venue     Venue
	signer    Signer
	nonces    *NonceCounter
	amountIn  *big.Int
	keepRatio decimal.Decimal
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an engine. An empty RouterABI falls back to the bundled fragment.
func New(venue Venue, signer Signer, cfg Config, logger *zap.Logger) *Engine {
	if len(cfg.RouterABI.Methods) == 0 {
		cfg.RouterABI = contracts.Router
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Engine{
		cfg:       cfg,
		venue:     venue,
		signer:    signer,
		nonces:    NewNonceCounter(venue, signer.Address()),
		amountIn:  cfg.Amount.Shift(tokenDecimals).BigInt(),
		keepRatio: decimal.NewFromInt(1).Sub(cfg.Slippage),
		logger:    logger.Named("execution"),
		now:       time.Now,
	}
}

// Nonces exposes the session nonce counter.
func (e *Engine) Nonces() *NonceCounter { return e.nonces }

// SuggestGasPrice returns the venue's current gas price in wei.
func (e *Engine) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return e.venue.SuggestGasPrice(ctx)
}

// ExecuteSwap never returns an error: every failure maps to a Result sentinel.
func (e *Engine) ExecuteSwap(ctx context.Context, req SwapRequest) Result {
	if req.Action != strategy.ActionBuy && req.Action != strategy.ActionSell {
		e.logger.Error("Unsupported swap action", zap.String("action", string(req.Action)))
		return ResultUnsupportedAction
	}

	res, err := e.executeSwap(ctx, req)
	if err != nil {
		e.logger.Error("Swap failed",
			zap.String("action", string(req.Action)),
			zap.String("asset", req.Asset.Hex()),
			zap.Error(err),
		)
		return executionFailed(req.Action)
	}
	return res
}

func (e *Engine) executeSwap(ctx context.Context, req SwapRequest) (Result, error) {
	nonce, err := e.nonces.Current(ctx)
	if err != nil {
		return "", err
	}
	deadline := big.NewInt(e.now().Add(deadlineWindow).Unix())
	if req.GasPrice == nil {
		return "", errors.New("gas price not set")
	}

	tokenIn, tokenOut := e.cfg.BaseAsset, req.Asset
	if req.Action == strategy.ActionSell {
		tokenIn, tokenOut = req.Asset, e.cfg.BaseAsset
	}

	minOut, err := e.minOut(ctx, tokenIn, tokenOut)
	if err != nil {
		e.logger.Error("Quote failed", zap.String("action", string(req.Action)), zap.Error(err))
		return quoteFailed(req.Action), nil
	}

	value := new(big.Int)
	if req.Action == strategy.ActionBuy {
		value.Set(e.amountIn)
	} else {
		balance, err := e.callBigInt(ctx, tokenIn, contracts.ERC20, "balanceOf", e.signer.Address())
		if err != nil {
			return "", err
		}
		if balance.Cmp(e.amountIn) < 0 {
			e.logger.Warn("Insufficient balance",
				zap.String("token", tokenIn.Hex()),
				zap.String("balance", balance.String()),
				zap.String("amount_in", e.amountIn.String()),
			)
			return ResultSellInsufficientFunds, nil
		}
		if err := e.ensureAllowance(ctx, tokenIn, req.GasPrice); err != nil {
			return "", err
		}
	}

	data, err := e.cfg.RouterABI.Pack("exactInputSingle", contracts.ExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               new(big.Int).SetUint64(uint64(e.cfg.FeeTier)),
		Recipient:         e.signer.Address(),
		Deadline:          deadline,
		AmountIn:          e.amountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return "", fmt.Errorf("pack exactInputSingle: %w", err)
	}

	hash, err := e.send(ctx, e.cfg.Router, value, swapGasLimit, req.GasPrice, data)
	if err != nil {
		return "", err
	}
	e.logger.Info("Swap submitted",
		zap.String("action", string(req.Action)),
		zap.String("asset", req.Asset.Hex()),
		zap.Uint64("first_nonce", nonce),
		zap.String("min_out", minOut.String()),
		zap.String("tx", hash.Hex()),
	)
	return Result(hash.Hex()), nil
}

// minOut quotes the full amount and applies slippage. A non-positive result is an error.
func (e *Engine) minOut(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, error) {
	quoted, err := e.callBigInt(ctx, e.cfg.Quoter, contracts.Quoter, "quoteExactInputSingle",
		tokenIn, tokenOut, new(big.Int).SetUint64(uint64(e.cfg.FeeTier)), e.amountIn, new(big.Int))
	if err != nil {
		return nil, err
	}
	minOut := decimal.NewFromBigInt(quoted, 0).Mul(e.keepRatio).Floor().BigInt()
	e.logger.Info("Quote", zap.String("expected", quoted.String()), zap.String("min_out", minOut.String()))
	if minOut.Sign() <= 0 {
		return nil, fmt.Errorf("unusable quote %s", quoted)
	}
	return minOut, nil
}

// ensureAllowance approves the router for amountIn and waits for the receipt when
// the current allowance is short.
func (e *Engine) ensureAllowance(ctx context.Context, token common.Address, gasPrice *big.Int) error {
	allowance, err := e.callBigInt(ctx, token, contracts.ERC20, "allowance", e.signer.Address(), e.cfg.Router)
	if err != nil {
		return err
	}
	if allowance.Cmp(e.amountIn) >= 0 {
		e.logger.Debug("Allowance sufficient", zap.String("allowance", allowance.String()))
		return nil
	}

	data, err := contracts.ERC20.Pack("approve", e.cfg.Router, e.amountIn)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	e.logger.Info("Approving router", zap.String("token", token.Hex()), zap.String("amount", e.amountIn.String()))
	hash, err := e.send(ctx, token, new(big.Int), approveGasLimit, gasPrice, data)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return e.waitMined(ctx, hash)
}

// send signs and submits a legacy transaction at the counter's current nonce.
// An ambiguous submission failure invalidates the counter.
func (e *Engine) send(ctx context.Context, to common.Address, value *big.Int, gas uint64, gasPrice *big.Int, data []byte) (common.Hash, error) {
	nonce, err := e.nonces.Current(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := e.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.venue.SendTransaction(ctx, signed); err != nil {
		e.nonces.Invalidate()
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	e.nonces.Advance()
	return signed.Hash(), nil
}

func (e *Engine) waitMined(ctx context.Context, hash common.Hash) error {
	if e.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.venue.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			e.logger.Info("Transaction confirmed", zap.String("tx", hash.Hex()), zap.Uint64("gas_used", receipt.GasUsed))
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			e.logger.Debug("Receipt lookup failed", zap.String("tx", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Engine) callBigInt(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*big.Int, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := e.venue.CallContract(ctx, ethereum.CallMsg{From: e.signer.Address(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	return contracts.UnpackBigInt(contract, method, out)
}
