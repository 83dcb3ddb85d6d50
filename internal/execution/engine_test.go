package execution

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"dex-trade-bot-go/internal/contracts"
	"dex-trade-bot-go/internal/strategy"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	router = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	quoter = common.HexToAddress("0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6")
	base   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai    = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	halfEther = new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	gasPrice  = big.NewInt(20_000_000_000)
	chainID   = big.NewInt(1)
)

type testSigner struct {
	key    *ecdsa.PrivateKey
	signer types.Signer
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &testSigner{key: key, signer: types.LatestSignerForChainID(chainID)}
}

func (s *testSigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s *testSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, s.signer, s.key)
}

// fakeVenue answers contract calls by decoding the method selector.
type fakeVenue struct {
	mu sync.Mutex

	nonce      uint64
	nonceReads int
	quote      *big.Int
	quoteErr   error
	balance    *big.Int
	allowance  *big.Int
	sendErr    error
	sent       []*types.Transaction

	receiptStatus uint64
	receiptMisses int
	receiptCalls  int
	neverMined    bool
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		nonce:         7,
		quote:         big.NewInt(2000),
		balance:       new(big.Int).Set(halfEther),
		allowance:     new(big.Int).Set(halfEther),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (v *fakeVenue) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(gasPrice), nil
}

func (v *fakeVenue) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nonceReads++
	return v.nonce, nil
}

func (v *fakeVenue) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	selector := call.Data[:4]
	for _, contract := range []abi.ABI{contracts.ERC20, contracts.Quoter} {
		method, err := contract.MethodById(selector)
		if err != nil {
			continue
		}
		switch method.Name {
		case "quoteExactInputSingle":
			if v.quoteErr != nil {
				return nil, v.quoteErr
			}
			return method.Outputs.Pack(v.quote)
		case "balanceOf":
			return method.Outputs.Pack(v.balance)
		case "allowance":
			return method.Outputs.Pack(v.allowance)
		}
	}
	return nil, fmt.Errorf("unexpected call %x to %s", selector, call.To.Hex())
}

func (v *fakeVenue) SendTransaction(_ context.Context, tx *types.Transaction) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sendErr != nil {
		return v.sendErr
	}
	v.sent = append(v.sent, tx)
	v.nonce = tx.Nonce() + 1
	return nil
}

func (v *fakeVenue) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.receiptCalls++
	if v.neverMined || v.receiptCalls <= v.receiptMisses {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: v.receiptStatus, GasUsed: 46000}, nil
}

func (v *fakeVenue) sentTxs() []*types.Transaction {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*types.Transaction(nil), v.sent...)
}

var fixedNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, venue *fakeVenue) (*Engine, *testSigner) {
	t.Helper()
	signer := newTestSigner(t)
	e := New(venue, signer, Config{
		Router:         router,
		Quoter:         quoter,
		BaseAsset:      base,
		Amount:         decimal.RequireFromString("0.5"),
		FeeTier:        3000,
		Slippage:       decimal.RequireFromString("0.01"),
		ConfirmTimeout: time.Second,
		PollInterval:   time.Millisecond,
	}, zap.NewNop())
	e.now = func() time.Time { return fixedNow }
	return e, signer
}

func decodeSwap(t *testing.T, tx *types.Transaction) contracts.ExactInputSingleParams {
	t.Helper()
	method := contracts.Router.Methods["exactInputSingle"]
	require.True(t, bytes.HasPrefix(tx.Data(), method.ID), "not a swap")
	values, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	return *abi.ConvertType(values[0], new(contracts.ExactInputSingleParams)).(*contracts.ExactInputSingleParams)
}

func TestExecuteSwap_Buy(t *testing.T) {
	venue := newFakeVenue()
	e, signer := newTestEngine(t, venue)

	res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionBuy, GasPrice: gasPrice})
	require.False(t, IsFailure(res), "unexpected failure %s", res)

	sent := venue.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, res.String(), tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, router, *tx.To())
	assert.Equal(t, uint64(swapGasLimit), tx.Gas())
	assert.Equal(t, 0, tx.GasPrice().Cmp(gasPrice))
	assert.Equal(t, 0, tx.Value().Cmp(halfEther))

	params := decodeSwap(t, tx)
	assert.Equal(t, base, params.TokenIn)
	assert.Equal(t, dai, params.TokenOut)
	assert.Equal(t, int64(3000), params.Fee.Int64())
	assert.Equal(t, signer.Address(), params.Recipient)
	assert.Equal(t, fixedNow.Unix()+1200, params.Deadline.Int64())
	assert.Equal(t, 0, params.AmountIn.Cmp(halfEther))
	assert.Equal(t, int64(1980), params.AmountOutMinimum.Int64())
	assert.Zero(t, params.SqrtPriceLimitX96.Sign())

	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}

func TestExecuteSwap_SellInsufficientBalance(t *testing.T) {
	venue := newFakeVenue()
	venue.balance = big.NewInt(1)
	e, _ := newTestEngine(t, venue)

	res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionSell, GasPrice: gasPrice})

	assert.Equal(t, ResultSellInsufficientFunds, res)
	assert.True(t, IsFailure(res))
	assert.Empty(t, venue.sentTxs())
	next, err := e.Nonces().Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), next)
}

func TestExecuteSwap_SellApprovesFirst(t *testing.T) {
	venue := newFakeVenue()
	venue.allowance = big.NewInt(0)
	venue.receiptMisses = 2
	e, _ := newTestEngine(t, venue)

	res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionSell, GasPrice: gasPrice})
	require.False(t, IsFailure(res), "unexpected failure %s", res)

	sent := venue.sentTxs()
	require.Len(t, sent, 2)

	approve := sent[0]
	assert.Equal(t, uint64(7), approve.Nonce())
	assert.Equal(t, dai, *approve.To())
	assert.Equal(t, uint64(approveGasLimit), approve.Gas())
	assert.True(t, bytes.HasPrefix(approve.Data(), contracts.ERC20.Methods["approve"].ID))
	assert.Equal(t, 3, venue.receiptCalls)

	swap := sent[1]
	assert.Equal(t, uint64(8), swap.Nonce())
	assert.Zero(t, swap.Value().Sign())
	params := decodeSwap(t, swap)
	assert.Equal(t, dai, params.TokenIn)
	assert.Equal(t, base, params.TokenOut)
	assert.Equal(t, res.String(), swap.Hash().Hex())
}

func TestExecuteSwap_SellWithAllowance(t *testing.T) {
	venue := newFakeVenue()
	e, _ := newTestEngine(t, venue)

	res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionSell, GasPrice: gasPrice})
	require.False(t, IsFailure(res))
	require.Len(t, venue.sentTxs(), 1)
	assert.Zero(t, venue.receiptCalls)
}

func TestExecuteSwap_ApprovalFailures(t *testing.T) {
	t.Run("Reverted", func(t *testing.T) {
		venue := newFakeVenue()
		venue.allowance = big.NewInt(0)
		venue.receiptStatus = types.ReceiptStatusFailed
		e, _ := newTestEngine(t, venue)

		res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionSell, GasPrice: gasPrice})
		assert.Equal(t, ResultSellExecutionFailed, res)
		assert.Len(t, venue.sentTxs(), 1)
	})

	t.Run("ConfirmTimeout", func(t *testing.T) {
		venue := newFakeVenue()
		venue.allowance = big.NewInt(0)
		venue.neverMined = true
		e, _ := newTestEngine(t, venue)
		e.cfg.ConfirmTimeout = 20 * time.Millisecond

		res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionSell, GasPrice: gasPrice})
		assert.Equal(t, ResultSellExecutionFailed, res)
		assert.Len(t, venue.sentTxs(), 1)
	})
}

func TestExecuteSwap_QuoteFailures(t *testing.T) {
	t.Run("ZeroQuote", func(t *testing.T) {
		venue := newFakeVenue()
		venue.quote = big.NewInt(0)
		e, _ := newTestEngine(t, venue)

		res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionBuy, GasPrice: gasPrice})
		assert.Equal(t, ResultBuyQuoteFailed, res)
		assert.Empty(t, venue.sentTxs())
	})

	t.Run("SlippageRoundsToZero", func(t *testing.T) {
		venue := newFakeVenue()
		venue.quote = big.NewInt(1)
		e, _ := newTestEngine(t, venue)

		res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionBuy, GasPrice: gasPrice})
		assert.Equal(t, ResultBuyQuoteFailed, res)
	})

	t.Run("CallError", func(t *testing.T) {
		venue := newFakeVenue()
		venue.quoteErr = errors.New("execution reverted")
		e, _ := newTestEngine(t, venue)

		res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionSell, GasPrice: gasPrice})
		assert.Equal(t, ResultSellQuoteFailed, res)
		assert.Empty(t, venue.sentTxs())
	})
}

func TestExecuteSwap_UnsupportedAction(t *testing.T) {
	venue := newFakeVenue()
	e, _ := newTestEngine(t, venue)

	res := e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionHold, GasPrice: gasPrice})
	assert.Equal(t, ResultUnsupportedAction, res)
	assert.Zero(t, venue.nonceReads)
}

func TestExecuteSwap_NonceSequencing(t *testing.T) {
	venue := newFakeVenue()
	e, _ := newTestEngine(t, venue)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := e.ExecuteSwap(ctx, SwapRequest{Asset: dai, Action: strategy.ActionBuy, GasPrice: gasPrice})
		require.False(t, IsFailure(res))
	}
	sent := venue.sentTxs()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(7), sent[0].Nonce())
	assert.Equal(t, uint64(8), sent[1].Nonce())
	assert.Equal(t, 1, venue.nonceReads)

	// A failed submission makes the next swap resync from the venue.
	venue.sendErr = errors.New("connection reset")
	assert.Equal(t, ResultBuyExecutionFailed, e.ExecuteSwap(ctx, SwapRequest{Asset: dai, Action: strategy.ActionBuy, GasPrice: gasPrice}))

	venue.mu.Lock()
	venue.sendErr = nil
	venue.nonce = 12
	venue.mu.Unlock()
	require.False(t, IsFailure(e.ExecuteSwap(ctx, SwapRequest{Asset: dai, Action: strategy.ActionBuy, GasPrice: gasPrice})))
	sent = venue.sentTxs()
	assert.Equal(t, uint64(12), sent[len(sent)-1].Nonce())
	assert.Equal(t, 2, venue.nonceReads)
}

func TestExecuteSwap_MissingGasPrice(t *testing.T) {
	venue := newFakeVenue()
	e, _ := newTestEngine(t, venue)

	assert.Equal(t, ResultBuyExecutionFailed, e.ExecuteSwap(context.Background(), SwapRequest{Asset: dai, Action: strategy.ActionBuy}))
	assert.Empty(t, venue.sentTxs())
}

func TestIsFailure(t *testing.T) {
	for _, r := range []Result{
		ResultBuyQuoteFailed, ResultSellQuoteFailed, ResultSellInsufficientFunds,
		ResultUnsupportedAction, ResultBuyExecutionFailed, ResultSellExecutionFailed, "",
	} {
		assert.True(t, IsFailure(r), "%q", r)
	}
	assert.False(t, IsFailure(Result(common.HexToHash("0xabc").Hex())))
}

func TestEngine_SuggestGasPrice(t *testing.T) {
	e, _ := newTestEngine(t, newFakeVenue())
	price, err := e.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, price.Cmp(gasPrice))
}
