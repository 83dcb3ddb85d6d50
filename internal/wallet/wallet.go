// Package wallet loads the signing credential and signs swap transactions.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"dex-trade-bot-go/internal/config"
	"dex-trade-bot-go/internal/contracts"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidKey     = errors.New("private key must be a 64-character hex string without 0x prefix")
	ErrInvalidAddress = errors.New("invalid address")
)

// Credential is the wallet used for every swap. The key never leaves this package.
type Credential struct {
	Address     common.Address
	BaseAsset   common.Address
	TradeAmount decimal.Decimal
	key         *ecdsa.PrivateKey
}

// Load validates the wallet and trading sections and builds a Credential.
func Load(w config.Wallet, t config.Trading, logger *zap.Logger) (*Credential, error) {
	address, err := checksum("wallet address", w.WalletAddress, logger)
	if err != nil {
		return nil, err
	}
	base, err := checksum("base token", t.TokenAddress, logger)
	if err != nil {
		return nil, err
	}

	key, err := parseKey(w.PrivateKey)
	if err != nil {
		return nil, err
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey); derived != address {
		return nil, fmt.Errorf("%w: private key belongs to %s, not %s", ErrInvalidAddress, derived.Hex(), address.Hex())
	}

	logger.Info("Loaded wallet", zap.String("address", address.Hex()))
	return &Credential{
		Address:     address,
		BaseAsset:   base,
		TradeAmount: decimal.NewFromFloat(t.AmountETH),
		key:         key,
	}, nil
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 64 {
		return nil, ErrInvalidKey
	}
	for _, c := range raw {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return nil, ErrInvalidKey
		}
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// checksum accepts any hex address, warning when it was not already checksummed.
func checksum(what, raw string, logger *zap.Logger) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrInvalidAddress, what, raw)
	}
	addr := common.HexToAddress(raw)
	if addr.Hex() != raw {
		logger.Warn("Address not checksummed, auto-correcting",
			zap.String("field", what),
			zap.String("raw", raw),
			zap.String("checksummed", addr.Hex()),
		)
	}
	return addr, nil
}

// String never includes the key.
func (c *Credential) String() string {
	return fmt.Sprintf("wallet{address=%s base=%s amount=%s key=[redacted]}", c.Address.Hex(), c.BaseAsset.Hex(), c.TradeAmount)
}

// GoString keeps %#v from printing the key.
func (c *Credential) GoString() string { return c.String() }

// Signer signs transactions for one chain with the credential's key.
type Signer struct {
	cred   *Credential
	signer types.Signer
}

// NewSigner binds the credential to chainID.
func NewSigner(cred *Credential, chainID *big.Int) *Signer {
	return &Signer{cred: cred, signer: types.LatestSignerForChainID(chainID)}
}

func (s *Signer) Address() common.Address { return s.cred.Address }

func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.cred.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

// BalanceReader is the node subset used by CheckBalances. *ethclient.Client satisfies it.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var weiPerEther = decimal.New(1, 18)

// CheckBalances warns when the ETH balance, and optionally the base token
// balance, is below the trade amount. Lookup failures are logged, not returned.
func (c *Credential) CheckBalances(ctx context.Context, node BalanceReader, checkToken bool, logger *zap.Logger) {
	eth, err := node.BalanceAt(ctx, c.Address, nil)
	if err != nil {
		logger.Warn("Failed to fetch ETH balance", zap.Error(err))
	} else {
		balance := decimal.NewFromBigInt(eth, 0).Div(weiPerEther)
		logger.Debug("ETH balance", zap.String("eth", balance.String()))
		if balance.LessThan(c.TradeAmount) {
			logger.Warn("ETH balance is below trade amount",
				zap.String("balance", balance.String()),
				zap.String("amount", c.TradeAmount.String()),
			)
		}
	}

	if !checkToken {
		return
	}
	data, err := contracts.ERC20.Pack("balanceOf", c.Address)
	if err != nil {
		logger.Warn("Failed to pack balanceOf", zap.Error(err))
		return
	}
	to := c.BaseAsset
	out, err := node.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		logger.Warn("Failed to fetch token balance", zap.Error(err))
		return
	}
	raw, err := contracts.UnpackBigInt(contracts.ERC20, "balanceOf", out)
	if err != nil {
		logger.Warn("Failed to decode token balance", zap.Error(err))
		return
	}
	// Assumes 18 decimals.
	balance := decimal.NewFromBigInt(raw, 0).Div(weiPerEther)
	if balance.LessThan(c.TradeAmount) {
		logger.Warn("Token balance is below trade amount",
			zap.String("balance", balance.String()),
			zap.String("amount", c.TradeAmount.String()),
		)
	}
}
