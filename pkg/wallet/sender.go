package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
	"github.com/xDzaky/school-payment-blockchain/pkg/metrics"
)

const (
	// gasLimitTransfer is the gas limit for a plain native transfer
	gasLimitTransfer = 21000
	// gasLimitWithMemo is the gas limit when memo data is attached
	gasLimitWithMemo = 50000

	// receiptPollInterval is how often the sender polls for a receipt
	receiptPollInterval = 2 * time.Second
)

// Backend is the narrow slice of an Ethereum node client the sender needs.
// *ethclient.Client satisfies it; tests plug in a fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Receipt is the settlement receipt produced by a successful dispatch. It is
// consumed once by the orchestrator and not persisted here.
type Receipt struct {
	TxHash      string  `json:"hash"`
	BlockNumber uint64  `json:"blockNumber"`
	GasUsed     uint64  `json:"gasUsed"`
	FeePaid     float64 `json:"feePaid"`
	ExplorerURL string  `json:"explorerUrl"`
}

// Verification is the structured verdict of an independent transaction check.
// An invalid transaction is a negative verdict, not an error.
type Verification struct {
	Valid       bool    `json:"valid"`
	Reason      string  `json:"reason,omitempty"`
	Confirmed   bool    `json:"confirmed"`
	From        string  `json:"from,omitempty"`
	To          string  `json:"to,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	BlockNumber uint64  `json:"blockNumber,omitempty"`
}

// FeeEstimate describes the expected cost of a transfer.
type FeeEstimate struct {
	GasPriceGwei float64 `json:"gasPriceGwei"`
	GasLimit     uint64  `json:"gasLimit"`
	Fee          float64 `json:"fee"`
}

// SenderConfig holds the settings for the ledger transmitter.
type SenderConfig struct {
	CustodyAddress string
	PrivateKey     string
	GasMultiplier  float64
	ConfirmTimeout time.Duration
	ExplorerBase   string
}

// Sender signs and submits native-asset transfers from the hot wallet to the
// custody address, and can independently verify arbitrary transactions.
type Sender struct {
	backend        Backend
	custody        common.Address
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	gasMultiplier  float64
	confirmTimeout time.Duration
	explorerBase   string
	nonces         *NonceManager
	logger         logger.Logger
}

// NewSender creates a ledger transmitter. A missing or zeroed private key is
// tolerated here and rejected at dispatch time, so the rest of the service
// stays up for operators to inspect.
func NewSender(ctx context.Context, backend Backend, cfg SenderConfig, log logger.Logger) (*Sender, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if !common.IsHexAddress(cfg.CustodyAddress) {
		return nil, fmt.Errorf("invalid custody address: %s", cfg.CustodyAddress)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %v", err)
	}

	s := &Sender{
		backend:        backend,
		custody:        common.HexToAddress(cfg.CustodyAddress),
		chainID:        chainID,
		gasMultiplier:  cfg.GasMultiplier,
		confirmTimeout: cfg.ConfirmTimeout,
		explorerBase:   cfg.ExplorerBase,
		nonces:         NewNonceManager(log),
		logger:         log,
	}
	if s.gasMultiplier <= 0 {
		s.gasMultiplier = 1.1
	}
	if s.confirmTimeout <= 0 {
		s.confirmTimeout = 90 * time.Second
	}

	keyHex := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if keyHex != "" && strings.Trim(keyHex, "0") != "" {
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %v", err)
		}
		s.key = key
		s.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return s, nil
}

// Configured reports whether a usable signing key is loaded.
func (s *Sender) Configured() bool {
	return s.key != nil
}

// From returns the hot wallet address, zero when unconfigured.
func (s *Sender) From() common.Address {
	return s.from
}

// Send submits a native-asset transfer of amount to the custody address and
// blocks until one confirmation is observed or the confirm timeout elapses.
// The memo, when present, is attached as calldata on the transfer.
func (s *Sender) Send(ctx context.Context, amount float64, memo string) (*Receipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid transfer amount: %f", amount)
	}
	if s.key == nil {
		return nil, ErrSigningMisconfigured
	}

	value := weiFromFloat(amount)

	gasPrice, err := s.suggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	var data []byte
	gasLimit := uint64(gasLimitTransfer)
	if memo != "" {
		data = []byte(memo)
		gasLimit = gasLimitWithMemo
	}

	// Funding check covers the transfer plus its worst-case fee
	maxFee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	required := new(big.Int).Add(value, maxFee)

	balance, err := s.backend.BalanceAt(ctx, s.from, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	if balance.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: required %s wei, available %s wei",
			ErrInsufficientFunds, required.String(), balance.String())
	}

	nonce, err := s.nonces.Next(ctx, s.backend, s.from)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.custody,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %v", err)
	}

	s.logger.Info(logger.Wallet, "Sending %.6f to %s (nonce %d, gas price %s wei)",
		amount, s.custody.Hex(), nonce, gasPrice.String())

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		s.nonces.Fail(nonce)
		return nil, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	s.nonces.Track(nonce, signedTx.Hash())

	receipt, err := s.waitMined(ctx, signedTx.Hash())
	if err != nil {
		s.nonces.Fail(nonce)
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		s.nonces.Fail(nonce)
		return nil, fmt.Errorf("%w: %s", ErrTransactionRejected, signedTx.Hash().Hex())
	}
	s.nonces.Confirm(nonce)

	feePaid := floatFromWei(new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(receipt.GasUsed)))
	metrics.GasUsed.Observe(float64(receipt.GasUsed))

	s.logger.Notice(logger.Wallet, "Transfer confirmed: %s (block %d, gas used %d)",
		signedTx.Hash().Hex(), receipt.BlockNumber.Uint64(), receipt.GasUsed)

	return &Receipt{
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		FeePaid:     feePaid,
		ExplorerURL: s.explorerBase + signedTx.Hash().Hex(),
	}, nil
}

// waitMined polls for the transaction receipt until confirmation or timeout.
func (s *Sender) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug(logger.Wallet, "Receipt poll for %s: %v", txHash.Hex(), err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s after %v", ErrConfirmTimeout, txHash.Hex(), s.confirmTimeout)
		case <-ticker.C:
		}
	}
}

// Verify re-queries the ledger for a transaction and checks it against an
// expected recipient and amount. Address comparison is case-insensitive and
// the amount check absorbs rounding within tolerance.
func (s *Sender) Verify(ctx context.Context, txHash string, expectedRecipient string, expectedAmount float64, tolerance float64) (Verification, error) {
	hash := common.HexToHash(txHash)

	tx, pending, err := s.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Verification{Valid: false, Reason: "transaction not found"}, nil
		}
		return Verification{}, fmt.Errorf("failed to look up transaction: %w", err)
	}
	if pending {
		return Verification{Valid: false, Reason: "transaction not yet mined"}, nil
	}

	receipt, err := s.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Verification{Valid: false, Reason: "transaction not yet mined"}, nil
		}
		return Verification{}, fmt.Errorf("failed to look up receipt: %w", err)
	}

	v := Verification{
		Confirmed:   true,
		Amount:      floatFromWei(tx.Value()),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if tx.To() != nil {
		v.To = tx.To().Hex()
	}
	if sender, err := types.Sender(types.LatestSignerForChainID(s.chainID), tx); err == nil {
		v.From = sender.Hex()
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		v.Reason = "transaction reverted"
		return v, nil
	}
	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), expectedRecipient) {
		v.Reason = fmt.Sprintf("recipient mismatch: got %s, expected %s", v.To, expectedRecipient)
		return v, nil
	}
	if math.Abs(v.Amount-expectedAmount) > tolerance {
		v.Reason = fmt.Sprintf("amount mismatch: got %f, expected %f (tolerance %f)", v.Amount, expectedAmount, tolerance)
		return v, nil
	}

	v.Valid = true
	return v, nil
}

// Balance returns the hot wallet balance in native units.
func (s *Sender) Balance(ctx context.Context) (float64, error) {
	if s.from == (common.Address{}) {
		return 0, ErrSigningMisconfigured
	}
	balance, err := s.backend.BalanceAt(ctx, s.from, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	value := floatFromWei(balance)
	metrics.WalletBalance.Set(value)
	return value, nil
}

// EstimateFee estimates the cost of one transfer at current gas prices.
func (s *Sender) EstimateFee(ctx context.Context, hasMemo bool) (FeeEstimate, error) {
	gasPrice, err := s.suggestGasPrice(ctx)
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit := uint64(gasLimitTransfer)
	if hasMemo {
		gasLimit = gasLimitWithMemo
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return FeeEstimate{
		GasPriceGwei: gweiFromWei(gasPrice),
		GasLimit:     gasLimit,
		Fee:          floatFromWei(fee),
	}, nil
}

// GasPriceGwei returns the current (multiplied) gas price in gwei.
func (s *Sender) GasPriceGwei(ctx context.Context) (float64, error) {
	gasPrice, err := s.suggestGasPrice(ctx)
	if err != nil {
		return 0, err
	}
	gwei := gweiFromWei(gasPrice)
	metrics.GasPrice.Set(gwei)
	return gwei, nil
}

// suggestGasPrice fetches the node's suggested gas price and applies the
// configured buffer multiplier.
func (s *Sender) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := s.backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, err
	}

	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(s.gasMultiplier),
	)
	final := new(big.Int)
	multiplied.Int(final)
	return final, nil
}

// weiFromFloat converts a native-unit amount to wei.
func weiFromFloat(amount float64) *big.Int {
	wei := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18))
	out := new(big.Int)
	wei.Int(out)
	return out
}

// floatFromWei converts wei to native units.
func floatFromWei(wei *big.Int) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return out
}

// gweiFromWei converts wei to gwei.
func gweiFromWei(wei *big.Int) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return out
}
