package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"presence-backend/checkin"
)

// poapABI - only the functions we need
const poapABI = `[{"inputs":[{"internalType":"string","name":"eventId","type":"string"},{"internalType":"string","name":"eventName","type":"string"},{"internalType":"string","name":"eventLocation","type":"string"},{"internalType":"string","name":"imageUrl","type":"string"},{"internalType":"address","name":"clock","type":"address"}],"name":"mint","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}]`

// TokenTypeSuffix names the created-object type of tokens minted by the contract
const TokenTypeSuffix = "::ProofOfPresence"

const (
	defaultPollInterval  = 2 * time.Second
	defaultConfirmations = 1
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrMintMismatch means a transaction did not mint the claimed token to the claimed wallet
var ErrMintMismatch = errors.New("mint not found in transaction")

// ChainBackend is the subset of *ethclient.Client the contract needs
type ChainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// POAPContract wraps the proof-of-presence token contract interactions
type POAPContract struct {
	backend       ChainBackend
	address       common.Address
	abi           abi.ABI
	confirmations uint64
	pollInterval  time.Duration
	logger        *slog.Logger
}

var _ checkin.Ledger = (*POAPContract)(nil)

// Option configures a POAPContract
type Option func(*POAPContract)

// WithConfirmations sets the block depth a receipt needs before it counts as final
func WithConfirmations(n uint64) Option {
	return func(c *POAPContract) {
		if n > 0 {
			c.confirmations = n
		}
	}
}

// WithPollInterval sets how often receipts are polled
func WithPollInterval(d time.Duration) Option {
	return func(c *POAPContract) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *POAPContract) { c.logger = l }
}

// NewPOAPContract creates a new POAPContract instance
func NewPOAPContract(backend ChainBackend, address string, opts ...Option) (*POAPContract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}

	parsedABI, err := abi.JSON(strings.NewReader(poapABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse poap ABI: %w", err)
	}

	c := &POAPContract{
		backend:       backend,
		address:       common.HexToAddress(address),
		abi:           parsedABI,
		confirmations: defaultConfirmations,
		pollInterval:  defaultPollInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TokenType returns the created-object type of this contract's tokens
func (c *POAPContract) TokenType() string {
	return c.address.Hex() + TokenTypeSuffix
}

// SubmitMintCall signs and sends a mint transaction. It is not idempotent.
func (c *POAPContract) SubmitMintCall(ctx context.Context, signer checkin.SigningIdentity, call checkin.MintCall) (string, error) {
	if signer == nil || !common.IsHexAddress(signer.Address()) {
		return "", fmt.Errorf("invalid signer address")
	}
	if !common.IsHexAddress(call.Clock) {
		return "", fmt.Errorf("invalid clock address %q", call.Clock)
	}
	from := common.HexToAddress(signer.Address())

	callData, err := c.abi.Pack("mint", call.EventID, call.EventName, call.EventLocationLabel, call.ImageURL, common.HexToAddress(call.Clock))
	if err != nil {
		return "", fmt.Errorf("failed to pack call data: %w", err)
	}

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.address, Data: callData})
	if err != nil {
		return "", classifySendError("failed to estimate gas", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas + gas/5,
		To:       &c.address,
		Value:    big.NewInt(0),
		Data:     callData,
	})

	txSigner := types.LatestSignerForChainID(chainID)
	sig, err := signer.Sign(ctx, txSigner.Hash(tx).Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to sign mint: %w: %w", checkin.ErrRejected, err)
	}
	signed, err := tx.WithSignature(txSigner, sig)
	if err != nil {
		return "", fmt.Errorf("failed to attach signature: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", classifySendError("failed to send mint", err)
	}
	return signed.Hash().Hex(), nil
}

// AwaitFinality polls until the receipt is buried under the configured
// number of confirmations or timeout elapses.
func (c *POAPContract) AwaitFinality(ctx context.Context, txRef string, timeout time.Duration) (checkin.TxResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	hash := common.HexToHash(txRef)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if c.buried(ctx, receipt) {
				return c.result(txRef, receipt), nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			c.logger.Debug("receipt poll failed", "tx_ref", txRef, "error", err)
		}

		select {
		case <-ctx.Done():
			return checkin.TxResult{}, fmt.Errorf("%w: %s after %s", checkin.ErrNotFinalized, txRef, timeout)
		case <-ticker.C:
		}
	}
}

func (c *POAPContract) buried(ctx context.Context, receipt *types.Receipt) bool {
	if c.confirmations <= 1 || receipt.BlockNumber == nil {
		return true
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return false
	}
	return head+1 >= receipt.BlockNumber.Uint64()+c.confirmations
}

// ExtractCreatedObjectID returns the id of the first object of expectedType
// created by txRef.
func (c *POAPContract) ExtractCreatedObjectID(ctx context.Context, txRef, expectedType string) (string, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		return "", fmt.Errorf("failed to fetch receipt %s: %w", txRef, err)
	}
	ids := c.result(txRef, receipt).Created(expectedType)
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %s in %s", checkin.ErrObjectNotFound, expectedType, txRef)
	}
	return ids[0], nil
}

// VerifyMint confirms that txRef minted tokenID to wallet through this contract
func (c *POAPContract) VerifyMint(ctx context.Context, txRef, tokenID, wallet string) error {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txRef))
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: transaction %s unknown", ErrMintMismatch, txRef)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch receipt %s: %w", txRef, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction %s reverted", ErrMintMismatch, txRef)
	}

	owner := common.HexToAddress(wallet)
	for _, m := range mints(receipt.Logs) {
		if m.contract == c.address && m.tokenID == tokenID && m.owner == owner {
			return nil
		}
	}
	return fmt.Errorf("%w: token %s to %s in %s", ErrMintMismatch, tokenID, wallet, txRef)
}

func (c *POAPContract) result(txRef string, receipt *types.Receipt) checkin.TxResult {
	res := checkin.TxResult{
		TxRef:   txRef,
		Success: receipt.Status == types.ReceiptStatusSuccessful,
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	for _, m := range mints(receipt.Logs) {
		objType := m.contract.Hex() + "::ERC721"
		if m.contract == c.address {
			objType = c.TokenType()
		}
		res.CreatedObjects = append(res.CreatedObjects, checkin.CreatedObject{Type: objType, ObjectID: m.tokenID})
	}
	return res
}

type mint struct {
	contract common.Address
	owner    common.Address
	tokenID  string
}

// mints decodes ERC-721 Transfer logs from the zero address
func mints(logs []*types.Log) []mint {
	var out []mint
	for _, l := range logs {
		if l == nil || len(l.Topics) != 4 || l.Topics[0] != transferTopic {
			continue
		}
		if l.Topics[1] != (common.Hash{}) {
			continue
		}
		out = append(out, mint{
			contract: l.Address,
			owner:    common.BytesToAddress(l.Topics[2].Bytes()),
			tokenID:  new(big.Int).SetBytes(l.Topics[3].Bytes()).String(),
		})
	}
	return out
}

var rejectionMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"intrinsic gas too low",
	"nonce too low",
	"gas limit reached",
}

// classifySendError marks node-side refusals as rejections; anything else is
// treated as a transport failure.
func classifySendError(msg string, err error) error {
	lower := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%s: %w: %w", msg, checkin.ErrRejected, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
