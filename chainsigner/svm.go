package chainsigner

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// SVMSigner builds and partially signs SPL-token transfer transactions for
// a single Solana key. The facilitator supplies the recent blockhash and
// fee-payer signature server-side; this signer only authorises the
// transfer instruction itself.
type SVMSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	mints      map[string]bool // known mint addresses, lowercased
}

// SVMOption configures an SVMSigner.
type SVMOption func(*SVMSigner)

// WithMint registers a mint address this signer is willing to transfer.
func WithMint(mintAddress string) SVMOption {
	return func(s *SVMSigner) {
		s.mints[strings.ToLower(mintAddress)] = true
	}
}

// NewSVMSigner builds an SVMSigner from a base58-encoded private key.
func NewSVMSigner(base58Key string, opts ...SVMOption) (*SVMSigner, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("chainsigner: invalid SVM private key: %w", err)
	}
	s := &SVMSigner{
		privateKey: key,
		publicKey:  key.PublicKey(),
		mints:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the signer's base58 public key.
func (s *SVMSigner) Address() string {
	return s.publicKey.String()
}

// Sign scans raw's "accepts" array for a solana entry whose asset (mint)
// this signer is configured for, and returns a signed v1-shaped payload
// carrying the partially signed transaction.
func (s *SVMSigner) Sign(raw map[string]any) (any, error) {
	accepts, _ := raw["accepts"].([]any)
	for _, a := range accepts {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		network, _ := m["network"].(string)
		if !strings.HasPrefix(network, "solana:") {
			continue
		}
		asset, _ := m["asset"].(string)
		if !s.mints[strings.ToLower(asset)] {
			continue
		}
		return s.signAccept(network, m)
	}
	return nil, fmt.Errorf("chainsigner: no solana accept with a known mint")
}

func (s *SVMSigner) signAccept(network string, m map[string]any) (any, error) {
	payTo, _ := m["payTo"].(string)
	asset, _ := m["asset"].(string)
	amountStr, _ := m["maxAmountRequired"].(string)
	if amountStr == "" {
		amountStr, _ = m["amount"].(string)
	}
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("chainsigner: unparsable accept amount %q", amountStr)
	}

	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return nil, fmt.Errorf("chainsigner: invalid mint address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(payTo)
	if err != nil {
		return nil, fmt.Errorf("chainsigner: invalid recipient address: %w", err)
	}

	txBase64, err := s.buildPartiallySignedTransfer(mint, recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("chainsigner: building transfer: %w", err)
	}

	return map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     network,
		"payload": map[string]any{
			"transaction": txBase64,
		},
	}, nil
}

func (s *SVMSigner) buildPartiallySignedTransfer(mint, recipient solana.PublicKey, amount uint64) (string, error) {
	sourceATA, _, err := solana.FindAssociatedTokenAddress(s.publicKey, mint)
	if err != nil {
		return "", fmt.Errorf("finding source ATA: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return "", fmt.Errorf("finding destination ATA: %w", err)
	}

	transferInstruction := solana.NewInstruction(
		solana.TokenProgramID,
		solana.AccountMetaSlice{
			solana.Meta(sourceATA).WRITE(),
			solana.Meta(destATA).WRITE(),
			solana.Meta(s.publicKey).SIGNER(),
		},
		transferInstructionData(amount),
	)

	tx, err := solana.NewTransaction([]solana.Instruction{transferInstruction}, solana.Hash{})
	if err != nil {
		return "", fmt.Errorf("creating transaction: %w", err)
	}

	privateKey := s.privateKey
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &privateKey
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshalling transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// transferInstructionData builds an SPL token-program Transfer instruction
// body: [3, amount (u64 little-endian)].
func transferInstructionData(amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = 3
	for i := 0; i < 8; i++ {
		data[1+i] = byte(amount >> (8 * i))
	}
	return data
}
