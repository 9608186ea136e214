// Package chainsigner provides chainadapter.Signer implementations backed
// by real keys: an EIP-3009 transferWithAuthorization signer for EVM chains
// and an SPL-token partial-transaction signer for Solana. Each scans the
// raw negotiation object's "accepts" array for an entry it can satisfy and
// signs only that one.
package chainsigner

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EVMSigner signs EIP-3009 transferWithAuthorization payloads for a single
// EVM key across every network and token it is configured for.
type EVMSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	tokenNames map[string]tokenMeta // asset address (lowercased) -> EIP-712 domain name/version
}

type tokenMeta struct {
	name    string
	version string
}

// EVMOption configures an EVMSigner.
type EVMOption func(*EVMSigner)

// WithToken registers the EIP-712 domain name/version a token contract
// expects, keyed by its address. USDC contracts across EVM chains use
// name "USD Coin", version "2".
func WithToken(address, name, version string) EVMOption {
	return func(s *EVMSigner) {
		s.tokenNames[strings.ToLower(address)] = tokenMeta{name: name, version: version}
	}
}

// NewEVMSigner builds an EVMSigner from a hex-encoded private key (with or
// without a 0x prefix).
func NewEVMSigner(hexKey string, opts ...EVMOption) (*EVMSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chainsigner: invalid EVM private key: %w", err)
	}
	s := &EVMSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		tokenNames: make(map[string]tokenMeta),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the signer's Ethereum address.
func (s *EVMSigner) Address() common.Address {
	return s.address
}

// Sign scans raw's "accepts" array for an eip155 entry whose asset this
// signer knows the EIP-712 domain for, and returns a signed v1-shaped
// payment payload for it.
func (s *EVMSigner) Sign(raw map[string]any) (any, error) {
	accepts, _ := raw["accepts"].([]any)
	for _, a := range accepts {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		network, _ := m["network"].(string)
		if !strings.HasPrefix(network, "eip155:") {
			continue
		}
		asset, _ := m["asset"].(string)
		meta, known := s.tokenNames[strings.ToLower(asset)]
		if !known {
			continue
		}
		return s.signAccept(network, m, meta)
	}
	return nil, fmt.Errorf("chainsigner: no eip155 accept with a known token domain")
}

func (s *EVMSigner) signAccept(network string, m map[string]any, meta tokenMeta) (any, error) {
	payTo, _ := m["payTo"].(string)
	asset, _ := m["asset"].(string)
	amountStr, _ := m["maxAmountRequired"].(string)
	if amountStr == "" {
		amountStr, _ = m["amount"].(string)
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, fmt.Errorf("chainsigner: unparsable accept amount %q", amountStr)
	}
	if !validEVMAddress(payTo) {
		return nil, fmt.Errorf("chainsigner: malformed payTo address %q", payTo)
	}
	timeoutSeconds := 120
	if tf, ok := m["maxTimeoutSeconds"].(float64); ok && tf > 0 {
		timeoutSeconds = int(tf)
	}
	chainID := chainIDFromCAIP(network)

	auth, err := createAuthorization(s.address, common.HexToAddress(payTo), amount, timeoutSeconds)
	if err != nil {
		return nil, err
	}
	signature, err := signTransferAuthorization(s.privateKey, common.HexToAddress(asset), chainID, auth, meta.name, meta.version)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     network,
		"payload": map[string]any{
			"signature": signature,
			"authorization": map[string]any{
				"from":        auth.From.Hex(),
				"to":          auth.To.Hex(),
				"value":       auth.Value.String(),
				"validAfter":  auth.ValidAfter.String(),
				"validBefore": auth.ValidBefore.String(),
				"nonce":       auth.Nonce.Hex(),
			},
		},
	}, nil
}

func chainIDFromCAIP(network string) *big.Int {
	_, id, found := strings.Cut(network, ":")
	if !found {
		return big.NewInt(0)
	}
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return big.NewInt(0)
	}
	return n
}

type eip3009Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

func createAuthorization(from, to common.Address, value *big.Int, timeoutSeconds int) (*eip3009Authorization, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("chainsigner: generating nonce: %w", err)
	}
	now := time.Now().Unix()
	return &eip3009Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(now - 10),
		ValidBefore: big.NewInt(now + int64(timeoutSeconds)),
		Nonce:       nonce,
	}, nil
}

// signTransferAuthorization signs an EIP-3009 transferWithAuthorization
// via EIP-712, using name/version from the token's on-chain domain.
func signTransferAuthorization(privateKey *ecdsa.PrivateKey, tokenAddress common.Address, chainID *big.Int, auth *eip3009Authorization, name, version string) (string, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: tokenAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       auth.Nonce.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("chainsigner: hashing domain: %w", err)
	}
	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return "", fmt.Errorf("chainsigner: hashing message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	digest := crypto.Keccak256(rawData)

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("chainsigner: signing authorization: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

func generateNonce() (common.Hash, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}
