package wallet

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

)

// LocalHDProvisioner derives a deterministic account address from a BIP-39
// mnemonic using BIP-32 HD derivation for EVM, and raw Ed25519 derivation
// for SVM. It never signs — it exists purely to provision a payable
// address; a chainadapter.Signer or lnadapter.Wallet handles authorization
// separately and independently of this provisioner.
type LocalHDProvisioner struct {
	namespace Namespace
	seed      []byte
}

// NewLocalHDProvisioner derives seed material from mnemonic (and an
// optional BIP-39 passphrase) for the given namespace. Pass an empty
// mnemonic to have one generated and returned.
func NewLocalHDProvisioner(namespace Namespace, mnemonic, passphrase string) (*LocalHDProvisioner, string, error) {
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, "", fmt.Errorf("wallet: generating entropy: %w", err)
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, "", fmt.Errorf("wallet: deriving mnemonic: %w", err)
		}
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, "", fmt.Errorf("wallet: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return &LocalHDProvisioner{namespace: namespace, seed: seed}, mnemonic, nil
}

// Provision derives the account address for network from the root seed.
// Calling it twice for the same provisioner yields the same address —
// Manager's single-flight cache means this only happens in tests.
func (p *LocalHDProvisioner) Provision(ctx context.Context, network string) (Account, error) {
	switch p.namespace {
	case NamespaceEVM:
		return p.provisionEVM(network)
	case NamespaceSVM:
		return p.provisionSVM(network)
	default:
		return Account{}, fmt.Errorf("wallet: unsupported namespace %q", p.namespace)
	}
}

// provisionEVM derives m/44'/60'/0'/0/0 and returns its checksummed address.
func (p *LocalHDProvisioner) provisionEVM(network string) (Account, error) {
	master, err := bip32.NewMasterKey(p.seed)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: deriving master key: %w", err)
	}
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild + 0,
		0,
		0,
	}
	key := master
	for _, idx := range path {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return Account{}, fmt.Errorf("wallet: deriving child key: %w", err)
		}
	}
	privKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: parsing derived key: %w", err)
	}
	address := crypto.PubkeyToAddress(privKey.PublicKey)
	return Account{
		ID:      fmt.Sprintf("local/evm/%s", address.Hex()),
		Address: address.Hex(),
		Network: network,
	}, nil
}

// provisionSVM derives an Ed25519 keypair directly from the BIP-39 seed's
// first 32 bytes (Solana has no standardised BIP-32 path for this core).
func (p *LocalHDProvisioner) provisionSVM(network string) (Account, error) {
	if len(p.seed) < ed25519.SeedSize {
		return Account{}, fmt.Errorf("wallet: seed too short for Ed25519 derivation")
	}
	edKey := ed25519.NewKeyFromSeed(p.seed[:ed25519.SeedSize])
	priv := solana.PrivateKey(edKey)
	pub := priv.PublicKey()
	return Account{
		ID:      fmt.Sprintf("local/svm/%s", pub.String()),
		Address: pub.String(),
		Network: network,
	}, nil
}

// GenerateMnemonic is a convenience wrapper for obtaining fresh BIP-39
// entropy without immediately constructing a provisioner, used by wallet
// bootstrap CLIs.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}
