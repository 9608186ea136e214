// Package wallet provisions and queries the chain-family wallets the
// payment engine pays from: one EVM account and one SVM account, each
// provisioned at most once per process regardless of how many goroutines
// request it concurrently.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/leventilo/boltzpay-sub000/money"
	"github.com/leventilo/boltzpay-sub000/retry"
)

// Namespace identifies a blockchain virtual machine family. It mirrors the
// root package's Namespace by value so this package carries no dependency
// on it; callers convert at the boundary.
type Namespace string

const (
	NamespaceEVM Namespace = "evm"
	NamespaceSVM Namespace = "svm"
)

// ErrNoProvisioner is returned by GetOrProvisionAccount when no Provisioner
// was registered for the requested namespace.
var ErrNoProvisioner = errors.New("wallet: no provisioner registered for namespace")

// ErrProvisioningFailed wraps any non-nil error a Provisioner returns.
// Callers (the root package's Fetch Orchestrator) translate this into the
// engine's provisioning-failed Kind at the boundary.
var ErrProvisioningFailed = errors.New("wallet: provisioning failed")

// Account is a provisioned on-chain account, opaque beyond its address and
// the network it lives on.
type Account struct {
	ID      string
	Address string
	Network string
}

// Provisioner creates a fresh account for network. Implementations range
// from a hosted-custody REST backend to local HD-wallet derivation; this
// package only guarantees that, once a call succeeds, it is not called
// again for that family regardless of caller concurrency; a failed call
// caches nothing, so the next request provisions again.
type Provisioner interface {
	Provision(ctx context.Context, network string) (Account, error)
}

// BalanceSource looks up an account's USDC-equivalent balance, in atomic
// units, on network. A returned error degrades to an unknown balance and
// must never propagate to callers of Manager.Balances.
type BalanceSource interface {
	AtomicBalance(ctx context.Context, account Account, network string) (atomic int64, err error)
}

// Balance is a queried balance, or "unknown" when the data source failed.
type Balance struct {
	Network string
	Known   bool
	USD     money.Money
}

// family holds one chain family's single-flight provisioning state.
type family struct {
	mu          sync.Mutex
	provisioner Provisioner
	source      BalanceSource
	account     *Account
}

// Manager owns one family per supported Namespace.
type Manager struct {
	families map[Namespace]*family
	retry    retry.Config
}

// NewManager builds a Manager with no families registered; call Register
// for each chain family the client is configured to use.
func NewManager() *Manager {
	return &Manager{
		families: make(map[Namespace]*family),
		retry:    retry.DefaultConfig,
	}
}

// Register wires a Provisioner and BalanceSource for ns. Calling Register
// twice for the same namespace replaces the prior wiring and discards any
// cached account.
func (m *Manager) Register(ns Namespace, provisioner Provisioner, source BalanceSource) {
	m.families[ns] = &family{provisioner: provisioner, source: source}
}

// GetOrProvisionAccount returns the cached account for ns, provisioning it
// on first use. Concurrent callers on a fresh Manager all block on the
// same mutex and observe exactly one Provision call.
func (m *Manager) GetOrProvisionAccount(ctx context.Context, ns Namespace, network string) (Account, error) {
	f, ok := m.families[ns]
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrNoProvisioner, ns)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.account != nil {
		return *f.account, nil
	}

	account, err := f.provisioner.Provision(ctx, network)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
	f.account = &account
	return account, nil
}

// Balances queries every registered family's balance on network,
// with each known amount passed through convert. A family with no cached
// account, or whose query fails, yields an unknown Balance rather than an
// error.
func (m *Manager) Balances(ctx context.Context, network string, convert func(money.Money) money.Money) map[Namespace]Balance {
	out := make(map[Namespace]Balance, len(m.families))
	for ns, f := range m.families {
		out[ns] = m.balanceFor(ctx, ns, f, network, convert)
	}
	return out
}

func (m *Manager) balanceFor(ctx context.Context, ns Namespace, f *family, network string, convert func(money.Money) money.Money) Balance {
	f.mu.Lock()
	account := f.account
	f.mu.Unlock()
	if account == nil || f.source == nil {
		return Balance{Network: network, Known: false}
	}
	if !hasKnownUSDCAsset(ns, network) {
		return Balance{Network: network, Known: false}
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	atomic, err := retry.WithSimpleRetry(ctx, func() (int64, error) {
		return f.source.AtomicBalance(ctx, *account, network)
	}, func(error) bool { return true })
	if err != nil {
		return Balance{Network: network, Known: false}
	}

	usd := money.CeilDivCents(big.NewInt(atomic), 10000)
	if convert != nil {
		usd = convert(usd)
	}
	return Balance{Network: network, Known: true, USD: usd}
}

// KnownUSDCContracts maps EVM CAIP-style network ids to their USDC
// contract address. Unlisted networks have no known contract, and a
// balance query against one always degrades to unknown.
var KnownUSDCContracts = map[string]string{
	"eip155:8453":  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"eip155:84532": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	"eip155:137":   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	"eip155:43114": "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
}

// KnownUSDCMints maps Solana CAIP-style network ids to their USDC mint address.
var KnownUSDCMints = map[string]string{
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1": "4zMMC9srt5Ri5X14GAgXhaHii3GnmMgK5amQSH13F7wv",
}

// hasKnownUSDCAsset reports whether ns has a known USDC contract/mint on
// network. A balance query against an unlisted network always degrades to
// unknown rather than guessing at an asset address.
func hasKnownUSDCAsset(ns Namespace, network string) bool {
	switch ns {
	case NamespaceEVM:
		_, ok := KnownUSDCContracts[network]
		return ok
	case NamespaceSVM:
		_, ok := KnownUSDCMints[network]
		return ok
	default:
		return false
	}
}
