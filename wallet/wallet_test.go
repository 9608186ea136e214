package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leventilo/boltzpay-sub000/money"
)

type countingProvisioner struct {
	calls int32
}

func (p *countingProvisioner) Provision(ctx context.Context, network string) (Account, error) {
	atomic.AddInt32(&p.calls, 1)
	return Account{ID: "acct-1", Address: "0xabc", Network: network}, nil
}

type failingProvisioner struct{}

func (failingProvisioner) Provision(ctx context.Context, network string) (Account, error) {
	return Account{}, errors.New("boom")
}

type fakeBalanceSource struct {
	atomic int64
	err    error
}

func (f fakeBalanceSource) AtomicBalance(ctx context.Context, account Account, network string) (int64, error) {
	return f.atomic, f.err
}

func TestGetOrProvisionAccountSingleFlight(t *testing.T) {
	m := NewManager()
	p := &countingProvisioner{}
	m.Register(NamespaceEVM, p, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetOrProvisionAccount(context.Background(), NamespaceEVM, "base")
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&p.calls) != 1 {
		t.Errorf("expected exactly 1 provisioning call, got %d", p.calls)
	}
}

func TestGetOrProvisionAccountMissingFamily(t *testing.T) {
	m := NewManager()
	_, err := m.GetOrProvisionAccount(context.Background(), NamespaceSVM, "solana")
	if err == nil {
		t.Fatal("expected error for unregistered namespace")
	}
}

func TestProvisioningFailureWrapsKind(t *testing.T) {
	m := NewManager()
	m.Register(NamespaceEVM, failingProvisioner{}, nil)
	_, err := m.GetOrProvisionAccount(context.Background(), NamespaceEVM, "base")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Errorf("expected ErrProvisioningFailed, got %v", err)
	}
}

func TestBalancesDegradeOnFailure(t *testing.T) {
	m := NewManager()
	p := &countingProvisioner{}
	m.Register(NamespaceEVM, p, fakeBalanceSource{err: errors.New("rpc down")})
	if _, err := m.GetOrProvisionAccount(context.Background(), NamespaceEVM, "eip155:8453"); err != nil {
		t.Fatal(err)
	}

	balances := m.Balances(context.Background(), "eip155:8453", nil)
	b := balances[NamespaceEVM]
	if b.Known {
		t.Fatalf("expected unknown balance on source failure, got %+v", b)
	}
}

func TestBalancesUnknownOnUnlistedNetwork(t *testing.T) {
	m := NewManager()
	p := &countingProvisioner{}
	m.Register(NamespaceEVM, p, fakeBalanceSource{atomic: 1500000})
	if _, err := m.GetOrProvisionAccount(context.Background(), NamespaceEVM, "eip155:999999"); err != nil {
		t.Fatal(err)
	}

	balances := m.Balances(context.Background(), "eip155:999999", nil)
	b := balances[NamespaceEVM]
	if b.Known {
		t.Fatalf("expected unknown balance on an unlisted network, got %+v", b)
	}
}

func TestBalancesKnownSVMNetworkUsesMintTable(t *testing.T) {
	m := NewManager()
	p := &countingProvisioner{}
	m.Register(NamespaceSVM, p, fakeBalanceSource{atomic: 2500000})
	const mainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d"
	if _, err := m.GetOrProvisionAccount(context.Background(), NamespaceSVM, mainnet); err != nil {
		t.Fatal(err)
	}

	balances := m.Balances(context.Background(), mainnet, nil)
	b := balances[NamespaceSVM]
	if !b.Known || !b.USD.Equals(money.FromCents(250)) {
		t.Errorf("unexpected balance %+v", b)
	}
}

func TestBalancesUnknownWithoutAccount(t *testing.T) {
	m := NewManager()
	m.Register(NamespaceEVM, &countingProvisioner{}, fakeBalanceSource{atomic: 1000000})
	balances := m.Balances(context.Background(), "base", nil)
	if balances[NamespaceEVM].Known {
		t.Fatal("expected unknown balance before provisioning")
	}
}

func TestBalancesConvertsAtomicToUSD(t *testing.T) {
	m := NewManager()
	p := &countingProvisioner{}
	m.Register(NamespaceEVM, p, fakeBalanceSource{atomic: 1500000})
	if _, err := m.GetOrProvisionAccount(context.Background(), NamespaceEVM, "eip155:8453"); err != nil {
		t.Fatal(err)
	}

	balances := m.Balances(context.Background(), "eip155:8453", nil)
	b := balances[NamespaceEVM]
	if !b.Known || !b.USD.Equals(money.FromCents(150)) {
		t.Errorf("unexpected balance %+v", b)
	}
}
