package x402pay

import (
	"testing"

	"github.com/leventilo/boltzpay-sub000/money"
)

func multiAcceptQuote() ProtocolQuote {
	return ProtocolQuote{
		Protocol: "x402",
		AllAccepts: []AcceptOption{
			{Namespace: NamespaceEVM, Network: "eip155:8453", Amount: money.FromCents(200), PayTo: "0xevm"},
			{Namespace: NamespaceSVM, Network: "solana:mainnet", Amount: money.FromCents(100), PayTo: "svmaddr"},
		},
	}
}

func TestSelectChainNoPreferencePicksCheapest(t *testing.T) {
	quote, err := SelectChain(multiAcceptQuote(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Network != "solana:mainnet" {
		t.Errorf("expected the cheaper svm accept to win, got network %q", quote.Network)
	}
}

func TestSelectChainConfiguredPreferenceWins(t *testing.T) {
	quote, err := SelectChain(multiAcceptQuote(), nil, []Namespace{NamespaceEVM})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Network != "eip155:8453" {
		t.Errorf("expected the configured evm preference to win even though svm is cheaper, got network %q", quote.Network)
	}
}

func TestSelectChainPerRequestOverridesConfigured(t *testing.T) {
	evm := NamespaceEVM
	quote, err := SelectChain(multiAcceptQuote(), &evm, []Namespace{NamespaceSVM})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Network != "eip155:8453" {
		t.Errorf("expected the per-request namespace to win, got network %q", quote.Network)
	}
}

func TestSelectChainPerRequestMismatchErrors(t *testing.T) {
	evm := Namespace("bogus")
	_, err := SelectChain(multiAcceptQuote(), &evm, nil)
	if err == nil {
		t.Fatal("expected an error when no accept matches the requested namespace")
	}
	if kind, _ := KindOf(err); kind != KindNoCompatibleChain {
		t.Errorf("kind = %v, want %v", kind, KindNoCompatibleChain)
	}
}

func TestSelectChainEVMTiebreakOnEqualAmount(t *testing.T) {
	quote := ProtocolQuote{
		Protocol: "x402",
		AllAccepts: []AcceptOption{
			{Namespace: NamespaceSVM, Network: "solana:mainnet", Amount: money.FromCents(150), PayTo: "svmaddr"},
			{Namespace: NamespaceEVM, Network: "eip155:8453", Amount: money.FromCents(150), PayTo: "0xevm"},
		},
	}
	got, err := SelectChain(quote, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Network != "eip155:8453" {
		t.Errorf("expected evm to win the tiebreak on equal amounts, got network %q", got.Network)
	}
}

func TestSelectChainSingleAcceptUnchanged(t *testing.T) {
	quote := ProtocolQuote{Protocol: "x402", Network: "eip155:8453", Amount: money.FromCents(50)}
	got, err := SelectChain(quote, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Network != "eip155:8453" || !got.Amount.Equals(quote.Amount) {
		t.Errorf("expected the single-accept quote to pass through unchanged, got %+v", got)
	}
}

func TestSelectChainSingleAcceptPerRequestMismatch(t *testing.T) {
	svm := NamespaceSVM
	quote := ProtocolQuote{Protocol: "x402", Network: "eip155:8453", Amount: money.FromCents(50)}
	_, err := SelectChain(quote, &svm, nil)
	if err == nil {
		t.Fatal("expected an error for a single-accept quote whose namespace doesn't match the request")
	}
}
