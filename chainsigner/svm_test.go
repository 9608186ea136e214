package chainsigner

import "testing"

// DO NOT use in production.
const testPrivateKeyBase58 = "4Z7cXSyeFR8wNGMVXUE1TwtKn5D5Vu7FzEv69dokLv8KrQk7h2ByqYCKQBWUrbXdqeqSHXv2YvPRzYMNL8hFmjXu"

func TestNewSVMSignerParsesBase58Key(t *testing.T) {
	s, err := NewSVMSigner(testPrivateKeyBase58)
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() == "" {
		t.Fatal("expected non-empty address")
	}
}

func TestSVMSignerSignsMatchingAccept(t *testing.T) {
	const mint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	s, err := NewSVMSigner(testPrivateKeyBase58, WithMint(mint))
	if err != nil {
		t.Fatal(err)
	}

	raw := acceptsRaw(map[string]any{
		"scheme":  "exact",
		"network": "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
		"asset":   mint,
		"payTo":   s.Address(),
		"amount":  "5000",
	})

	signed, err := s.Sign(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := signed.(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload type %T", signed)
	}
	payload, ok := m["payload"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload shape %+v", m)
	}
	if tx, _ := payload["transaction"].(string); tx == "" {
		t.Error("expected a non-empty base64 transaction")
	}
}

func TestSVMSignerRejectsUnknownMint(t *testing.T) {
	s, err := NewSVMSigner(testPrivateKeyBase58)
	if err != nil {
		t.Fatal(err)
	}
	raw := acceptsRaw(map[string]any{
		"network": "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
		"asset":   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"payTo":   s.Address(),
		"amount":  "5000",
	})
	if _, err := s.Sign(raw); err == nil {
		t.Fatal("expected an error for an unregistered mint")
	}
}
