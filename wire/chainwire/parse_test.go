package chainwire

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

func response402(header http.Header, body string) *http.Response {
	return &http.Response{
		StatusCode: 402,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func b64JSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestParseV2Header(t *testing.T) {
	header := b64JSON(t, map[string]any{
		"x402Version": 2,
		"accepts": []any{
			map[string]any{
				"scheme":  "exact",
				"network": "eip155:84532",
				"amount":  "10000",
				"asset":   "0xusdc",
				"payTo":   "0xabc",
			},
		},
	})
	h := http.Header{}
	h.Set("payment-required", header)
	resp := response402(h, "")

	n, ok := Parse(resp)
	if !ok {
		t.Fatal("expected negotiation")
	}
	if n.Version != 2 || n.HeaderName != HeaderV2 || n.Transport != TransportHeader {
		t.Fatalf("unexpected negotiation %+v", n)
	}
	accept, ok := n.PrimaryAccept()
	if !ok {
		t.Fatal("expected primary accept")
	}
	if !accept.Amount.Equals(accept.Amount) {
		t.Fatal("sanity")
	}
	if got := accept.Amount.String(); got != "$0.01" {
		t.Errorf("amount = %s, want $0.01", got)
	}
	if accept.Network != "eip155:84532" || accept.PayTo != "0xabc" {
		t.Errorf("unexpected accept %+v", accept)
	}
}

func TestParseV1InV2Header(t *testing.T) {
	header := b64JSON(t, map[string]any{
		"x402Version": 1,
		"accepts": []any{
			map[string]any{
				"scheme":            "exact",
				"network":           "eip155:8453",
				"maxAmountRequired": "550000",
				"asset":             "0xUSDC",
				"payTo":             "0xH",
			},
		},
	})
	h := http.Header{}
	h.Set("payment-required", header)
	resp := response402(h, "")

	n, ok := Parse(resp)
	if !ok {
		t.Fatal("expected negotiation")
	}
	if n.Version != 1 || n.HeaderName != HeaderV1 {
		t.Fatalf("unexpected negotiation %+v", n)
	}
	if raw, ok := n.Raw["accepts"].([]any); !ok || len(raw) != 1 {
		t.Fatalf("raw accepts not preserved verbatim: %+v", n.Raw)
	}
	accept, _ := n.PrimaryAccept()
	if got := accept.Amount.String(); got != "$0.55" {
		t.Errorf("amount = %s, want $0.55", got)
	}
}

func TestParseRealmHeader(t *testing.T) {
	h := http.Header{}
	h.Set("www-authenticate", `x402 address="0xabc", amount="0.01", chainId="8453"`)
	resp := response402(h, "")

	n, ok := Parse(resp)
	if !ok {
		t.Fatal("expected negotiation")
	}
	if n.Transport != TransportRealmHeader {
		t.Fatalf("expected realm-header transport, got %v", n.Transport)
	}
	accept, _ := n.PrimaryAccept()
	if accept.Network != "eip155:8453" || accept.Amount.String() != "$0.01" {
		t.Errorf("unexpected accept %+v", accept)
	}
}

func TestParseRealmHeaderDefaultChain(t *testing.T) {
	h := http.Header{}
	h.Set("www-authenticate", `x402 address="0xabc", amount="1"`)
	resp := response402(h, "")

	n, ok := Parse(resp)
	if !ok {
		t.Fatal("expected negotiation")
	}
	accept, _ := n.PrimaryAccept()
	if accept.Network != "eip155:8453" {
		t.Errorf("expected default chain eip155:8453, got %s", accept.Network)
	}
}

func TestParseRealmHeaderRejectsNegativeAmount(t *testing.T) {
	h := http.Header{}
	h.Set("www-authenticate", `x402 address="0xabc", amount="-1"`)
	resp := response402(h, "")

	if _, ok := Parse(resp); ok {
		t.Fatal("expected parse failure for negative amount")
	}
}

func TestParseBodyFallback(t *testing.T) {
	body, _ := json.Marshal(map[string]any{
		"x402Version": 1,
		"accepts": []any{
			map[string]any{
				"network": "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
				"payTo":   "Sol",
				"amount":  "300000",
			},
		},
	})
	resp := response402(http.Header{}, string(body))

	n, ok := Parse(resp)
	if !ok {
		t.Fatal("expected negotiation from body")
	}
	if n.Transport != TransportBody {
		t.Fatalf("expected body transport, got %v", n.Transport)
	}
	accept, _ := n.PrimaryAccept()
	if accept.Scheme != "exact" {
		t.Errorf("expected default scheme exact, got %q", accept.Scheme)
	}
}

func TestParseDropsUnknownNamespaceSilently(t *testing.T) {
	header := b64JSON(t, map[string]any{
		"x402Version": 2,
		"accepts": []any{
			map[string]any{
				"scheme":  "exact",
				"network": "cosmos:abc",
				"amount":  "10000",
				"asset":   "x",
				"payTo":   "y",
			},
		},
	})
	h := http.Header{}
	h.Set("payment-required", header)
	resp := response402(h, "")

	if _, ok := Parse(resp); ok {
		t.Fatal("expected no negotiation when the only accept has an unknown namespace")
	}
}

func TestParseEmptyAcceptsFails(t *testing.T) {
	header := b64JSON(t, map[string]any{"x402Version": 2, "accepts": []any{}})
	h := http.Header{}
	h.Set("payment-required", header)
	resp := response402(h, "")

	if _, ok := Parse(resp); ok {
		t.Fatal("expected failure for empty accepts")
	}
}
