package x402pay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leventilo/boltzpay-sub000/money"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

// fakeAdapter is a minimal Adapter double for exercising the Orchestrator
// without any real wire protocol.
type fakeAdapter struct {
	name        string
	detected    bool
	detectErr   error
	quote       ProtocolQuote
	quoteErr    error
	execResult  ProtocolResult
	execErr     error
	executeCalls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Detect(ctx context.Context, url string, headers http.Header) (bool, error) {
	return f.detected, f.detectErr
}

func (f *fakeAdapter) Quote(ctx context.Context, url string, headers http.Header) (ProtocolQuote, error) {
	return f.quote, f.quoteErr
}

func (f *fakeAdapter) QuoteFromResponse(resp *http.Response) (ProtocolQuote, bool) {
	return ProtocolQuote{}, false
}

func (f *fakeAdapter) Execute(ctx context.Context, req FetchRequest, quote ProtocolQuote) (ProtocolResult, error) {
	f.executeCalls++
	return f.execResult, f.execErr
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestFetchHappyPath(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "x402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(50), Protocol: "x402", Network: "eip155:8453"},
		execResult: ProtocolResult{
			Success:    true,
			StatusCode: 200,
			Headers:    http.Header{},
			Body:       []byte(`{"ok":true}`),
			TxHash:     "0xabc",
			Network:    "eip155:8453",
		},
	}

	var gotEvents []EventType
	client, err := NewClient(testConfig(t),
		WithRouter(NewRouter(adapter)),
		WithEventCallback(func(ev Event) { gotEvents = append(gotEvents, ev.Type) }),
	)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Fetch(context.Background(), FetchRequest{URL: "https://example.test/resource"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Paid || resp.TxHash != "0xabc" {
		t.Errorf("unexpected response %+v", resp)
	}
	if adapter.executeCalls != 1 {
		t.Errorf("expected exactly 1 Execute call, got %d", adapter.executeCalls)
	}

	found := false
	for _, e := range gotEvents {
		if e == EventPayment {
			found = true
		}
	}
	if !found {
		t.Error("expected a payment event")
	}

	if len(client.History()) != 1 {
		t.Errorf("expected 1 history record, got %d", len(client.History()))
	}
}

func TestFetchNoAdapterDetectsFallsBackToPlainResponse(t *testing.T) {
	adapter := &fakeAdapter{name: "x402", detected: false}

	srv := newTestServer(t, http.StatusOK, "hello")
	defer srv.Close()

	client, err := NewClient(testConfig(t), WithRouter(NewRouter(adapter)))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Fetch(context.Background(), FetchRequest{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Paid {
		t.Error("expected an unpaid passthrough response")
	}
	if resp.Text() != "hello" {
		t.Errorf("unexpected body %q", resp.Text())
	}
}

func TestFetchPerTransactionLimitExceeded(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "x402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(10000), Protocol: "x402", Network: "eip155:8453"},
	}

	cfg, err := NewConfig(WithPerTransactionLimit("1.00"))
	if err != nil {
		t.Fatal(err)
	}
	client, err := NewClient(cfg, WithRouter(NewRouter(adapter)))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Fetch(context.Background(), FetchRequest{URL: "https://example.test/resource"})
	if err == nil {
		t.Fatal("expected budget error")
	}
	if kind, _ := KindOf(err); kind != KindPerTransactionExceeded {
		t.Errorf("kind = %v", kind)
	}
	if adapter.executeCalls != 0 {
		t.Errorf("expected Execute never called, got %d calls", adapter.executeCalls)
	}
}

func TestFetchFirstAdapterBudgetExceededStopsAll(t *testing.T) {
	first := &fakeAdapter{
		name:     "x402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(10000), Protocol: "x402", Network: "eip155:8453"},
	}
	second := &fakeAdapter{
		name:     "l402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(1), Protocol: "l402", Network: "lightning"},
	}

	cfg, err := NewConfig(WithPerTransactionLimit("1.00"))
	if err != nil {
		t.Fatal(err)
	}
	client, err := NewClient(cfg, WithRouter(NewRouter(first, second)))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Fetch(context.Background(), FetchRequest{URL: "https://example.test/resource"})
	if err == nil {
		t.Fatal("expected budget error")
	}
	if second.executeCalls != 0 {
		t.Errorf("expected second adapter never attempted, got %d calls", second.executeCalls)
	}
}

func TestFetchFallsBackToNextAdapterOnNonBudgetFailure(t *testing.T) {
	first := &fakeAdapter{
		name:     "x402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(50), Protocol: "x402", Network: "eip155:8453"},
		execResult: ProtocolResult{Success: false, StatusCode: 400},
	}
	second := &fakeAdapter{
		name:     "l402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(1), Protocol: "l402", Network: "lightning"},
		execResult: ProtocolResult{Success: true, StatusCode: 200, Headers: http.Header{}, TxHash: "preimage"},
	}

	client, err := NewClient(testConfig(t), WithRouter(NewRouter(first, second)))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Fetch(context.Background(), FetchRequest{URL: "https://example.test/resource"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Paid || resp.Protocol != "l402" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestFetchAllAdaptersFailAggregates(t *testing.T) {
	first := &fakeAdapter{
		name:     "x402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(50), Protocol: "x402", Network: "eip155:8453"},
		execResult: ProtocolResult{Success: false, StatusCode: 404},
	}
	second := &fakeAdapter{
		name:     "l402",
		detected: true,
		quote:    ProtocolQuote{Amount: money.FromCents(1), Protocol: "l402", Network: "lightning"},
		execResult: ProtocolResult{Success: false, StatusCode: 500},
	}

	client, err := NewClient(testConfig(t), WithRouter(NewRouter(first, second)))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Fetch(context.Background(), FetchRequest{URL: "https://example.test/resource"})
	if err == nil {
		t.Fatal("expected aggregate payment-failed error")
	}
	if kind, _ := KindOf(err); kind != KindPaymentFailed {
		t.Errorf("kind = %v", kind)
	}
}
