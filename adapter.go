package x402pay

import (
	"context"
	"net/http"
)

// Adapter is the protocol-specific contract each payment family (P-chain,
// P-ln) implements. The Router dispatches across a slice of Adapters in
// registration order; it never assumes which concrete family it holds.
type Adapter interface {
	// Name identifies the protocol family for diagnostics and PaymentRecord tagging.
	Name() string

	// Detect probes url to see whether it demands payment under this
	// protocol. A non-nil error indicates a reachability problem, not
	// "this endpoint is free" — callers must distinguish (false, nil)
	// from (false, err).
	Detect(ctx context.Context, url string, headers http.Header) (bool, error)

	// Quote re-requests url and parses its payment requirement into a
	// normalised ProtocolQuote.
	Quote(ctx context.Context, url string, headers http.Header) (ProtocolQuote, error)

	// QuoteFromResponse parses an already-obtained 402 response with no
	// further network access. It returns (quote, true) on success and
	// (zero, false) — never an error — when the response carries nothing
	// this Adapter recognises.
	QuoteFromResponse(resp *http.Response) (ProtocolQuote, bool)

	// Execute carries out the full request/pay/retry cycle for req,
	// using quote as the negotiated amount and channel.
	Execute(ctx context.Context, req FetchRequest, quote ProtocolQuote) (ProtocolResult, error)
}
