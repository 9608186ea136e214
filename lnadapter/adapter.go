// Package lnadapter implements the P-ln Adapter: detection, quoting, and
// paid delivery of Lightning Network payments against a 402 response
// carrying an L402/LSAT challenge.
package lnadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	x402pay "github.com/leventilo/boltzpay-sub000"
	"github.com/leventilo/boltzpay-sub000/money"
	"github.com/leventilo/boltzpay-sub000/wire/lnwire"
)

// Wallet pays a BOLT11 invoice and returns the preimage that proves payment.
type Wallet interface {
	PayInvoice(ctx context.Context, invoice string) (preimage string, err error)
}

// Adapter is the P-ln implementation of x402pay.Adapter. The invoice
// decoder is resolved lazily via decoderFactory, loaded once per adapter
// instance on first use, matching the source's deferred module loading for
// the Lightning decoder.
type Adapter struct {
	httpClient     *http.Client
	wallet         Wallet
	decoderFactory func() (lnwire.InvoiceDecoder, error)
	decoder        lnwire.InvoiceDecoder
	logger         *slog.Logger
}

// New builds a P-ln Adapter. wallet may be nil if the caller only intends
// to detect/quote; Execute requires it.
func New(wallet Wallet, decoderFactory func() (lnwire.InvoiceDecoder, error), opts ...Option) *Adapter {
	a := &Adapter{
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		wallet:         wallet,
		decoderFactory: decoderFactory,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// Name identifies this protocol family for diagnostics and PaymentRecord tagging.
func (a *Adapter) Name() string { return "l402" }

func (a *Adapter) invoiceDecoder() (lnwire.InvoiceDecoder, error) {
	if a.decoder != nil {
		return a.decoder, nil
	}
	d, err := a.decoderFactory()
	if err != nil {
		return nil, err
	}
	a.decoder = d
	return d, nil
}

func (a *Adapter) do(ctx context.Context, timeout time.Duration, method, url string, headers http.Header, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, x402pay.NewError(x402pay.KindEndpointUnreachable, "building request", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, x402pay.NewError(x402pay.KindNetworkTimeout, fmt.Sprintf("%s %s timed out after %s", method, url, timeout), err)
		}
		return nil, x402pay.NewError(x402pay.KindEndpointUnreachable, fmt.Sprintf("%s %s unreachable", method, url), err)
	}
	return resp, nil
}

// Detect reports whether url demands Lightning payment.
func (a *Adapter) Detect(ctx context.Context, url string, headers http.Header) (bool, error) {
	resp, err := a.do(ctx, 10*time.Second, http.MethodGet, url, headers, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		return false, nil
	}
	return lnwire.Matches(resp.Header.Get("www-authenticate")), nil
}

// Quote re-requests url, decodes the challenge's invoice amount, and
// returns a SATS quote on the synthetic "lightning" network label.
func (a *Adapter) Quote(ctx context.Context, url string, headers http.Header) (x402pay.ProtocolQuote, error) {
	resp, err := a.do(ctx, 15*time.Second, http.MethodGet, url, headers, nil)
	if err != nil {
		return x402pay.ProtocolQuote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		return x402pay.ProtocolQuote{}, x402pay.NewError(x402pay.KindLnQuoteFailed, fmt.Sprintf("expected 402, got %d", resp.StatusCode), nil)
	}
	return a.quoteFromChallenge(resp.Header.Get("www-authenticate"))
}

// QuoteFromResponse parses an already-obtained 402 response with no network access.
func (a *Adapter) QuoteFromResponse(resp *http.Response) (x402pay.ProtocolQuote, bool) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return x402pay.ProtocolQuote{}, false
	}
	quote, err := a.quoteFromChallenge(resp.Header.Get("www-authenticate"))
	if err != nil {
		return x402pay.ProtocolQuote{}, false
	}
	return quote, true
}

func (a *Adapter) quoteFromChallenge(value string) (x402pay.ProtocolQuote, error) {
	challenge, err := lnwire.Parse(value)
	if err != nil {
		return x402pay.ProtocolQuote{}, x402pay.NewError(x402pay.KindLnQuoteFailed, "parsing challenge", err)
	}
	decoder, err := a.invoiceDecoder()
	if err != nil {
		return x402pay.ProtocolQuote{}, x402pay.NewError(x402pay.KindLnQuoteFailed, "loading invoice decoder", err)
	}
	sats, err := lnwire.DecodeAmountSats(decoder, challenge.Invoice)
	if err != nil {
		return x402pay.ProtocolQuote{}, x402pay.NewError(x402pay.KindLnQuoteFailed, "decoding invoice amount", err)
	}
	return x402pay.ProtocolQuote{
		Amount:   money.FromSatoshis(sats),
		Protocol: a.Name(),
		Network:  "lightning",
	}, nil
}

// Execute pays the invoice via wallet and retries with the proof attached.
func (a *Adapter) Execute(ctx context.Context, req x402pay.FetchRequest, quote x402pay.ProtocolQuote) (x402pay.ProtocolResult, error) {
	if a.wallet == nil {
		return x402pay.ProtocolResult{}, x402pay.NewError(x402pay.KindCredentialsMissing, "no Lightning wallet configured", nil)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	first, err := a.do(ctx, 15*time.Second, method, req.URL, req.Headers, req.Body)
	if err != nil {
		return x402pay.ProtocolResult{}, err
	}
	if first.StatusCode != http.StatusPaymentRequired {
		return buildResult(first)
	}
	challengeValue := first.Header.Get("www-authenticate")
	first.Body.Close()

	challenge, err := lnwire.Parse(challengeValue)
	if err != nil {
		return x402pay.ProtocolResult{}, x402pay.NewError(x402pay.KindLnPaymentFailed, "parsing challenge", err)
	}

	payCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	preimage, err := a.wallet.PayInvoice(payCtx, challenge.Invoice)
	cancel()
	if err != nil {
		return x402pay.ProtocolResult{}, x402pay.NewError(x402pay.KindLnPaymentFailed, "paying invoice", err)
	}

	retryMethod := method
	headers := cloneHeaders(req.Headers)
	body := req.Body

	switch challenge.Dialect {
	case lnwire.DialectStandard:
		headers.Set("Authorization", fmt.Sprintf("%s %s:%s", challenge.Prefix, challenge.Macaroon, preimage))
	case lnwire.DialectInvoiceOnly:
		if retryMethod == http.MethodGet {
			retryMethod = http.MethodPost
		}
		headers.Set("Content-Type", "application/json")
		body = injectPaymentHash(req.Body, challenge.PaymentHash)
	}

	retry, err := a.do(ctx, 15*time.Second, retryMethod, req.URL, headers, body)
	if err != nil {
		return x402pay.ProtocolResult{}, err
	}
	return buildResult(retry)
}

func cloneHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h)+1)
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// injectPaymentHash sets "payment_hash" on the original JSON body object,
// or builds a fresh {"payment_hash": "..."} body when the original is
// empty or not a JSON object.
func injectPaymentHash(original []byte, hash string) []byte {
	obj := make(map[string]any)
	if len(original) > 0 {
		_ = json.Unmarshal(original, &obj)
	}
	obj["payment_hash"] = hash
	data, err := json.Marshal(obj)
	if err != nil {
		return []byte(fmt.Sprintf(`{"payment_hash":"%s"}`, hash))
	}
	return data
}

func buildResult(resp *http.Response) (x402pay.ProtocolResult, error) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return x402pay.ProtocolResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}
