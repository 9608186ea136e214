// Package chainadapter implements the P-chain Adapter: detection, quoting,
// and paid delivery of EVM/SVM stablecoin payments against a 402 response.
package chainadapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	x402pay "github.com/leventilo/boltzpay-sub000"
	"github.com/leventilo/boltzpay-sub000/wire/chainwire"
)

// Signer produces a signed payment payload for a raw, unmodified
// payment-required object. Implementations decide for themselves which
// accept (if any) within raw["accepts"] they can satisfy; this package
// never renames or narrows the object before handing it to Sign.
type Signer interface {
	Sign(raw map[string]any) (any, error)
}

// Adapter is the P-chain implementation of x402pay.Adapter.
type Adapter struct {
	httpClient *http.Client
	signer     Signer
	logger     *slog.Logger
}

// New builds a P-chain Adapter. signer is dialed lazily: it is only
// invoked once a payment is actually attempted.
func New(signer Signer, opts ...Option) *Adapter {
	a := &Adapter{
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		signer: signer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithHTTPClient overrides the transport used for outbound requests. The
// supplied client's CheckRedirect is replaced to disable redirects.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		a.httpClient = c
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// Name identifies this protocol family for diagnostics and PaymentRecord tagging.
func (a *Adapter) Name() string { return "x402" }

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

// Detect reports whether url demands P-chain payment.
func (a *Adapter) Detect(ctx context.Context, url string, headers http.Header) (bool, error) {
	resp, err := a.do(ctx, 10*time.Second, http.MethodGet, url, headers, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		return false, nil
	}
	_, ok := chainwire.Parse(resp)
	return ok, nil
}

// Quote re-requests url and parses its payment requirement.
func (a *Adapter) Quote(ctx context.Context, url string, headers http.Header) (x402pay.ProtocolQuote, error) {
	resp, err := a.do(ctx, 15*time.Second, http.MethodGet, url, headers, nil)
	if err != nil {
		return x402pay.ProtocolQuote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		return x402pay.ProtocolQuote{}, x402pay.NewError(x402pay.KindChainQuoteFailed, fmt.Sprintf("expected 402, got %d", resp.StatusCode), nil)
	}
	quote, ok := a.quoteFromParsed(resp)
	if !ok {
		return x402pay.ProtocolQuote{}, x402pay.NewError(x402pay.KindChainQuoteFailed, "no usable payment requirement in response", nil)
	}
	return quote, nil
}

// QuoteFromResponse parses an already-obtained 402 response with no network access.
func (a *Adapter) QuoteFromResponse(resp *http.Response) (x402pay.ProtocolQuote, bool) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return x402pay.ProtocolQuote{}, false
	}
	return a.quoteFromParsed(resp)
}

func (a *Adapter) quoteFromParsed(resp *http.Response) (x402pay.ProtocolQuote, bool) {
	n, ok := chainwire.Parse(resp)
	if !ok {
		return x402pay.ProtocolQuote{}, false
	}
	primary, ok := n.PrimaryAccept()
	if !ok {
		return x402pay.ProtocolQuote{}, false
	}
	return x402pay.ProtocolQuote{
		Amount:     primary.Amount,
		Protocol:   a.Name(),
		Network:    primary.Network,
		PayTo:      primary.PayTo,
		AllAccepts: n.Accepts,
		InputHints: n.Hints,
	}, true
}

// Execute carries out the full request/pay/retry cycle for req.
func (a *Adapter) Execute(ctx context.Context, req x402pay.FetchRequest, quote x402pay.ProtocolQuote) (x402pay.ProtocolResult, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	first, err := a.do(ctx, 30*time.Second, method, req.URL, req.Headers, req.Body)
	if err != nil {
		return x402pay.ProtocolResult{}, err
	}
	if first.StatusCode != http.StatusPaymentRequired {
		return buildResult(first)
	}

	negotiation, ok := chainwire.Parse(first)
	first.Body.Close()
	if !ok {
		return x402pay.ProtocolResult{}, x402pay.NewError(x402pay.KindPaymentFailed, "no payment information", nil)
	}

	plan := buildDeliveryPlan(negotiation.Version, method)
	return a.adaptiveDelivery(ctx, req, negotiation, plan)
}

func buildDeliveryPlan(version int, callerMethod string) []x402pay.DeliveryAttempt {
	natural := chainwire.HeaderV2
	if version == 1 {
		natural = chainwire.HeaderV1
	}
	other := chainwire.HeaderV1
	if natural == chainwire.HeaderV1 {
		other = chainwire.HeaderV2
	}

	if version == 1 && callerMethod == http.MethodGet {
		return []x402pay.DeliveryAttempt{
			{Method: http.MethodPost, HeaderName: natural},
			{Method: http.MethodGet, HeaderName: natural},
			{Method: http.MethodGet, HeaderName: other},
		}
	}

	plan := []x402pay.DeliveryAttempt{{Method: callerMethod, HeaderName: natural}}
	if callerMethod == http.MethodGet {
		plan = append(plan, x402pay.DeliveryAttempt{Method: http.MethodPost, HeaderName: natural})
	}
	plan = append(plan, x402pay.DeliveryAttempt{Method: callerMethod, HeaderName: other})
	return plan
}

func (a *Adapter) adaptiveDelivery(ctx context.Context, req x402pay.FetchRequest, negotiation *chainwire.Negotiation, plan []x402pay.DeliveryAttempt) (x402pay.ProtocolResult, error) {
	var cachedPayload string
	var lastMethod string
	var attempts []x402pay.AttemptResult

	for _, step := range plan {
		if cachedPayload == "" || step.Method != lastMethod {
			signed, err := a.signer.Sign(negotiation.Raw)
			if err != nil {
				diag := &x402pay.DeliveryDiagnosis{
					Phase:            x402pay.PhasePayment,
					PaymentSent:      false,
					Suggestion:       signFailureSuggestion(err.Error()),
					DeliveryAttempts: toRecords(attempts),
				}
				return x402pay.ProtocolResult{}, x402pay.NewError(x402pay.KindPaymentFailed, "signing payment failed", err).WithDiagnosis(diag)
			}
			payloadJSON, err := json.Marshal(signed)
			if err != nil {
				return x402pay.ProtocolResult{}, x402pay.NewError(x402pay.KindPaymentFailed, "encoding signed payload", err)
			}
			cachedPayload = base64.StdEncoding.EncodeToString(payloadJSON)
		}

		headers := cloneHeaders(req.Headers)
		headers.Set(step.HeaderName, cachedPayload)

		resp, err := a.do(ctx, 30*time.Second, step.Method, req.URL, headers, req.Body)
		if err != nil {
			return x402pay.ProtocolResult{}, err
		}

		if !isRetryableStatus(resp.StatusCode) {
			return buildResult(resp)
		}

		serverMessage := ""
		if resp.StatusCode == http.StatusBadRequest {
			serverMessage = extractServerMessage(resp)
		}
		resp.Body.Close()

		attempts = append(attempts, x402pay.AttemptResult{
			DeliveryAttempt: step,
			Status:          resp.StatusCode,
			ServerMessage:   serverMessage,
		})

		if resp.StatusCode == http.StatusBadRequest {
			cachedPayload = ""
		}
		lastMethod = step.Method
	}

	diag := &x402pay.DeliveryDiagnosis{
		Phase:            x402pay.PhasePayment,
		PaymentSent:      true,
		Suggestion:       suggestionFor(attempts),
		DeliveryAttempts: toRecords(attempts),
	}
	return x402pay.ProtocolResult{}, x402pay.NewError(x402pay.KindPaymentFailed, aggregateMessage(attempts), nil).WithDiagnosis(diag)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusPaymentRequired || status == http.StatusMethodNotAllowed
}

func cloneHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h)+1)
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func extractServerMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var obj map[string]any
	if json.Unmarshal(data, &obj) == nil {
		if s, ok := obj["error"].(string); ok && s != "" {
			return truncate(s, 500)
		}
		if s, ok := obj["message"].(string); ok && s != "" {
			return truncate(s, 500)
		}
		if errObj, ok := obj["error"].(map[string]any); ok {
			if s, ok := errObj["message"].(string); ok && s != "" {
				return truncate(s, 500)
			}
		}
	}
	return truncate(string(data), 500)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func signFailureSuggestion(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "eip-712") || strings.Contains(lower, "domain"):
		return "check the signer's EIP-712 domain configuration"
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "terminated"):
		return "the signer connection timed out or was terminated"
	case strings.Contains(lower, "insufficient") || strings.Contains(lower, "balance"):
		return "the wallet has insufficient balance to sign this payment"
	default:
		return ""
	}
}

func aggregateMessage(attempts []x402pay.AttemptResult) string {
	var b strings.Builder
	b.WriteString("payment rejected after all delivery attempts: ")
	for i, a := range attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s + %s → %d", a.Method, a.HeaderName, a.Status)
	}
	return b.String()
}

func suggestionFor(attempts []x402pay.AttemptResult) string {
	has405 := false
	hasPost402 := false
	has400 := false
	all400 := len(attempts) > 0
	all402 := len(attempts) > 0
	var firstServerMessage string

	for _, a := range attempts {
		if a.Status == http.StatusMethodNotAllowed {
			has405 = true
		}
		if a.Method == http.MethodPost && a.Status == http.StatusPaymentRequired {
			hasPost402 = true
		}
		if a.Status == http.StatusBadRequest {
			has400 = true
			if firstServerMessage == "" && a.ServerMessage != "" {
				firstServerMessage = a.ServerMessage
			}
		}
		if a.Status != http.StatusBadRequest {
			all400 = false
		}
		if a.Status != http.StatusPaymentRequired {
			all402 = false
		}
	}

	switch {
	case has405 && hasPost402:
		return "endpoint needs POST with a JSON body"
	case has400 && firstServerMessage != "":
		return fmt.Sprintf("server rejected: %s", firstServerMessage)
	case all400:
		return "endpoint requires specific parameters"
	case has400:
		return "non-standard verification flow"
	case all402:
		return "server recognises no payment format"
	default:
		return "payment was rejected after all delivery attempts"
	}
}

func toRecords(attempts []x402pay.AttemptResult) []x402pay.DeliveryAttemptRecord {
	out := make([]x402pay.DeliveryAttemptRecord, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, x402pay.DeliveryAttemptRecord{
			Method:        a.Method,
			HeaderName:    a.HeaderName,
			Status:        a.Status,
			ServerMessage: a.ServerMessage,
		})
	}
	return out
}

func buildResult(resp *http.Response) (x402pay.ProtocolResult, error) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	result := x402pay.ProtocolResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}

	if raw := resp.Header.Get("payment-response"); raw != "" {
		if data, err := base64.StdEncoding.DecodeString(raw); err == nil {
			var settlement struct {
				Success     bool   `json:"success"`
				Transaction string `json:"transaction"`
				Network     string `json:"network"`
			}
			if json.Unmarshal(data, &settlement) == nil {
				result.TxHash = settlement.Transaction
				result.Network = settlement.Network
			}
		}
	}
	return result, nil
}
