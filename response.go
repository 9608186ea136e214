package x402pay

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Response is the payment-annotated result of a Fetch call. It wraps the
// final HTTP response body and status, plus whatever payment metadata the
// engine observed, and decodes its body lazily: JSON and Text only parse
// the bytes on first access, and the result is cached for subsequent calls.
type Response struct {
	StatusCode int
	Headers    http.Header

	Paid     bool
	Protocol string // "x402" or "l402", empty when Paid is false
	Network  string
	TxHash   string

	body []byte

	once     sync.Once
	text     string
	jsonOnce sync.Once
	jsonVal  any
	jsonErr  error
}

// NewResponse builds a Response from raw status/headers/body and payment
// metadata. Headers and body are retained by reference; callers must not
// mutate them afterward.
func NewResponse(statusCode int, headers http.Header, body []byte, paid bool, protocol, network, txHash string) *Response {
	return &Response{
		StatusCode: statusCode,
		Headers:    headers,
		Paid:       paid,
		Protocol:   protocol,
		Network:    network,
		TxHash:     txHash,
		body:       body,
	}
}

// Bytes returns the raw response body.
func (r *Response) Bytes() []byte {
	return r.body
}

// Text decodes the body as UTF-8 text, computed once and cached.
func (r *Response) Text() string {
	r.once.Do(func() {
		r.text = string(r.body)
	})
	return r.text
}

// JSON decodes the body as JSON into v. The decode itself happens once per
// Response regardless of how many times JSON is called; repeated calls
// re-use the previously decoded value via json.Marshal/Unmarshal into v so
// each caller gets an independent copy.
func (r *Response) JSON(v any) error {
	r.jsonOnce.Do(func() {
		var raw any
		r.jsonErr = json.Unmarshal(r.body, &raw)
		r.jsonVal = raw
	})
	if r.jsonErr != nil {
		return r.jsonErr
	}
	reencoded, err := json.Marshal(r.jsonVal)
	if err != nil {
		return err
	}
	return json.Unmarshal(reencoded, v)
}

// WalletStatus is a composite health snapshot across every registered
// wallet family plus the current budget state, used for diagnostics and
// pre-flight checks before a caller issues a Fetch.
type WalletStatus struct {
	Network  string
	Accounts map[Namespace]WalletAccountStatus
	Budget   BudgetStatus
}

// WalletAccountStatus reports one chain family's provisioning and balance state.
type WalletAccountStatus struct {
	Provisioned bool
	Address     string
	BalanceKnown bool
	BalanceUSD  string
}

// BudgetStatus is a display-ready view of the current spend state.
type BudgetStatus struct {
	DailySpent       string
	MonthlySpent     string
	DailyRemaining   *string
	MonthlyRemaining *string
}
