package x402pay

import (
	"encoding/json"
	"net/http"

	"github.com/leventilo/boltzpay-sub000/money"
)

// Namespace identifies a blockchain virtual machine family within P-chain.
type Namespace string

const (
	NamespaceEVM Namespace = "evm"
	NamespaceSVM Namespace = "svm"
)

// AcceptOption is one chain-specific payment offer advertised by a server.
type AcceptOption struct {
	Namespace Namespace
	Network   string // CAIP-style, e.g. "eip155:8453" or "solana:<genesis>"
	Amount    money.Money
	PayTo     string
	Asset     string
	Scheme    string
}

// InputHints carries optional server-provided metadata about how a
// payment-gated endpoint expects to be called.
type InputHints struct {
	Method      string
	QueryParams map[string]string
	BodyFields  map[string]any
	Description string
	OutputExample json.RawMessage
}

// ProtocolQuote is a normalised probe result produced by an Adapter.
type ProtocolQuote struct {
	Amount      money.Money
	Protocol    string
	Network     string
	PayTo       string
	AllAccepts  []AcceptOption // non-empty only when >=1 accept parsed
	InputHints  *InputHints
}

// DeliveryAttempt is one planned (method, header) pair in a delivery plan.
type DeliveryAttempt struct {
	Method     string
	HeaderName string
}

// AttemptResult is the observed outcome of a DeliveryAttempt.
type AttemptResult struct {
	DeliveryAttempt
	Status        int
	ServerMessage string // truncated to 500 chars
}

// FetchRequest is the caller-supplied description of the resource to fetch.
type FetchRequest struct {
	URL               string
	Method            string // default GET
	Headers           http.Header
	Body              []byte
	MaxAmount         *money.Money // optional per-request ceiling, in USD
	PreferredNamespace *Namespace  // optional per-request chain preference
}

// ProtocolResult is what an Adapter's Execute returns: either the direct
// response (no payment required) or the outcome of a paid delivery attempt.
type ProtocolResult struct {
	Success    bool
	StatusCode int
	Headers    http.Header
	Body       []byte
	TxHash     string
	Network    string
	Attempts   []AttemptResult
}
