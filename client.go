package x402pay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leventilo/boltzpay-sub000/budget"
	"github.com/leventilo/boltzpay-sub000/history"
	"github.com/leventilo/boltzpay-sub000/money"
	"github.com/leventilo/boltzpay-sub000/wallet"
)

// Client is the end-to-end fetch engine: detection, chain selection,
// budget enforcement, payment, and response wrapping, over a fixed set of
// registered Adapters.
type Client struct {
	cfg        *Config
	router     *Router
	httpClient *http.Client
	budget     *budget.Manager
	history    *history.History
	wallets    *wallet.Manager
	logger     *slog.Logger
	onEvent    Callback

	lockChan chan struct{} // FIFO payment lock: buffered 1, token passed hand to hand
}

// ClientOption configures a Client beyond its Config.
type ClientOption func(*Client)

// WithRouter wires the adapter Router the Client dispatches through. Tests
// typically supply a Router over fake Adapters; production callers wire
// chainadapter/lnadapter instances.
func WithRouter(router *Router) ClientOption {
	return func(c *Client) { c.router = router }
}

// WithEventCallback registers cb to receive lifecycle events.
func WithEventCallback(cb Callback) ClientOption {
	return func(c *Client) { c.onEvent = cb }
}

// WithWalletManager wires the wallet.Manager used for WalletStatus queries.
func WithWalletManager(m *wallet.Manager) ClientOption {
	return func(c *Client) { c.wallets = m }
}

// WithFetchHTTPClient overrides the http.Client used for the plain-HTTP
// detection-failed fallback in Fetch.
func WithFetchHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client from cfg and opts. A Router must be supplied
// via WithRouter before Fetch is usable; NewClient does not construct
// Adapters itself since those require chain-specific signers/wallets the
// caller alone can provide.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, NewError(KindBadConfig, "configuration must not be nil", nil)
	}

	var dir string
	if cfg.Persistence.Enabled {
		dir = cfg.Persistence.Directory
	}

	limits := budget.Limits{
		Daily:            cfg.Budget.Daily,
		Monthly:          cfg.Budget.Monthly,
		PerTransaction:   cfg.Budget.PerTransaction,
		WarningThreshold: cfg.Budget.WarningThreshold,
		SatToUSDRate:     cfg.Budget.SatToUSDRate,
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: DefaultTimeouts.Passthrough},
		budget:     budget.NewManager(limits, dir, cfg.Logger),
		history:    history.New(cfg.Persistence.HistoryMaxRecords, dir, cfg.Logger),
		logger:     cfg.Logger,
		lockChan:   make(chan struct{}, 1),
	}
	c.lockChan <- struct{}{}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// acquireLock blocks until the payment lock is held, honoring ctx
// cancellation, and returns a release function that MUST be called exactly
// once on every exit path.
func (c *Client) acquireLock(ctx context.Context) (func(), error) {
	select {
	case <-c.lockChan:
		return func() { c.lockChan <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, NewError(KindAborted, "acquiring payment lock", ctx.Err())
	}
}

// Fetch performs the end-to-end payment-aware fetch described by req: probe
// every registered Adapter, select a chain for multi-accept quotes, enforce
// budget, execute payment, and return the wrapped response.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if c.router == nil {
		return nil, NewError(KindBadConfig, "no adapter router configured", nil)
	}

	probes, fallback, err := c.probe(ctx, req)
	if err != nil {
		emit(c.onEvent, Event{Type: EventError, Err: err})
		return nil, err
	}
	if fallback != nil {
		return fallback, nil
	}

	primary := probes[0].Quote
	var preferred *Namespace
	if req.PreferredNamespace != nil {
		preferred = req.PreferredNamespace
	}
	selectedQuote, err := SelectChain(primary, preferred, c.cfg.PreferredChains)
	if err != nil {
		emit(c.onEvent, Event{Type: EventError, Err: err})
		return nil, err
	}

	var failures []string
	var firstDiagnosis *DeliveryDiagnosis
	for i, probe := range probes {
		quote := probe.Quote
		if i == 0 {
			quote = selectedQuote
		}

		resp, payErr := c.paymentFlow(ctx, req, probe.Adapter, quote)
		if payErr == nil {
			return resp, nil
		}

		if kind, ok := KindOf(payErr); ok && isBudgetExceeded(kind) {
			emit(c.onEvent, Event{Type: EventError, Err: payErr})
			return nil, payErr
		}

		c.logger.Warn("adapter payment attempt failed", "adapter", probe.Adapter.Name(), "error", payErr)
		failures = append(failures, fmt.Sprintf("  %d. %s", i+1, payErr.Error()))
		if firstDiagnosis == nil {
			var e *Error
			if errors.As(payErr, &e) && e.Diagnosis != nil {
				firstDiagnosis = e.Diagnosis
			}
		}
	}

	aggMsg := "all adapters failed:\n" + strings.Join(failures, "\n")
	finalErr := NewError(KindPaymentFailed, aggMsg, nil)
	if firstDiagnosis != nil {
		finalErr = finalErr.WithDiagnosis(firstDiagnosis)
	}
	emit(c.onEvent, Event{Type: EventError, Err: finalErr})
	return nil, finalErr
}

func isBudgetExceeded(k Kind) bool {
	return k == KindDailyExceeded || k == KindMonthlyExceeded || k == KindPerTransactionExceeded
}

// probe runs the detection phase: router.ProbeAll, with a detection-failed
// fallback to a plain HTTP call. A non-nil *Response return means the
// plain-HTTP fallback itself resolved the request (no payment was ever
// required, or no adapter recognised the 402 it got back).
func (c *Client) probe(ctx context.Context, req FetchRequest) ([]AdapterProbe, *Response, error) {
	detectCtx, cancel := context.WithTimeout(ctx, DefaultTimeouts.Detection)
	defer cancel()

	probes, err := c.router.ProbeAll(detectCtx, req.URL, req.Headers)
	if err == nil {
		return probes, nil, nil
	}
	if !errors.Is(err, ErrDetectionFailed) {
		return nil, nil, err
	}

	passthroughCtx, cancel2 := context.WithTimeout(ctx, DefaultTimeouts.Passthrough)
	defer cancel2()

	httpResp, err := c.plainRequest(passthroughCtx, req)
	if err != nil {
		return nil, nil, classifyNetworkError(err, "detection-fallback request")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusPaymentRequired {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, NewResponse(httpResp.StatusCode, httpResp.Header, body, false, "", "", ""), nil
	}

	bodyBytes, _ := io.ReadAll(httpResp.Body)
	httpResp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	reprobed := c.router.ProbeFromResponse(httpResp)
	if len(reprobed) == 0 {
		return nil, NewResponse(httpResp.StatusCode, httpResp.Header, bodyBytes, false, "", "", ""), nil
	}
	return reprobed, nil, nil
}

func (c *Client) plainRequest(ctx context.Context, req FetchRequest) (*http.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return c.httpClient.Do(httpReq)
}

// paymentFlow runs the per-attempt payment flow described in the component
// design: lock acquisition, max-amount gate, budget gate, execution,
// diagnosis on failure, accounting, and history/event emission on success.
func (c *Client) paymentFlow(ctx context.Context, req FetchRequest, adapter Adapter, quote ProtocolQuote) (*Response, error) {
	release, err := c.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	amountUSD := c.budget.ConvertToUSD(quote.Amount)

	if req.MaxAmount != nil && amountUSD.GreaterThan(*req.MaxAmount) {
		err := NewError(KindPerTransactionExceeded, "quote exceeds the caller-supplied max amount", nil).
			WithDetails("quoteUsd", amountUSD.String()).
			WithDetails("maxUsd", req.MaxAmount.String())
		emit(c.onEvent, Event{Type: EventError, Err: err})
		return nil, err
	}

	if violation := c.budget.CheckTransaction(amountUSD); violation != budget.None {
		kind := violationKind(violation)
		err := NewError(kind, fmt.Sprintf("transaction would exceed the %s budget", violation), nil).
			WithDetails("amountUsd", amountUSD.String())
		emit(c.onEvent, Event{Type: EventBudgetExceeded, Err: err})
		emit(c.onEvent, Event{Type: EventError, Err: err})
		return nil, err
	}

	// Execute owns its own per-operation deadlines (each adapter applies
	// DeliveryAttempt/LightningPay internally); the orchestrator only
	// passes through the caller's cancellation, it does not add a second cap.
	result, err := adapter.Execute(ctx, req, quote)
	if err != nil {
		translated := translateAdapterError(err)
		emit(c.onEvent, Event{Type: EventError, Err: translated})
		return nil, translated
	}

	if !result.Success {
		diag := diagnosisFor(result)
		finalErr := NewError(KindPaymentFailed, "resource server rejected the delivered payment", nil).WithDiagnosis(diag)
		emit(c.onEvent, Event{Type: EventError, Err: finalErr})
		return nil, finalErr
	}

	c.budget.RecordSpending(amountUSD)
	for _, w := range c.budget.CheckWarning() {
		emit(c.onEvent, Event{Type: EventBudgetWarning, Warning: &BudgetWarning{
			Period:    w.Period,
			SpentBp:   w.SpentBp,
			Threshold: c.cfg.Budget.WarningThreshold,
		}})
	}

	record := history.NewRecord(req.URL, adapter.Name(), amountUSD, result.TxHash, result.Network, time.Now())
	c.history.Append(record)
	emit(c.onEvent, Event{Type: EventPayment, Record: &PaymentRecordView{
		ID:       record.ID,
		URL:      record.URL,
		Protocol: record.Protocol,
		Network:  record.Network,
		TxHash:   record.TxHash,
	}})

	return NewResponse(result.StatusCode, result.Headers, result.Body, true, adapter.Name(), result.Network, result.TxHash), nil
}

func violationKind(v budget.Violation) Kind {
	switch v {
	case budget.Daily:
		return KindDailyExceeded
	case budget.Monthly:
		return KindMonthlyExceeded
	default:
		return KindPerTransactionExceeded
	}
}

// diagnosisFor builds a DeliveryDiagnosis from a failed ProtocolResult per
// the status-to-phase/suggestion table.
func diagnosisFor(result ProtocolResult) *DeliveryDiagnosis {
	var records []DeliveryAttemptRecord
	var lastMessage string
	for _, a := range result.Attempts {
		records = append(records, DeliveryAttemptRecord{
			Method:        a.Method,
			HeaderName:    a.HeaderName,
			Status:        a.Status,
			ServerMessage: a.ServerMessage,
		})
		lastMessage = a.ServerMessage
	}

	return &DeliveryDiagnosis{
		Phase:            PhaseDelivery,
		PaymentSent:      true,
		ServerStatus:     result.StatusCode,
		ServerMessage:    lastMessage,
		Suggestion:       suggestionForStatus(result.StatusCode, lastMessage),
		DeliveryAttempts: records,
	}
}

func suggestionForStatus(status int, message string) string {
	switch {
	case status == http.StatusUnauthorized:
		return "the server requires additional authentication beyond the delivered payment"
	case status == http.StatusBadRequest:
		if message != "" {
			return "the server rejected the payment: " + message
		}
		return "the server rejected the payment"
	case status == http.StatusForbidden:
		return "access to this resource was denied"
	case status == http.StatusNotFound:
		return "the endpoint was not found; check the request URL"
	case status >= 500:
		return "the server encountered an internal error while processing the payment"
	default:
		return "the server returned an unexpected response after payment"
	}
}

// translateAdapterError applies the propagation policy: recognised
// engine-level errors pass through unchanged, wallet provisioning errors
// become provisioning-failed, and anything else becomes a
// blockchain-error wrapping the original message.
func translateAdapterError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, wallet.ErrNoProvisioner) || errors.Is(err, wallet.ErrProvisioningFailed) {
		return NewError(KindProvisioningFailed, "wallet provisioning failed", err)
	}
	return NewError(KindBlockchainError, "adapter reported an unrecognised failure", err)
}

func classifyNetworkError(err error, op string) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindNetworkTimeout, fmt.Sprintf("%s timed out", op), err)
	}
	return NewError(KindEndpointUnreachable, fmt.Sprintf("%s could not reach the endpoint", op), err)
}

// WalletStatus returns a composite health snapshot across every registered
// wallet family plus the current budget state.
func (c *Client) WalletStatus(ctx context.Context) WalletStatus {
	status := WalletStatus{
		Network:  c.cfg.Network,
		Accounts: make(map[Namespace]WalletAccountStatus),
	}

	state := c.budget.GetState()
	status.Budget = BudgetStatus{
		DailySpent:   state.DailySpent.String(),
		MonthlySpent: state.MonthlySpent.String(),
	}
	if state.DailyRemaining != nil {
		s := state.DailyRemaining.String()
		status.Budget.DailyRemaining = &s
	}
	if state.MonthlyRemaining != nil {
		s := state.MonthlyRemaining.String()
		status.Budget.MonthlyRemaining = &s
	}

	if c.wallets == nil {
		return status
	}

	convert := func(m money.Money) money.Money { return c.budget.ConvertToUSD(m) }
	balances := c.wallets.Balances(ctx, c.cfg.Network, convert)
	for ns, bal := range balances {
		out := Namespace(ns)
		acc := WalletAccountStatus{BalanceKnown: bal.Known}
		if bal.Known {
			acc.BalanceUSD = bal.USD.String()
		}
		address, err := c.wallets.GetOrProvisionAccount(ctx, ns, c.cfg.Network)
		if err == nil {
			acc.Provisioned = true
			acc.Address = address.Address
		}
		status.Accounts[out] = acc
	}
	return status
}

// History returns every completed payment retained in the local ring.
func (c *Client) History() []history.Record {
	return c.history.Records()
}
