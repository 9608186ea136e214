package x402pay

// EventType identifies which lifecycle event a Callback was invoked for.
type EventType string

const (
	EventPayment        EventType = "payment"
	EventError          EventType = "error"
	EventBudgetWarning   EventType = "budget:warning"
	EventBudgetExceeded  EventType = "budget:exceeded"
)

// Event carries the payload for one lifecycle notification. Exactly one of
// Record/Err/Warning is populated, matching EventType.
type Event struct {
	Type    EventType
	Record  *PaymentRecordView
	Err     error
	Warning *BudgetWarning
}

// PaymentRecordView is the event-time view of a completed payment. It
// carries a subset of history.Record's fields.
type PaymentRecordView struct {
	ID       string
	URL      string
	Protocol string
	Network  string
	TxHash   string
}

// BudgetWarning is emitted when spending crosses the configured warning
// threshold for a period.
type BudgetWarning struct {
	Period    string // "daily" or "monthly"
	SpentBp   int64  // spent, in basis points of the limit
	Threshold float64
}

// Callback receives lifecycle events. Implementations must not call back
// into the Client synchronously — events fire while the payment lock is
// still held.
type Callback func(Event)

func emit(cb Callback, ev Event) {
	if cb != nil {
		cb(ev)
	}
}
