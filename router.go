package x402pay

import (
	"context"
	"net/http"
	"sync"
)

// AdapterProbe pairs an Adapter with the quote it produced.
type AdapterProbe struct {
	Adapter Adapter
	Quote   ProtocolQuote
}

// Router probes a fixed, ordered list of Adapters and dispatches execution
// to whichever one a Fetch selects. Adapter order is registration order and
// is never reshuffled — probes run concurrently but results are always
// re-ordered back to this list's order before being returned.
type Router struct {
	adapters []Adapter
}

// NewRouter builds a Router over adapters, preserving the given order.
func NewRouter(adapters ...Adapter) *Router {
	return &Router{adapters: append([]Adapter(nil), adapters...)}
}

// Adapters returns the registered adapters in registration order.
func (r *Router) Adapters() []Adapter {
	return append([]Adapter(nil), r.adapters...)
}

// ProbeAll runs Detect on every adapter concurrently, then Quote on every
// adapter that detected a requirement, in registration order. Any error
// returned by a Detect call propagates directly to the caller: it signals
// a reachability problem, not a free endpoint. If zero
// adapters detect, ProbeAll returns a detection-failed Error.
func (r *Router) ProbeAll(ctx context.Context, url string, headers http.Header) ([]AdapterProbe, error) {
	detected := make([]bool, len(r.adapters))
	errs := make([]error, len(r.adapters))

	var wg sync.WaitGroup
	for i, a := range r.adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			ok, err := a.Detect(ctx, url, headers)
			detected[i] = ok
			errs[i] = err
		}(i, a)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var probes []AdapterProbe
	for i, a := range r.adapters {
		if !detected[i] {
			continue
		}
		q, err := a.Quote(ctx, url, headers)
		if err != nil {
			return nil, err
		}
		probes = append(probes, AdapterProbe{Adapter: a, Quote: q})
	}

	if len(probes) == 0 {
		return nil, ErrDetectionFailed
	}
	return probes, nil
}

// ProbeFromResponse dispatches QuoteFromResponse across every adapter, in
// registration order, with no network access. Used when a plain HTTP call
// unexpectedly came back 402.
func (r *Router) ProbeFromResponse(resp *http.Response) []AdapterProbe {
	var probes []AdapterProbe
	for _, a := range r.adapters {
		if q, ok := a.QuoteFromResponse(resp); ok {
			probes = append(probes, AdapterProbe{Adapter: a, Quote: q})
		}
	}
	return probes
}

// Probe returns the first entry of ProbeAll.
func (r *Router) Probe(ctx context.Context, url string, headers http.Header) (AdapterProbe, error) {
	probes, err := r.ProbeAll(ctx, url, headers)
	if err != nil {
		return AdapterProbe{}, err
	}
	return probes[0], nil
}

// Execute delegates to adapter.Execute.
func (r *Router) Execute(ctx context.Context, adapter Adapter, req FetchRequest, quote ProtocolQuote) (ProtocolResult, error) {
	return adapter.Execute(ctx, req, quote)
}
