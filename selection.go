package x402pay

import (
	"sort"
	"strings"

	"github.com/leventilo/boltzpay-sub000/money"
)

// ParseNamespace extracts the chain namespace from a CAIP-style network id
// (e.g. "eip155:8453" -> evm, "solana:<genesis>" -> svm). The second return
// value is false for any other or malformed namespace prefix.
func ParseNamespace(network string) (Namespace, bool) {
	prefix, _, found := strings.Cut(network, ":")
	if !found {
		return "", false
	}
	switch prefix {
	case "eip155":
		return NamespaceEVM, true
	case "solana":
		return NamespaceSVM, true
	default:
		return "", false
	}
}

// SelectChain narrows a multi-accept ProtocolQuote down to a single chain,
// honoring an optional per-request preferred namespace and the client's
// configured preference order. It returns a new quote whose amount,
// network, and payTo reflect the winning accept; a quote with no
// AllAccepts is returned unchanged (subject to the per-request check).
func SelectChain(quote ProtocolQuote, perRequest *Namespace, configuredPreferred []Namespace) (ProtocolQuote, error) {
	if len(quote.AllAccepts) == 0 {
		if perRequest != nil {
			if ns, ok := ParseNamespace(quote.Network); ok && ns != *perRequest {
				return ProtocolQuote{}, NewError(KindNoCompatibleChain, "quote namespace does not match the requested chain", nil).
					WithDetails("requested", string(*perRequest)).
					WithDetails("offered", string(ns))
			}
		}
		return quote, nil
	}

	var preferences []Namespace
	if perRequest != nil {
		preferences = []Namespace{*perRequest}
	} else {
		preferences = configuredPreferred
	}

	supported := make(map[Namespace]bool)
	for _, ns := range configuredPreferred {
		supported[ns] = true
	}
	if perRequest != nil {
		supported[*perRequest] = true
	}
	// No configured preference and no per-request namespace: every
	// namespace is supported, and the ordering below picks the cheapest.
	allSupported := len(supported) == 0

	type candidate struct {
		accept AcceptOption
		prefPos int
	}
	var candidates []candidate
	for _, accept := range quote.AllAccepts {
		if !allSupported && !supported[accept.Namespace] {
			continue
		}
		pos := len(preferences)
		for i, p := range preferences {
			if p == accept.Namespace {
				pos = i
				break
			}
		}
		candidates = append(candidates, candidate{accept: accept, prefPos: pos})
	}

	if len(candidates) == 0 {
		offered := make([]string, 0, len(quote.AllAccepts))
		for _, a := range quote.AllAccepts {
			offered = append(offered, string(a.Namespace))
		}
		return ProtocolQuote{}, NewError(KindNoCompatibleChain, "no accept matches the supported chain set", nil).
			WithDetails("offered", strings.Join(offered, ","))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.prefPos != b.prefPos {
			return a.prefPos < b.prefPos
		}
		if !a.accept.Amount.Equals(b.accept.Amount) {
			return a.accept.Amount.GreaterThan(b.accept.Amount) == false
		}
		if a.accept.Namespace != b.accept.Namespace {
			return a.accept.Namespace == NamespaceEVM
		}
		return false
	})

	winner := candidates[0].accept

	if perRequest != nil && winner.Namespace != *perRequest {
		offered := make([]string, 0, len(quote.AllAccepts))
		for _, a := range quote.AllAccepts {
			offered = append(offered, string(a.Namespace))
		}
		return ProtocolQuote{}, NewError(KindNoCompatibleChain, "endpoint does not offer the requested chain", nil).
			WithDetails("requested", string(*perRequest)).
			WithDetails("offered", strings.Join(offered, ","))
	}

	return ProtocolQuote{
		Amount:     money.FromCentsBig(winner.Amount.MinorUnits()),
		Protocol:   quote.Protocol,
		Network:    winner.Network,
		PayTo:      winner.PayTo,
		AllAccepts: quote.AllAccepts,
		InputHints: quote.InputHints,
	}, nil
}
