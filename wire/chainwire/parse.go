// Package chainwire decodes the four wire transports a P-chain resource
// server may use to advertise a payment requirement on a 402 response.
package chainwire

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"regexp"
	"strings"

	x402pay "github.com/leventilo/boltzpay-sub000"
	"github.com/leventilo/boltzpay-sub000/money"
)

// Transport names the wire location a Negotiation was decoded from. It
// determines which header name the paid retry must use.
type Transport string

const (
	TransportHeader      Transport = "header"
	TransportBody        Transport = "body"
	TransportRealmHeader Transport = "realm-header"
)

// HeaderV1 and HeaderV2 are the outbound header names a paid retry sets,
// chosen by the negotiated protocol version.
const (
	HeaderV1 = "X-PAYMENT"
	HeaderV2 = "PAYMENT-SIGNATURE"
)

// Negotiation is the parsed result of one 402 response: the raw decoded
// object (passed verbatim to the signer — field names are never renamed),
// the accepts the parser could make sense of, and which transport and
// header name a paid retry should use.
type Negotiation struct {
	Version    int
	Raw        map[string]any
	Accepts    []x402pay.AcceptOption
	Hints      *x402pay.InputHints
	Transport  Transport
	HeaderName string
}

// Parse runs the four-transport cascade against a 402 response. It
// consumes and replaces resp.Body so the response remains usable by the
// caller afterward. It returns (nil, false) — never an error — when no
// transport yields at least one usable accept, matching the "entries
// with unknown namespace are dropped, not a failure" rule.
func Parse(resp *http.Response) (*Negotiation, bool) {
	var bodyBytes []byte
	if resp.Body != nil {
		bodyBytes, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))
	}

	if raw := resp.Header.Get("payment-required"); raw != "" {
		if decoded, ok := decodeBase64JSON(raw); ok {
			if n, ok := parseHeaderObject(decoded); ok {
				return n, true
			}
		}
	}

	if wa := resp.Header.Get("www-authenticate"); wa != "" {
		if n, ok := parseRealmHeader(wa); ok {
			return n, true
		}
	}

	if len(bodyBytes) > 0 {
		if n, ok := parseBody(bodyBytes); ok {
			return n, true
		}
	}

	return nil, false
}

func decodeBase64JSON(raw string) (map[string]any, bool) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, false
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// parseHeaderObject handles both the v2 shape and the v1-in-v2 shape
// carried by the same `payment-required` header.
func parseHeaderObject(obj map[string]any) (*Negotiation, bool) {
	versionF, ok := obj["x402Version"].(float64)
	if !ok {
		return nil, false
	}
	version := int(versionF)

	rawAccepts, _ := obj["accepts"].([]any)
	if len(rawAccepts) == 0 {
		return nil, false
	}

	if version >= 2 {
		if n, ok := parseV2Accepts(obj, rawAccepts); ok {
			return n, true
		}
	}
	if version >= 1 {
		if n, ok := parseV1Accepts(obj, rawAccepts, TransportHeader); ok {
			return n, true
		}
	}
	return nil, false
}

func parseV2Accepts(obj map[string]any, rawAccepts []any) (*Negotiation, bool) {
	var accepts []x402pay.AcceptOption
	for _, ra := range rawAccepts {
		m, ok := ra.(map[string]any)
		if !ok {
			continue
		}
		scheme, _ := m["scheme"].(string)
		network, _ := m["network"].(string)
		amount, _ := m["amount"].(string)
		asset, _ := m["asset"].(string)
		payTo, _ := m["payTo"].(string)
		if scheme == "" || network == "" || amount == "" || payTo == "" {
			continue
		}
		accept, ok := buildAccept(network, amount, payTo, asset, scheme)
		if !ok {
			continue
		}
		accepts = append(accepts, accept)
	}
	if len(accepts) == 0 {
		return nil, false
	}
	return &Negotiation{
		Version:    2,
		Raw:        obj,
		Accepts:    accepts,
		Hints:      extractHints(obj, rawAccepts),
		Transport:  TransportHeader,
		HeaderName: HeaderV2,
	}, true
}

func parseV1Accepts(obj map[string]any, rawAccepts []any, transport Transport) (*Negotiation, bool) {
	var accepts []x402pay.AcceptOption
	for _, ra := range rawAccepts {
		m, ok := ra.(map[string]any)
		if !ok {
			continue
		}
		network, _ := m["network"].(string)
		payTo, _ := m["payTo"].(string)
		if network == "" || payTo == "" {
			continue
		}
		amount, _ := m["maxAmountRequired"].(string)
		if amount == "" {
			amount, _ = m["amount"].(string)
		}
		if amount == "" {
			continue
		}
		scheme, _ := m["scheme"].(string)
		if scheme == "" {
			scheme = "exact"
		}
		asset, _ := m["asset"].(string)
		accept, ok := buildAccept(network, amount, payTo, asset, scheme)
		if !ok {
			continue
		}
		accepts = append(accepts, accept)
	}
	if len(accepts) == 0 {
		return nil, false
	}
	return &Negotiation{
		Version:    1,
		Raw:        obj,
		Accepts:    accepts,
		Hints:      extractHints(obj, rawAccepts),
		Transport:  transport,
		HeaderName: HeaderV1,
	}, true
}

func buildAccept(network, amount, payTo, asset, scheme string) (x402pay.AcceptOption, bool) {
	ns, ok := x402pay.ParseNamespace(network)
	if !ok {
		return x402pay.AcceptOption{}, false
	}
	atomic, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return x402pay.AcceptOption{}, false
	}
	return x402pay.AcceptOption{
		Namespace: ns,
		Network:   network,
		Amount:    money.CeilDivCents(atomic, 10000),
		PayTo:     payTo,
		Asset:     asset,
		Scheme:    scheme,
	}, true
}

func extractHints(obj map[string]any, rawAccepts []any) *x402pay.InputHints {
	if res, ok := obj["resource"].(map[string]any); ok {
		if h := hintsFromMap(res); h != nil {
			return h
		}
	}
	if ext, ok := obj["extensions"].(map[string]any); ok {
		if bazaar, ok := ext["bazaar"].(map[string]any); ok {
			if info, ok := bazaar["info"].(map[string]any); ok {
				if h := hintsFromInputOutput(info); h != nil {
					return h
				}
			}
		}
	}
	if len(rawAccepts) > 0 {
		if first, ok := rawAccepts[0].(map[string]any); ok {
			if os, ok := first["outputSchema"].(map[string]any); ok {
				if input, ok := os["input"].(map[string]any); ok {
					if h := hintsFromMap(input); h != nil {
						return h
					}
				}
			}
		}
	}
	return nil
}

func hintsFromMap(m map[string]any) *x402pay.InputHints {
	h := &x402pay.InputHints{}
	populated := false
	if method, ok := m["method"].(string); ok {
		h.Method = method
		populated = true
	}
	if qp, ok := m["queryParams"].(map[string]any); ok {
		h.QueryParams = toStringMap(qp)
		populated = true
	}
	if bf, ok := m["bodyFields"].(map[string]any); ok {
		h.BodyFields = bf
		populated = true
	}
	if desc, ok := m["description"].(string); ok {
		h.Description = desc
		populated = true
	}
	if out, ok := m["outputExample"]; ok {
		if raw, err := json.Marshal(out); err == nil {
			h.OutputExample = raw
			populated = true
		}
	}
	if !populated {
		return nil
	}
	return h
}

func hintsFromInputOutput(info map[string]any) *x402pay.InputHints {
	input, _ := info["input"].(map[string]any)
	h := hintsFromMap(input)
	if h == nil {
		h = &x402pay.InputHints{}
	}
	if out, ok := info["output"]; ok {
		if raw, err := json.Marshal(out); err == nil {
			h.OutputExample = raw
		}
	}
	return h
}

func toStringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

var realmPairPattern = regexp.MustCompile(`([a-zA-Z]+)="([^"]*)"`)

// parseRealmHeader decodes the `x402 k="v", ...` realm challenge from a
// www-authenticate value.
func parseRealmHeader(value string) (*Negotiation, bool) {
	idx := strings.Index(value, "x402 ")
	if idx < 0 {
		return nil, false
	}
	rest := value[idx+len("x402 "):]

	pairs := make(map[string]string)
	for _, m := range realmPairPattern.FindAllStringSubmatch(rest, -1) {
		pairs[m[1]] = m[2]
	}

	address, ok := pairs["address"]
	if !ok {
		return nil, false
	}
	amountStr, ok := pairs["amount"]
	if !ok {
		return nil, false
	}
	atomic, ok := parseDecimalToAtomic(amountStr)
	if !ok {
		return nil, false
	}

	chainID := pairs["chainId"]
	network := "eip155:8453"
	if chainID != "" {
		network = "eip155:" + chainID
	}

	accept, ok := buildAccept(network, atomic.String(), address, pairs["token"], "exact")
	if !ok {
		return nil, false
	}

	obj := map[string]any{
		"address": address,
		"amount":  amountStr,
	}
	if chainID != "" {
		obj["chainId"] = chainID
	}
	if token, ok := pairs["token"]; ok {
		obj["token"] = token
	}

	return &Negotiation{
		Version:    1,
		Raw:        obj,
		Accepts:    []x402pay.AcceptOption{accept},
		Transport:  TransportRealmHeader,
		HeaderName: HeaderV1,
	}, true
}

// parseDecimalToAtomic converts a human display-unit decimal string (e.g.
// "0.01") into atomic units at 10^6 precision using exact string
// arithmetic — no floats.
func parseDecimalToAtomic(s string) (*big.Int, bool) {
	if s == "" || strings.HasPrefix(s, "-") || len(s) > 40 {
		return nil, false
	}
	whole, frac, found := strings.Cut(s, ".")
	if found && strings.Contains(frac, ".") {
		return nil, false
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 6 {
		frac += "0"
	}
	frac = frac[:6]

	wholeN, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, false
	}
	fracN, ok := new(big.Int).SetString(frac, 10)
	if !ok {
		return nil, false
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil)
	atomic := new(big.Int).Mul(wholeN, scale)
	atomic.Add(atomic, fracN)
	return atomic, true
}

// parseBody handles the v1 body-transport fallback.
func parseBody(body []byte) (*Negotiation, bool) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, false
	}
	versionF, ok := obj["x402Version"].(float64)
	if !ok || versionF < 1 {
		return nil, false
	}
	rawAccepts, _ := obj["accepts"].([]any)
	if len(rawAccepts) == 0 {
		return nil, false
	}
	return parseV1Accepts(obj, rawAccepts, TransportBody)
}

// PrimaryAccept returns the first accept with a successfully parsed
// namespace, which callers expose as the quote's amount/network/payTo for
// callers that don't consult the full accept list.
func (n *Negotiation) PrimaryAccept() (x402pay.AcceptOption, bool) {
	if len(n.Accepts) == 0 {
		return x402pay.AcceptOption{}, false
	}
	return n.Accepts[0], true
}
