// Package lnwire decodes the L402/LSAT challenge dialects a P-ln resource
// server carries in a www-authenticate header.
package lnwire

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dialect identifies which regex shape a Challenge was parsed from.
type Dialect string

const (
	DialectStandard    Dialect = "standard"
	DialectInvoiceOnly Dialect = "invoice-only"
)

// Challenge is a parsed L402/LSAT www-authenticate value.
type Challenge struct {
	Dialect     Dialect
	Prefix      string // "L402" or "LSAT", upper-cased, as sent by the server
	Macaroon    string // only populated for DialectStandard
	Invoice     string
	PaymentHash string // only populated for DialectInvoiceOnly
}

var (
	standardPattern    = regexp.MustCompile(`(?i)(L402|LSAT)\s+macaroon="([A-Za-z0-9+/\-_=]*)",\s*invoice="(.+?)"`)
	invoiceOnlyPattern = regexp.MustCompile(`(?i)(L402|LSAT)\s+invoice="(.+?)",\s*payment_hash="([0-9a-fA-F]{64})"`)
	macaroonPattern    = regexp.MustCompile(`^[A-Za-z0-9+/\-_]*={0,2}$`)
)

// Matches reports whether value carries either challenge dialect, without
// fully validating it — used by detect, which only needs a yes/no.
func Matches(value string) bool {
	return standardPattern.MatchString(value) || invoiceOnlyPattern.MatchString(value)
}

// Parse decodes value per the standard-wins-over-invoice-only rule. A
// malformed macaroon or payment hash is reported as an error rather than a
// silent miss, per the bad-challenge boundary behaviour.
func Parse(value string) (*Challenge, error) {
	if m := standardPattern.FindStringSubmatch(value); m != nil {
		macaroon := m[2]
		if !macaroonPattern.MatchString(macaroon) {
			return nil, fmt.Errorf("lnwire: bad-challenge: macaroon %q is not valid base64url", macaroon)
		}
		return &Challenge{
			Dialect:  DialectStandard,
			Prefix:   strings.ToUpper(m[1]),
			Macaroon: macaroon,
			Invoice:  m[3],
		}, nil
	}
	if m := invoiceOnlyPattern.FindStringSubmatch(value); m != nil {
		return &Challenge{
			Dialect:     DialectInvoiceOnly,
			Prefix:      strings.ToUpper(m[1]),
			Invoice:     m[2],
			PaymentHash: strings.ToLower(m[3]),
		}, nil
	}
	return nil, fmt.Errorf("lnwire: bad-challenge: no recognised L402/LSAT challenge in %q", value)
}

// InvoiceDecoder resolves a BOLT11 invoice into its named sections.
// Adapters load this lazily — only once a payment is actually attempted.
type InvoiceDecoder interface {
	Decode(invoice string) (map[string]string, error)
}

// DecodeAmountSats extracts the invoice's "amount" section (millisatoshis,
// as a decimal string) via decoder and rounds up to whole satoshis.
func DecodeAmountSats(decoder InvoiceDecoder, invoice string) (int64, error) {
	sections, err := decoder.Decode(invoice)
	if err != nil {
		return 0, fmt.Errorf("lnwire: quote-failed: decoding invoice: %w", err)
	}
	raw, ok := sections["amount"]
	if !ok {
		return 0, fmt.Errorf("lnwire: quote-failed: invoice has no amount section")
	}
	msats, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lnwire: quote-failed: invoice amount %q is not numeric", raw)
	}
	if msats <= 0 {
		return 0, fmt.Errorf("lnwire: quote-failed: invoice amount must be positive, got %d msats", msats)
	}
	sats := (msats + 999) / 1000
	return sats, nil
}
