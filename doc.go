// Package x402pay is a client-side payment engine for HTTP resources that
// demand machine-initiated payment before serving content. It discovers
// that a request requires payment, negotiates amount and settlement
// channel with the server, signs and delivers a cryptographic payment
// proof, and returns the final response.
//
// Two payment families are supported: a stablecoin-on-blockchain family
// (over the evm and svm chain namespaces) and a Lightning-Network-invoice
// family. Both are reached through the same Adapter contract so the
// Orchestrator never needs to know which family it is talking to.
package x402pay
