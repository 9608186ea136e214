package chainsigner

import "regexp"

var evmAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// validEVMAddress guards against common.HexToAddress's silent truncate/pad
// behaviour on malformed input: it never errors, it just mangles the bytes.
func validEVMAddress(address string) bool {
	return evmAddressPattern.MatchString(address)
}
