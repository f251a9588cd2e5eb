// Package util contains helper functions used around the code.
package util

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// InFold is like In but compares case-insensitively.
func InFold(ss []string, s string) bool {
	for _, v := range ss {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// AddressVariants returns the spellings under which a wallet address may have been stored: as given, lower case
// and EIP-55 checksummed. Duplicates are removed.
func AddressVariants(addr string) []string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}

	vs := []string{addr}
	for _, v := range []string{strings.ToLower(addr), checksum(addr)} {
		if v != "" && !In(vs, v) {
			vs = append(vs, v)
		}
	}

	return vs
}

func checksum(addr string) string {
	if !common.IsHexAddress(addr) {
		return ""
	}
	return common.HexToAddress(addr).Hex()
}
