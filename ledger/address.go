// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress is returned for identifiers that are not 20-byte hex
// addresses.
var ErrInvalidAddress = errors.New("invalid address")

// ErrInvalidTxHash is returned for identifiers that are not 32-byte hex
// transaction hashes.
var ErrInvalidTxHash = errors.New("invalid transaction hash")

// ParseAddress validates a 0x-prefixed 20-byte hex address and returns its
// lowercase form.
func ParseAddress(s string) (string, error) {
	if !IsAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return strings.ToLower(s), nil
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex string.
func IsAddress(s string) bool {
	return isHex(s, 40)
}

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex string.
func IsTxHash(s string) bool {
	return isHex(s, 64)
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

func isHex(s string, digits int) bool {
	if len(s) != digits+2 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
