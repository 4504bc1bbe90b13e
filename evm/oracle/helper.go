// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/ltindexer/evm"
)

const getExchangeRatesSig = "getExchangeRates()"

// Caller executes read-only contract calls at the latest block.
type Caller interface {
	CallContract(ctx context.Context, to string, data []byte) ([]byte, error)
}

// HelperClient reads exchange rates from the leveraged token helper
// contract. Calls always target the latest state: the helper reads
// precompiles that revert for historical blocks.
type HelperClient struct {
	caller   Caller
	address  string
	selector []byte
}

// NewHelperClient returns a RateSource backed by the helper at address.
func NewHelperClient(caller Caller, address string) *HelperClient {
	return &HelperClient{
		caller:   caller,
		address:  strings.ToLower(address),
		selector: evm.Selector(getExchangeRatesSig),
	}
}

// ExchangeRates implements RateSource.
func (h *HelperClient) ExchangeRates(ctx context.Context) ([]Rate, error) {
	out, err := h.caller.CallContract(ctx, h.address, h.selector)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", getExchangeRatesSig, err)
	}
	rates, err := DecodeRates(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", getExchangeRatesSig, err)
	}
	return rates, nil
}

var errShortData = errors.New("abi: data too short")

// DecodeRates decodes an ABI-encoded (address,uint256)[] return value.
func DecodeRates(data []byte) ([]Rate, error) {
	const word = 32
	if len(data) < 2*word {
		return nil, errShortData
	}
	offset, err := wordInt(data[:word])
	if err != nil {
		return nil, fmt.Errorf("abi: offset: %w", err)
	}
	if offset+word > len(data) {
		return nil, errShortData
	}
	n, err := wordInt(data[offset : offset+word])
	if err != nil {
		return nil, fmt.Errorf("abi: length: %w", err)
	}
	body := data[offset+word:]
	if n > len(body)/(2*word) {
		return nil, errShortData
	}

	rates := make([]Rate, 0, n)
	for i := 0; i < n; i++ {
		elem := body[i*2*word : (i+1)*2*word]
		rates = append(rates, Rate{
			Instrument: "0x" + hex.EncodeToString(elem[12:word]),
			Rate:       new(big.Int).SetBytes(elem[word:]),
		})
	}
	return rates, nil
}

// wordInt reads a 32-byte word as a small non-negative int.
func wordInt(w []byte) (int, error) {
	v := new(big.Int).SetBytes(w)
	if !v.IsInt64() || v.Int64() > 1<<31 {
		return 0, fmt.Errorf("value %s out of range", v)
	}
	return int(v.Int64()), nil
}
