// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package evm provides the JSON-RPC client used to read the chain head and
// call view functions on protocol contracts.
package evm

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/time/rate"
)

// ErrEmptyResult is returned when eth_call yields no data, which is what
// nodes answer for calls to addresses without code.
var ErrEmptyResult = errors.New("empty call result")

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Adapter talks to an EVM node over HTTP JSON-RPC.
type Adapter struct {
	rpcEndpoint string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// AdapterOption configures the adapter
type AdapterOption func(*Adapter)

// WithRateLimit caps outgoing requests per second. Zero or negative
// disables limiting.
func WithRateLimit(perSecond float64) AdapterOption {
	return func(a *Adapter) {
		if perSecond <= 0 {
			a.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) AdapterOption {
	return func(a *Adapter) {
		a.httpClient = c
	}
}

// New creates a new adapter for rpcEndpoint.
func New(rpcEndpoint string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		rpcEndpoint: rpcEndpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Endpoint returns the RPC URL.
func (a *Adapter) Endpoint() string { return a.rpcEndpoint }

// BlockNumber returns the latest block height.
func (a *Adapter) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := a.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	n := hexToBigInt(s)
	if n == nil || !n.IsUint64() {
		return 0, fmt.Errorf("invalid block number %q", s)
	}
	return n.Uint64(), nil
}

// ChainID returns the node's chain id.
func (a *Adapter) ChainID(ctx context.Context) (uint64, error) {
	result, err := a.call(ctx, "eth_chainId", []interface{}{})
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return 0, fmt.Errorf("decode chain id: %w", err)
	}
	n := hexToBigInt(s)
	if n == nil || !n.IsUint64() {
		return 0, fmt.Errorf("invalid chain id %q", s)
	}
	return n.Uint64(), nil
}

// CallContract executes a read-only call against the latest state.
func (a *Adapter) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	result, err := a.call(ctx, "eth_call", []interface{}{
		map[string]string{"to": to, "data": "0x" + hex.EncodeToString(data)},
		"latest",
	})
	if err != nil {
		return nil, err
	}
	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	out = strings.TrimPrefix(out, "0x")
	if out == "" {
		return nil, ErrEmptyResult
	}
	b, err := hex.DecodeString(out)
	if err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	return b, nil
}

// call makes a JSON-RPC call to the node
func (a *Adapter) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.rpcEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var result struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return result.Result, nil
}

// Selector returns the 4-byte function selector for a canonical signature
// such as "getExchangeRates()".
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

func hexToBigInt(s string) *big.Int {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil
	}
	return n
}
