// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// ChainNode is an in-process JSON-RPC node serving eth_blockNumber and the
// helper contract's getExchangeRates() call. Every eth_blockNumber request
// advances the head by one block.
type ChainNode struct {
	server *httptest.Server
	helper string

	mu    sync.Mutex
	head  uint64
	rates map[string]*big.Int
	order []string
	calls int
}

// StartNode starts a node whose helper contract lives at helper.
func StartNode(helper string, startBlock uint64) *ChainNode {
	n := &ChainNode{
		helper: strings.ToLower(helper),
		head:   startBlock,
		rates:  make(map[string]*big.Int),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// URL returns the RPC endpoint.
func (n *ChainNode) URL() string { return n.server.URL }

// Close stops the node.
func (n *ChainNode) Close() { n.server.Close() }

// SetRate sets the exchange rate the helper reports for token.
func (n *ChainNode) SetRate(token string, rate *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	token = strings.ToLower(token)
	if _, ok := n.rates[token]; !ok {
		n.order = append(n.order, token)
	}
	n.rates[token] = new(big.Int).Set(rate)
}

// RateCalls reports how many getExchangeRates() calls were served.
func (n *ChainNode) RateCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *ChainNode) serve(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		result interface{}
		rpcErr *rpcError
	)
	switch req.Method {
	case "eth_blockNumber":
		n.mu.Lock()
		n.head++
		result = fmt.Sprintf("0x%x", n.head)
		n.mu.Unlock()
	case "eth_chainId":
		result = "0x3e7"
	case "eth_call":
		result, rpcErr = n.call(req.Params)
	default:
		rpcErr = &rpcError{Code: -32601, Message: "method not found"}
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *ChainNode) call(params []json.RawMessage) (interface{}, *rpcError) {
	if len(params) == 0 {
		return nil, &rpcError{Code: -32602, Message: "missing call object"}
	}
	var msg struct {
		To   string `json:"to"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(params[0], &msg); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	if strings.ToLower(msg.To) != n.helper {
		return "0x", nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return "0x" + hex.EncodeToString(encodeRates(n.order, n.rates)), nil
}

// encodeRates ABI-encodes an (address,uint256)[] return value.
func encodeRates(order []string, rates map[string]*big.Int) []byte {
	out := make([]byte, 0, 64+64*len(order))
	out = append(out, word(big.NewInt(32))...)
	out = append(out, word(big.NewInt(int64(len(order))))...)
	for _, token := range order {
		addr, _ := hex.DecodeString(strings.TrimPrefix(token, "0x"))
		out = append(out, word(new(big.Int).SetBytes(addr))...)
		out = append(out, word(rates[token])...)
	}
	return out
}

func word(v *big.Int) []byte {
	w := make([]byte, 32)
	return v.FillBytes(w)
}
