// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIClient reads the indexer's query API.
type APIClient struct {
	url    string
	client *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(url string) *APIClient {
	return &APIClient{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-success response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Get fetches path and decodes the response data into out.
func (c *APIClient) Get(path string, out interface{}) error {
	resp, err := c.client.Get(c.url + path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var result struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *string         `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if result.Status != "success" {
		msg := ""
		if result.Error != nil {
			msg = *result.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(result.Data, out)
}
