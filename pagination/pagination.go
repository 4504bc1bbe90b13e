// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package pagination implements keyset pagination over result sets ordered
// by (primary DESC, key ASC). Cursors identify an exact row position, so
// pages neither skip nor repeat rows when data is inserted between requests.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor is returned for cursors that cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a row position in (primary DESC, key ASC) order.
type Cursor struct {
	Primary int64  `json:"p"`
	Key     string `json:"k"`
}

// Encode returns the opaque token for c.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses an opaque cursor token.
func Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.Key == "" {
		return Cursor{}, fmt.Errorf("%w: missing key", ErrInvalidCursor)
	}
	return c, nil
}

// Before reports whether c sorts strictly before o.
func (c Cursor) Before(o Cursor) bool {
	if c.Primary != o.Primary {
		return c.Primary > o.Primary
	}
	return c.Key < o.Key
}

// PageInfo describes the position of a page within the full result set.
type PageInfo struct {
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
	StartCursor     *string `json:"startCursor"`
	EndCursor       *string `json:"endCursor"`
}

// Page is one page of results.
type Page[T any] struct {
	Items      []T      `json:"items"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount int      `json:"totalCount"`
}

// Window is a validated page request.
type Window struct {
	After  *Cursor
	Before *Cursor
	Limit  int
}

// NewWindow decodes the after/before tokens. Empty tokens are ignored.
func NewWindow(after, before string, limit int) (Window, error) {
	if limit < 1 {
		return Window{}, fmt.Errorf("limit must be at least 1")
	}
	w := Window{Limit: limit}
	if after != "" {
		c, err := Decode(after)
		if err != nil {
			return Window{}, err
		}
		w.After = &c
	}
	if before != "" {
		c, err := Decode(before)
		if err != nil {
			return Window{}, err
		}
		w.Before = &c
	}
	return w, nil
}

// Backward reports whether the page is read towards the start of the
// ordering, which happens when only a before cursor is given.
func (w Window) Backward() bool {
	return w.Before != nil && w.After == nil
}

// FetchLimit is the number of rows to read: one more than the page size so
// the presence of a further page is known without counting.
func (w Window) FetchLimit() int {
	return w.Limit + 1
}

// Includes reports whether the row at c passes the after/before filters.
func (w Window) Includes(c Cursor) bool {
	if w.After != nil && !w.After.Before(c) {
		return false
	}
	if w.Before != nil && !c.Before(*w.Before) {
		return false
	}
	return true
}

// Finish trims the look-ahead row and computes page info. rows must be in
// fetch order: canonical order when reading forward, reversed when reading
// backward.
func Finish[T any](w Window, rows []T, cursor func(T) Cursor) ([]T, PageInfo) {
	extra := len(rows) > w.Limit
	if extra {
		rows = rows[:w.Limit]
	}
	items := make([]T, len(rows))
	copy(items, rows)

	var info PageInfo
	if w.Backward() {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
		info.HasPreviousPage = extra
		info.HasNextPage = true
	} else {
		info.HasNextPage = extra
		info.HasPreviousPage = w.After != nil
	}
	if len(items) > 0 {
		start := cursor(items[0]).Encode()
		end := cursor(items[len(items)-1]).Encode()
		info.StartCursor = &start
		info.EndCursor = &end
	}
	return items, info
}

// Slice pages through rows already sorted in canonical order.
func Slice[T any](w Window, sorted []T, cursor func(T) Cursor) ([]T, PageInfo) {
	fetched := make([]T, 0, w.FetchLimit())
	if w.Backward() {
		for i := len(sorted) - 1; i >= 0 && len(fetched) < w.FetchLimit(); i-- {
			if w.Includes(cursor(sorted[i])) {
				fetched = append(fetched, sorted[i])
			}
		}
	} else {
		for i := 0; i < len(sorted) && len(fetched) < w.FetchLimit(); i++ {
			if w.Includes(cursor(sorted[i])) {
				fetched = append(fetched, sorted[i])
			}
		}
	}
	return Finish(w, fetched, cursor)
}

// Less orders two cursors canonically.
func Less(a, b Cursor) bool {
	return a.Before(b)
}
