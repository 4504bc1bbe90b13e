// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/pagination"
	"github.com/luxfi/ltindexer/storage"
)

// validationError is reported to clients with status 400 and its message
// verbatim.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

func isValidation(err error) bool {
	var v *validationError
	return errors.As(err, &v) ||
		errors.Is(err, ledger.ErrInvalidAddress) ||
		errors.Is(err, ledger.ErrInvalidTxHash) ||
		errors.Is(err, pagination.ErrInvalidCursor)
}

// integer parses a query value the way a JSON client would write a
// number: "1", "1.0" and "1e2" are integers, "1.5" and "abc" are not.
func integer(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return int(math.Copysign(math.MaxInt32, f)), true
	}
	return int(f), true
}

// pageParams validates page and limit. Absent values take the defaults.
func pageParams(q url.Values, maxLimit int) (page, limit int, err error) {
	page, limit = 1, maxLimit
	if vals, ok := q["page"]; ok {
		n, ok := integer(vals[0])
		if !ok {
			return 0, 0, invalid("Page must be a valid integer")
		}
		if n < 1 {
			return 0, 0, invalid("Page must be at least 1")
		}
		page = n
	}
	if vals, ok := q["limit"]; ok {
		n, ok := integer(vals[0])
		if !ok {
			return 0, 0, invalid("Limit must be a valid integer")
		}
		if n > maxLimit {
			return 0, 0, invalid("Limit cannot exceed %d", maxLimit)
		}
		if n < 1 {
			return 0, 0, invalid("Limit must be at least 1")
		}
		limit = n
	}
	return page, limit, nil
}

// tradeQuery builds a trade listing query from the request parameters.
func tradeQuery(q url.Values, maxLimit int) (storage.TradeQuery, error) {
	page, limit, err := pageParams(q, maxLimit)
	if err != nil {
		return storage.TradeQuery{}, err
	}
	tq := storage.TradeQuery{
		Page:        page,
		Limit:       limit,
		SortBy:      storage.SortDate,
		Descending:  true,
		TargetAsset: q.Get("targetAsset"),
	}
	if vals, ok := q["sortBy"]; ok {
		f, err := storage.ParseSortField(vals[0])
		if err != nil || vals[0] == "" {
			return storage.TradeQuery{}, invalid("%s", sortByMessage())
		}
		tq.SortBy = f
	}
	if vals, ok := q["sortOrder"]; ok {
		switch vals[0] {
		case "asc":
			tq.Descending = false
		case "desc":
			tq.Descending = true
		default:
			return storage.TradeQuery{}, invalid("sortOrder must be 'asc' or 'desc'")
		}
	}
	if user := q.Get("user"); user != "" {
		if tq.User, err = ledger.ParseAddress(user); err != nil {
			return storage.TradeQuery{}, err
		}
	}
	if addr := q.Get("address"); addr != "" {
		if tq.Address, err = ledger.ParseAddress(addr); err != nil {
			return storage.TradeQuery{}, err
		}
	}
	return tq, nil
}

func sortByMessage() string {
	names := make([]string, len(storage.SortFields))
	for i, f := range storage.SortFields {
		names[i] = string(f)
	}
	return "sortBy must be one of: " + strings.Join(names, ", ")
}

// userWindow reads the cursor window of the user listing.
func userWindow(q url.Values, maxLimit int) (pagination.Window, error) {
	limits := url.Values{}
	if vals, ok := q["limit"]; ok {
		limits["limit"] = vals
	}
	_, limit, err := pageParams(limits, maxLimit)
	if err != nil {
		return pagination.Window{}, err
	}
	return pagination.NewWindow(q.Get("after"), q.Get("before"), limit)
}
