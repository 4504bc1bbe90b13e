// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package pagination

import (
	"fmt"
	"strings"
)

// Predicate renders the after/before filters as a SQL condition over the
// primary and key columns using $n placeholders starting at nextArg. It
// returns "" when the window has no cursors.
func (w Window) Predicate(primaryCol, keyCol string, nextArg int) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if w.After != nil {
		clauses = append(clauses, fmt.Sprintf("(%s < $%d OR (%s = $%d AND %s > $%d))",
			primaryCol, nextArg, primaryCol, nextArg, keyCol, nextArg+1))
		args = append(args, w.After.Primary, w.After.Key)
		nextArg += 2
	}
	if w.Before != nil {
		clauses = append(clauses, fmt.Sprintf("(%s > $%d OR (%s = $%d AND %s < $%d))",
			primaryCol, nextArg, primaryCol, nextArg, keyCol, nextArg+1))
		args = append(args, w.Before.Primary, w.Before.Key)
	}
	return strings.Join(clauses, " AND "), args
}

// OrderBy returns the ORDER BY expression in fetch order.
func (w Window) OrderBy(primaryCol, keyCol string) string {
	if w.Backward() {
		return fmt.Sprintf("%s ASC, %s DESC", primaryCol, keyCol)
	}
	return fmt.Sprintf("%s DESC, %s ASC", primaryCol, keyCol)
}
