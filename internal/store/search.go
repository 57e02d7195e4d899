package store

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// OrderSpec maps an external sort key (as accepted in the "order_by" query
// parameter) to the backing column name.
type OrderSpec map[string]string

// FilterSpec maps an external filter key to the backing column name and the
// SQL comparison operator applied to it. Values are comma-separated and
// OR'd together, mirroring database.py's api_parametrized_search.
type FilterSpec map[string]struct {
	Column   string
	Operator string
}

// Filter builds one FilterSpec entry. Convenience constructor for the
// literal map syntax used when declaring a SearchSpec.
func Filter(column, operator string) struct {
	Column   string
	Operator string
} {
	return struct {
		Column   string
		Operator string
	}{Column: column, Operator: operator}
}

// SearchSpec describes one searchable table: which columns it is
// selected, ordered and filtered by from an HTTP query string. Grounded on
// _examples/original_source/c2/secchiware_c2/database.py's
// api_parametrized_search, reimplemented against Postgres placeholders
// ($1, $2, ...) instead of sqlite's named ":key" placeholders.
type SearchSpec struct {
	Table         string
	SelectColumns []string
	OrderBy       OrderSpec
	Filters       FilterSpec
}

// BuildSearch turns an HTTP query string into a parametrized SELECT
// statement and its positional argument list. It returns an error for any
// parameter combination the original API rejects: an unknown order_by/
// filter key, an "arrange" without "order_by", an "offset" without
// "limit", or a non-positive limit.
func BuildSearch(spec SearchSpec, params url.Values) (string, []interface{}, error) {
	var b strings.Builder
	if len(spec.SelectColumns) == 0 {
		fmt.Fprintf(&b, "SELECT * FROM %s", spec.Table)
	} else {
		fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(spec.SelectColumns, ", "), spec.Table)
	}

	remaining := make(map[string]string, len(params))
	for k := range params {
		remaining[k] = params.Get(k)
	}

	var args []interface{}
	whereClause, err := buildWhereClause(spec, remaining, &args)
	if err != nil {
		return "", nil, err
	}

	orderClause, err := buildOrderClause(spec, remaining)
	if err != nil {
		return "", nil, err
	}

	limitClause, err := buildLimitClause(remaining)
	if err != nil {
		return "", nil, err
	}

	for k := range remaining {
		return "", nil, fmt.Errorf("invalid query parameter %q", k)
	}

	if whereClause != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereClause)
	}
	if orderClause != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderClause)
	}
	if limitClause != "" {
		b.WriteString(" ")
		b.WriteString(limitClause)
	}

	return b.String(), args, nil
}

func buildOrderClause(spec SearchSpec, remaining map[string]string) (string, error) {
	orderKey, hasOrder := remaining["order_by"]
	arrangeKey, hasArrange := remaining["arrange"]

	if !hasOrder {
		if hasArrange {
			return "", fmt.Errorf("arrange key present when no order is specified")
		}
		return "", nil
	}
	column, ok := spec.OrderBy[orderKey]
	if !ok {
		return "", fmt.Errorf("invalid order_by key %q", orderKey)
	}
	delete(remaining, "order_by")

	clause := column
	if hasArrange {
		if arrangeKey != "asc" && arrangeKey != "desc" {
			return "", fmt.Errorf("invalid arrange value %q", arrangeKey)
		}
		clause = clause + " " + arrangeKey
		delete(remaining, "arrange")
	}
	return clause, nil
}

func buildLimitClause(remaining map[string]string) (string, error) {
	limitVal, hasLimit := remaining["limit"]
	offsetVal, hasOffset := remaining["offset"]

	if !hasLimit {
		if hasOffset {
			return "", fmt.Errorf("offset key present when no limit is specified")
		}
		return "", nil
	}
	limit, err := strconv.Atoi(limitVal)
	if err != nil || limit <= 0 {
		return "", fmt.Errorf("invalid limit value %q", limitVal)
	}
	delete(remaining, "limit")

	clause := fmt.Sprintf("LIMIT %d", limit)
	if hasOffset {
		offset, err := strconv.Atoi(offsetVal)
		if err != nil || offset < 0 {
			return "", fmt.Errorf("invalid offset value %q", offsetVal)
		}
		clause = fmt.Sprintf("%s OFFSET %d", clause, offset)
		delete(remaining, "offset")
	}
	return clause, nil
}

func buildWhereClause(spec SearchSpec, remaining map[string]string, args *[]interface{}) (string, error) {
	keys := make([]string, 0, len(remaining))
	for key := range remaining {
		if key == "order_by" || key == "arrange" || key == "limit" || key == "offset" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conditions []string
	for _, key := range keys {
		filter, ok := spec.Filters[key]
		if !ok {
			continue // surfaced by the unknown-parameter check in BuildSearch
		}
		raw := remaining[key]
		delete(remaining, key)

		values := strings.Split(raw, ",")
		var ors []string
		for _, v := range values {
			*args = append(*args, v)
			ors = append(ors, fmt.Sprintf("%s%s$%d", filter.Column, filter.Operator, len(*args)))
		}
		conditions = append(conditions, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(conditions, " AND "), nil
}
