package util

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dORM/lib/hdal"
)

// ParseValue interprets a command line value as JSON (numbers, booleans, lists,
// objects, quoted strings, null) and falls back to the raw string
func ParseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// ParseFilter parses a filter in the format field:OP:value, e.g. size:GT:100 or
// name:EQ~:SDA for a case insensitive comparison
func ParseFilter(s string) (hdal.Filter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return hdal.Filter{}, fmt.Errorf("invalid filter %q (expected field:OP:value)", s)
	}

	op := strings.ToUpper(parts[1])
	fold := strings.HasSuffix(op, "~")
	op = strings.TrimSuffix(op, "~")

	f := hdal.Filter{Field: parts[0], Value: ParseValue(parts[2]), IgnoreCase: fold}
	switch hdal.Operator(op) {
	case hdal.EQ, hdal.NE, hdal.LT, hdal.GT, hdal.IN:
		f.Op = hdal.Operator(op)
	default:
		return hdal.Filter{}, fmt.Errorf("invalid operator %q in filter %q (expected one of: EQ, NE, LT, GT, IN)", parts[1], s)
	}
	return f, nil
}

// ParseAssignment parses field=value
func ParseAssignment(s string) (string, any, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid assignment %q (expected field=value)", s)
	}
	return name, ParseValue(value), nil
}
