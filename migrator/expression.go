// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package migrator

import (
	"strings"

	"github.com/bronzelake/datapipeline/private/ident"
)

// CompileExpression turns a parsing field's path list into a warehouse
// expression over the raw landing row. The list is newline- or
// comma-separated with fallback semantics: the first path that yields a
// value wins. An empty list produces a typed NULL.
func CompileExpression(jsonPath, columnType string) (string, error) {
	paths := splitPaths(jsonPath)
	if len(paths) == 0 {
		return "CAST(NULL AS " + columnType + ")", nil
	}

	unwrapped := unwrapNullable(columnType)
	if strings.HasPrefix(unwrapped, "Array(") {
		chain := "[]"
		for i := len(paths) - 1; i >= 0; i-- {
			expr, err := compileArrayPath(paths[i], unwrapped)
			if err != nil {
				return "", err
			}
			chain = "ifNull(" + expr + ", " + chain + ")"
		}
		return chain, nil
	}

	exprs := make([]string, 0, len(paths))
	for _, path := range paths {
		expr, err := compileScalarPath(path, unwrapped)
		if err != nil {
			return "", err
		}
		exprs = append(exprs, expr)
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return "coalesce(" + strings.Join(exprs, ", ") + ")", nil
}

func splitPaths(jsonPath string) []string {
	var paths []string
	for _, chunk := range strings.FieldsFunc(jsonPath, func(r rune) bool {
		return r == '\n' || r == ','
	}) {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	return paths
}

func unwrapNullable(columnType string) string {
	if strings.HasPrefix(columnType, "Nullable(") && strings.HasSuffix(columnType, ")") {
		return columnType[len("Nullable(") : len(columnType)-1]
	}
	return columnType
}

// normalizePath makes a stored path addressable: a leading `$` is kept,
// a bare field list gets the `$.` root, and `@`-prefixed names are
// quoted since the dialect treats `@` specially.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	if strings.HasPrefix(path, "@") {
		return `$."` + path + `"`
	}
	return "$." + path
}

func compileScalarPath(path, unwrapped string) (string, error) {
	if name, ok := strings.CutPrefix(path, "__"); ok {
		if err := ident.Require(name); err != nil {
			return "", err
		}
		return name, nil
	}
	if rest, ok := strings.CutPrefix(path, "epoch_ms:"); ok {
		return "fromUnixTimestamp64Milli(toInt64OrNull(" + jsonValue(rest) + "))", nil
	}
	return coerceScalar(jsonValue(path), unwrapped), nil
}

func jsonValue(path string) string {
	return "JSON_VALUE(raw,'" + escapeLiteral(normalizePath(path)) + "')"
}

// coerceScalar wraps the extracted string in the coercion matching the
// column's unwrapped type. Unknown types fall back to an empty-string
// NULL so blank extractions do not materialize as empty values.
func coerceScalar(base, unwrapped string) string {
	switch {
	case strings.HasPrefix(unwrapped, "DateTime"):
		return "parseDateTime64BestEffortOrNull(" + base + ")"
	case unwrapped == "IPv6":
		return "toIPv6OrNull(" + base + ")"
	case strings.HasPrefix(unwrapped, "UInt"):
		return "toUInt" + intWidth(unwrapped[len("UInt"):]) + "OrNull(" + base + ")"
	case strings.HasPrefix(unwrapped, "Int"):
		return "toInt" + intWidth(unwrapped[len("Int"):]) + "OrNull(" + base + ")"
	case strings.HasPrefix(unwrapped, "Float"):
		return "toFloat64OrNull(" + base + ")"
	default:
		return "nullIf(" + base + ", '')"
	}
}

func intWidth(suffix string) string {
	if suffix == "" || strings.ContainsFunc(suffix, func(r rune) bool { return r < '0' || r > '9' }) {
		return "64"
	}
	return suffix
}

func compileArrayPath(path, arrayType string) (string, error) {
	if name, ok := strings.CutPrefix(path, "__"); ok {
		if err := ident.Require(name); err != nil {
			return "", err
		}
		return name, nil
	}
	if rest, ok := strings.CutPrefix(path, "epoch_ms:"); ok {
		return "fromUnixTimestamp64Milli(toInt64OrNull(" + jsonValue(rest) + "))", nil
	}

	segments := pathSegments(normalizePath(path))
	if len(segments) == 0 {
		return "CAST(NULL AS " + arrayType + ")", nil
	}
	if len(segments) == 1 {
		return "JSONExtract(raw,'" + escapeLiteral(segments[0]) + "','" + arrayType + "')", nil
	}

	expr := "JSONExtractRaw(raw,'" + escapeLiteral(segments[0]) + "')"
	for _, segment := range segments[1 : len(segments)-1] {
		expr = "JSONExtractRaw(" + expr + ",'" + escapeLiteral(segment) + "')"
	}
	leaf := segments[len(segments)-1]
	return "JSONExtract(" + expr + ",'" + escapeLiteral(leaf) + "','" + arrayType + "')", nil
}

// pathSegments splits a normalized path into its segments. Quoted
// segments may contain dots.
func pathSegments(path string) []string {
	trimmed := strings.TrimPrefix(path, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")

	var segments []string
	var current strings.Builder
	inQuotes := false
	for _, r := range trimmed {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == '.' && !inQuotes:
			if current.Len() > 0 {
				segments = append(segments, current.String())
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

func escapeLiteral(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return value
}
