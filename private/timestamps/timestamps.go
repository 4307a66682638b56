// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package timestamps converts between the timestamp shapes seen in
// upstream documents (epoch numbers, ISO-8601 strings, Mongo-style
// {"$date": ...} wrappers) and the formats the search engine and the
// warehouse expect. All instants are UTC with millisecond precision.
package timestamps

import (
	"encoding/json"
	"math"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// Values above it cannot be plausible epoch seconds (year 5138).
const epochMillisThreshold = 1e11

// searchLayout is the wire format for range queries against the search
// engine.
const searchLayout = "2006-01-02T15:04:05.000Z"

// clickhouseLayout is what DateTime64(3) columns accept.
const clickhouseLayout = "2006-01-02 15:04:05.000"

// isoLayouts are the accepted ISO-8601 variants, tried in order. Layouts
// without a zone are interpreted as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Parse interprets value as a point in time. It accepts nil (reported as
// absent), epoch seconds or milliseconds as numbers, ISO-8601 strings,
// and maps wrapping any of those under a "$date" key.
func Parse(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return fromEpoch(v), true
	case float32:
		return fromEpoch(float64(v)), true
	case int:
		return fromEpoch(float64(v)), true
	case int64:
		return fromEpoch(float64(v)), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f), true
	case string:
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case map[string]interface{}:
		if wrapped, ok := v["$date"]; ok {
			return Parse(wrapped)
		}
		return time.Time{}, false
	case time.Time:
		return v.UTC(), true
	default:
		return time.Time{}, false
	}
}

func fromEpoch(v float64) time.Time {
	millis := v * 1000
	if v > epochMillisThreshold {
		millis = v
	}
	return time.UnixMilli(int64(math.Round(millis))).UTC()
}

// FormatSearch renders t for upstream range queries, e.g.
// 2025-01-01T11:50:00.000Z.
func FormatSearch(t time.Time) string {
	return t.UTC().Format(searchLayout)
}

// FormatClickHouse renders t for DateTime64(3) literals and JSONEachRow
// payloads, e.g. 2025-01-01 12:00:00.123.
func FormatClickHouse(t time.Time) string {
	return t.UTC().Format(clickhouseLayout)
}
