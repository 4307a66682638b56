// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package timestamps_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bronzelake/datapipeline/private/timestamps"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  time.Time
		ok    bool
	}{
		{
			name:  "nil",
			value: nil,
			ok:    false,
		},
		{
			name:  "epoch seconds",
			value: float64(1700000000),
			want:  time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "epoch milliseconds",
			value: float64(1700000000000),
			want:  time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "fractional epoch seconds",
			value: 1700000000.123,
			want:  time.Date(2023, 11, 14, 22, 13, 20, 123e6, time.UTC),
			ok:    true,
		},
		{
			name:  "iso with zone",
			value: "2025-01-01T12:00:00.123Z",
			want:  time.Date(2025, 1, 1, 12, 0, 0, 123e6, time.UTC),
			ok:    true,
		},
		{
			name:  "iso with offset",
			value: "2025-01-01T19:00:00+07:00",
			want:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "naive iso treated as utc",
			value: "2025-01-01T12:00:00",
			want:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "date only",
			value: "2025-01-01",
			want:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "wrapped date",
			value: map[string]interface{}{"$date": "2025-01-01T12:00:00Z"},
			want:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "wrapped epoch millis",
			value: map[string]interface{}{"$date": float64(1700000000000)},
			want:  time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "garbage string",
			value: "not a timestamp",
			ok:    false,
		},
		{
			name:  "unrelated map",
			value: map[string]interface{}{"x": 1},
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := timestamps.Parse(tt.value)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	instant := time.Date(2025, 1, 1, 12, 0, 0, 123e6, time.UTC)
	assert.Equal(t, "2025-01-01T12:00:00.123Z", timestamps.FormatSearch(instant))
	assert.Equal(t, "2025-01-01 12:00:00.123", timestamps.FormatClickHouse(instant))
}

func TestRoundTrip(t *testing.T) {
	// Whole-millisecond instants survive both wire formats.
	instants := []time.Time{
		time.Date(2025, 1, 1, 12, 0, 0, 123e6, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 999e6, time.UTC),
		time.Date(2038, 1, 19, 3, 14, 7, 0, time.UTC),
	}
	for _, instant := range instants {
		parsed, ok := timestamps.Parse(timestamps.FormatSearch(instant))
		require.True(t, ok)
		assert.True(t, instant.Equal(parsed))

		parsed, ok = timestamps.Parse(timestamps.FormatClickHouse(instant))
		require.True(t, ok)
		assert.True(t, instant.Equal(parsed))
	}
}
