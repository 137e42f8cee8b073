package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatCount(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero", 0, "0"},
		{"small", 42, "42"},
		{"thousands", 12345, "12,345"},
		{"millions", 1234567, "1,234,567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatCount(tt.n))
		})
	}
}

func TestFormatNano(t *testing.T) {
	t.Run("zero is never", func(t *testing.T) {
		assert.Equal(t, "never", formatNano(0))
	})

	now := time.Now()

	t.Run("same year", func(t *testing.T) {
		sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
		result := formatNano(sameYear.UnixNano())
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)
		result := formatNano(diffYear.UnixNano())
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})
}

func TestParseID(t *testing.T) {
	id, err := parseID("12345")
	assert.NoError(t, err)
	assert.Equal(t, int64(12345), id)

	_, err = parseID("not-a-number")
	assert.Error(t, err)
}
