package heartrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fixedRand always returns the configured index (clamped to n-1).
type fixedRand struct{ idx int }

func (f fixedRand) IntN(n int) int {
	if f.idx >= n {
		return n - 1
	}
	return f.idx
}

func newTestTable(t *testing.T) *ThresholdTable {
	t.Helper()
	table, err := NewThresholdTable(map[int][]string{
		70:  {"a {{bpm}}"},
		80:  {"b {{bpm}}"},
		100: {"c {{bpm}}"},
		130: {"d {{bpm}}"},
		150: {"e1 {{bpm}}", "e2 {{bpm}}"},
		999: {"f1 {{bpm}}", "f2 {{bpm}}", "f3 {{bpm}}"},
	})
	require.NoError(t, err)
	return table
}

func TestThresholdTable_Bucket(t *testing.T) {
	table := newTestTable(t)

	tests := []struct {
		bpm  int
		want int
	}{
		{bpm: 65, want: 70},
		{bpm: 70, want: 80},
		{bpm: 79, want: 80},
		{bpm: 149, want: 150},
		{bpm: 150, want: 999},
		{bpm: 999, want: 999},
		{bpm: 5000, want: 999},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Bucket(tt.bpm), "bpm %d", tt.bpm)
	}
}

func TestThresholdTable_Bounds(t *testing.T) {
	assert.Equal(t, []int{70, 80, 100, 130, 150, 999}, newTestTable(t).Bounds())
}

func TestNewThresholdTable_Validation(t *testing.T) {
	_, err := NewThresholdTable(nil)
	assert.ErrorIs(t, err, ErrEmptyTable)

	_, err = NewThresholdTable(map[int][]string{70: {}})
	assert.Error(t, err)
}

func TestParseThresholdTable(t *testing.T) {
	table, err := ParseThresholdTable(DefaultLabels())
	require.NoError(t, err)
	assert.Equal(t, []int{70, 80, 100, 130, 150, 999}, table.Bounds())

	_, err = ParseThresholdTable(map[string][]string{"high": {"x"}})
	assert.Error(t, err)
}

func TestSelector_Text(t *testing.T) {
	table := newTestTable(t)

	t.Run("substitutes the bpm", func(t *testing.T) {
		s := NewSelector(table, fixedRand{})
		assert.Equal(t, "a 65", s.Text(65))
		assert.Equal(t, "b 70", s.Text(70))
	})

	t.Run("uses injected randomness for multi-template buckets", func(t *testing.T) {
		assert.Equal(t, "f1 5000", NewSelector(table, fixedRand{idx: 0}).Text(5000))
		assert.Equal(t, "f3 5000", NewSelector(table, fixedRand{idx: 2}).Text(5000))
		assert.Equal(t, "e2 140", NewSelector(table, fixedRand{idx: 1}).Text(140))
	})

	t.Run("global source stays within bucket", func(t *testing.T) {
		s := NewSelector(table, nil)
		for i := 0; i < 20; i++ {
			assert.Contains(t, []string{"e1 140", "e2 140"}, s.Text(140))
		}
	})

	t.Run("every template occurrence is replaced", func(t *testing.T) {
		single, err := NewThresholdTable(map[int][]string{100: {"{{bpm}}/{{bpm}}"}})
		require.NoError(t, err)
		assert.Equal(t, "90/90", NewSelector(single, nil).Text(90))
	})
}
