package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2h", now.Add(-2 * time.Hour)},
		{"1h30m", now.Add(-90 * time.Minute)},
		{"3d", now.AddDate(0, 0, -3)},
		{"0d", now},
		{"2024-03-01T09:00:00Z", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{" 2h ", now.Add(-2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := Parse(tt.value, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, value := range []string{"", "yesterday", "-d", "2024-13-01", "5x"} {
		t.Run(value, func(t *testing.T) {
			_, err := Parse(value, now)
			assert.Error(t, err)
		})
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("2d", "1h", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -2), r.Since)
	assert.Equal(t, now.Add(-time.Hour), r.Until)

	r, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, r.Since.IsZero())
	assert.True(t, r.Until.IsZero())

	_, err = ParseRange("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, err = ParseRange("bogus", "", now)
	assert.ErrorContains(t, err, "invalid --since")
}
