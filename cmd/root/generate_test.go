package root

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "00:00"},
		{999, "00:00"},
		{1000, "00:01"},
		{59999, "00:59"},
		{60000, "01:00"},
		{3599000, "59:59"},
		{3600000, "60:00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatTimestamp(tc.ms))
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("short", 10))
	assert.Equal(t, "exactly-te", excerpt("exactly-te", 10))
	assert.Equal(t, "truncated-…", excerpt("truncated-here", 10))
	// Rune-aware: multi-byte characters count as one.
	assert.Equal(t, "héllo", excerpt("héllo", 5))
}
