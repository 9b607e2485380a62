package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("3f8b9c2e-7c1d-4e6a-9a59-1c2d3e4f5a6b"))
	assert.NoError(t, ValidateSessionID("3F8B9C2E-7C1D-4E6A-9A59-1C2D3E4F5A6B"))

	for _, id := range []string{"", "abc", "3f8b9c2e7c1d4e6a9a591c2d3e4f5a6b", "{3f8b9c2e-7c1d-4e6a-9a59-1c2d3e4f5a6b}", "../etc/passwd"} {
		assert.Error(t, ValidateSessionID(id), id)
	}
	assert.Error(t, ValidatePreviewKey("nope"))
}

func TestValidateWait(t *testing.T) {
	maxWait := 30 * time.Second
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"false", 0},
		{"0", 0},
		{"true", maxWait},
		{"5s", 5 * time.Second},
		{"10", 10 * time.Second},
		{"2m", maxWait},
		{" 1500ms ", 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := ValidateWait(tt.in, maxWait)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, in := range []string{"soon", "-5s", "-1"} {
		_, err := ValidateWait(in, maxWait)
		assert.Error(t, err, in)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "label.png", SanitizeString("  label\x00.png\x07 "))
	assert.Equal(t, "a\tb", SanitizeString("a\tb"))
}

func TestValidateLimit(t *testing.T) {
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 20, ValidateLimit(-3))
	assert.Equal(t, 50, ValidateLimit(50))
	assert.Equal(t, 100, ValidateLimit(1000))
}
