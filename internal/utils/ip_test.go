package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowlistContains(t *testing.T) {
	list := ParseAllowlist([]string{"185.71.76.0/27", "not-a-cidr", "2a02:5180::/32"})

	assert.True(t, list.Contains("185.71.76.5"))
	assert.True(t, list.Contains("2a02:5180::1"))
	assert.False(t, list.Contains("185.71.76.40"))
	assert.False(t, list.Contains("garbage"))
	assert.False(t, ParseAllowlist(nil).Contains("127.0.0.1"))
}

func TestParseAllowlistSkipsInvalid(t *testing.T) {
	list := ParseAllowlist([]string{"10.0.0.0/8", "bad", ""})
	assert.Len(t, list, 1)
	assert.True(t, list.Contains("10.20.30.40"))
	assert.False(t, list.Contains("11.0.0.1"))
}
