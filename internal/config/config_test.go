package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CANCELLATION_THRESHOLD", "")
	cfg := LoadConfig()

	assert.Equal(t, 6, cfg.CancellationThreshold, "unparsable values fall back")
	assert.Equal(t, 15*time.Minute, cfg.ClaimTTL)
	assert.Equal(t, "postgres", cfg.Store)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CANCELLATION_THRESHOLD", "4")
	t.Setenv("CLAIM_TTL", "2m")
	t.Setenv("CHARGES_PER_SECOND", "0.5")
	t.Setenv("TELEGRAM_ADMIN_CHAT_ID", "-100123")
	t.Setenv("ADMIN_ALLOWED_CIDRS", "10.0.0.0/8, 192.168.1.0/24,")
	t.Setenv("STORE", "memory")

	cfg := LoadConfig()
	assert.Equal(t, 4, cfg.CancellationThreshold)
	assert.Equal(t, 2*time.Minute, cfg.ClaimTTL)
	assert.Equal(t, 0.5, cfg.ChargesPerSecond)
	assert.Equal(t, int64(-100123), cfg.AdminChatID)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.0/24"}, cfg.AdminAllowedCIDRs)
	assert.Equal(t, "memory", cfg.Store)
}
