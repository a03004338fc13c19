package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"recurring-orders/internal/config"
)

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{RedisHost: mr.Host(), RedisPort: mr.Port()}

	rdb, err := ConnectRedis(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer rdb.Close()

	mr.Close()
	_, err = ConnectRedis(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
