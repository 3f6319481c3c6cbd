package config_test

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/moira-alert/moira/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(viper.New())
	require.NoError(t, err)

	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "metric-event", cfg.Ingest.Channel)
	require.Equal(t, "moira.metric-event", cfg.Ingest.AMQPQueue)
	require.False(t, cfg.AMQPEnabled())
}

func TestLoadRedisAddrEnvFallback(t *testing.T) {
	t.Setenv("MOIRA_REDIS_ADDR", "redis.internal:6380")

	cfg, err := config.Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	v := viper.New()
	v.Set("log.level", "verbose")

	_, err := config.Load(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "log.level")
}

func TestLoadRejectsEmptyRedisAddr(t *testing.T) {
	os.Unsetenv("MOIRA_REDIS_ADDR")
	v := viper.New()
	v.Set("redis.addr", "")

	_, err := config.Load(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis.addr")
}

func TestGraphiteAddrsSplitsAndTrims(t *testing.T) {
	v := viper.New()
	v.Set("graphite.uri", "graphite-a:2003, graphite-b:2003 ,,")

	cfg, err := config.Load(v)
	require.NoError(t, err)
	require.Equal(t, []string{"graphite-a:2003", "graphite-b:2003"}, cfg.GraphiteAddrs())
}
