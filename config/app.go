package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/moira-alert/moira/internal/dispatcher"
	"github.com/moira-alert/moira/internal/ingestbus"
	"github.com/moira-alert/moira/internal/workerpool"
)

// AppConfig is the full configuration surface (§6): redis connection,
// checker/dispatcher cadence, the Graphite self-metrics sink, bad-state
// reminder intervals, the ingest transport, and logging.
type AppConfig struct {
	Redis struct {
		Addr     string
		DB       int
		Password string
	}
	Checker struct {
		NoDataCheckInterval  time.Duration
		CheckInterval        time.Duration
		MetricsTTL           time.Duration
		StopCheckingInterval time.Duration
		CheckLockTTL         time.Duration
		CheckLockTimeout     time.Duration
		MaxParallelChecks    int
	}
	Graphite struct {
		URI      string
		Prefix   string
		Interval time.Duration
	}
	BadStatesReminder struct {
		Error  time.Duration
		NoData time.Duration
	}
	Ingest struct {
		Channel  string
		AMQPURL  string
		AMQPQueue string
	}
	Log struct {
		Level     string
		Format    string
		Directory string
	}
}

// Load builds an AppConfig from viper's merged flag/env/file view. It reads
// no config file itself: locating and reading one is done beforehand by
// cli/root.go's initConfig, which hands in the populated *viper.Viper.
//
// redis.addr additionally falls back to the bare MOIRA_REDIS_ADDR
// environment variable via EnvConfig, for operators who'd rather set one
// plain env var than learn viper's dotted-key-to-env-var mapping; every
// other setting goes through viper alone. The assembled config is then
// checked with Validator before being handed back.
func Load(v *viper.Viper) (AppConfig, error) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("checker.nodata_check_interval", 60*time.Second)
	v.SetDefault("checker.check_interval", 5*time.Second)
	v.SetDefault("checker.metrics_ttl", 3600*time.Second)
	v.SetDefault("checker.stop_checking_interval", 30*time.Second)
	v.SetDefault("checker.check_lock_ttl", 30*time.Second)
	v.SetDefault("checker.check_lock_timeout", 10*time.Second)
	v.SetDefault("checker.max_parallel_checks", 0)
	v.SetDefault("graphite.prefix", "moira-checker")
	v.SetDefault("graphite.interval", 60*time.Second)
	v.SetDefault("bad_states_reminder.error", 86400*time.Second)
	v.SetDefault("bad_states_reminder.nodata", 86400*time.Second)
	v.SetDefault("ingest.channel", "metric-event")
	v.SetDefault("ingest.amqp_queue", "moira.metric-event")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	var cfg AppConfig
	cfg.Redis.Addr = NewEnvConfig("").GetString("MOIRA_REDIS_ADDR", v.GetString("redis.addr"))
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.Password = v.GetString("redis.password")

	cfg.Checker.NoDataCheckInterval = v.GetDuration("checker.nodata_check_interval")
	cfg.Checker.CheckInterval = v.GetDuration("checker.check_interval")
	cfg.Checker.MetricsTTL = v.GetDuration("checker.metrics_ttl")
	cfg.Checker.StopCheckingInterval = v.GetDuration("checker.stop_checking_interval")
	cfg.Checker.CheckLockTTL = v.GetDuration("checker.check_lock_ttl")
	cfg.Checker.CheckLockTimeout = v.GetDuration("checker.check_lock_timeout")
	cfg.Checker.MaxParallelChecks = v.GetInt("checker.max_parallel_checks")

	cfg.Graphite.URI = v.GetString("graphite.uri")
	cfg.Graphite.Prefix = v.GetString("graphite.prefix")
	cfg.Graphite.Interval = v.GetDuration("graphite.interval")

	cfg.BadStatesReminder.Error = v.GetDuration("bad_states_reminder.error")
	cfg.BadStatesReminder.NoData = v.GetDuration("bad_states_reminder.nodata")

	cfg.Ingest.Channel = v.GetString("ingest.channel")
	cfg.Ingest.AMQPURL = v.GetString("ingest.amqp_url")
	cfg.Ingest.AMQPQueue = v.GetString("ingest.amqp_queue")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Log.Directory = v.GetString("log.directory")

	validator := NewValidator()
	validator.RequireString("redis.addr", cfg.Redis.Addr)
	validator.RequireOneOf("log.level", cfg.Log.Level, []string{"debug", "info", "warn", "error", "fatal", "panic"})
	validator.RequireOneOf("log.format", cfg.Log.Format, []string{"text", "json"})
	validator.RequireString("ingest.channel", cfg.Ingest.Channel)
	if err := validator.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// GraphiteAddrs splits the comma-separated replica list.
func (c AppConfig) GraphiteAddrs() []string {
	if c.Graphite.URI == "" {
		return nil
	}
	parts := strings.Split(c.Graphite.URI, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

// DispatcherConfig derives an internal/dispatcher.Config from the loaded
// settings, keeping the ingest channel name shared between the dispatcher
// and the AMQP bridge.
func (c AppConfig) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Channel:              c.Ingest.Channel,
		CheckInterval:        c.Checker.CheckInterval,
		NoDataCheckInterval:  c.Checker.NoDataCheckInterval,
		NoDataCacheTTL:       c.Checker.NoDataCheckInterval,
		StopCheckingInterval: c.Checker.StopCheckingInterval,
	}
}

// WorkerPoolConfig derives an internal/workerpool.Config.
func (c AppConfig) WorkerPoolConfig() workerpool.Config {
	return workerpool.Config{
		Workers:          c.Checker.MaxParallelChecks,
		CheckCacheTTL:    c.Checker.MetricsTTL,
		CheckLockTTL:     c.Checker.CheckLockTTL,
		GraphiteAddrs:    c.GraphiteAddrs(),
		GraphitePrefix:   c.Graphite.Prefix,
		GraphiteInterval: c.Graphite.Interval,
	}
}

// IngestBusConfig derives an internal/ingestbus.Config. AMQPEnabled reports
// whether the optional bridge should be started at all.
func (c AppConfig) IngestBusConfig() ingestbus.Config {
	return ingestbus.Config{
		URL:          c.Ingest.AMQPURL,
		Queue:        c.Ingest.AMQPQueue,
		RedisChannel: c.Ingest.Channel,
	}
}

// AMQPEnabled reports whether ingest.amqp_url was configured.
func (c AppConfig) AMQPEnabled() bool {
	return c.Ingest.AMQPURL != ""
}
