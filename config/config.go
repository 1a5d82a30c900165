package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the pipeline processes.
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	EventLog struct {
		Addr          string `mapstructure:"addr"`
		Password      string `mapstructure:"password"`
		DB            int    `mapstructure:"db"`
		Topic         string `mapstructure:"topic"`
		DLQTopic      string `mapstructure:"dlq_topic"`
		ConsumerGroup string `mapstructure:"consumer_group"`
		ConsumerName  string `mapstructure:"consumer_name"`
	} `mapstructure:"eventlog"`

	Store struct {
		PostgresDSN string `mapstructure:"postgres_dsn"`
	} `mapstructure:"store"`

	Publisher struct {
		BatchSize    int           `mapstructure:"batch_size"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		IdleDelay    time.Duration `mapstructure:"idle_delay"`
	} `mapstructure:"publisher"`

	Executor struct {
		FetchBatch     int           `mapstructure:"fetch_batch"`
		FetchBlock     time.Duration `mapstructure:"fetch_block"`
		StageDelay     time.Duration `mapstructure:"stage_delay"`
		HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
		FailurePolicy  string        `mapstructure:"failure_policy"`
		MaxAttempts    int           `mapstructure:"max_attempts"`
	} `mapstructure:"executor"`

	Providers struct {
		EmailAPIURL     string `mapstructure:"email_api_url"`
		EmailAPIKey     string `mapstructure:"email_api_key"`
		EmailFrom       string `mapstructure:"email_from"`
		FundsGatewayURL string `mapstructure:"funds_gateway_url"`
		SheetsAPIURL    string `mapstructure:"sheets_api_url"`
		SheetsToken     string `mapstructure:"sheets_token"`
	} `mapstructure:"providers"`
}

// Load loads the configuration from an optional file and the environment.
// Environment variables use the FLOWPIPE prefix, e.g. FLOWPIPE_EVENTLOG_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("FLOWPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and environment still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("eventlog.addr", "localhost:6379")
	v.SetDefault("eventlog.db", 0)
	v.SetDefault("eventlog.topic", "workflow-events")
	v.SetDefault("eventlog.consumer_group", "main-worker")
	v.SetDefault("eventlog.consumer_name", "worker-1")

	v.SetDefault("store.postgres_dsn", "postgres://localhost:5432/flowcatalyst")

	v.SetDefault("publisher.batch_size", 10)
	v.SetDefault("publisher.poll_interval", 3*time.Second)
	v.SetDefault("publisher.idle_delay", 3*time.Second)

	v.SetDefault("executor.fetch_batch", 10)
	v.SetDefault("executor.fetch_block", 5*time.Second)
	v.SetDefault("executor.stage_delay", 500*time.Millisecond)
	v.SetDefault("executor.handler_timeout", 30*time.Second)
	v.SetDefault("executor.failure_policy", "continue")
	v.SetDefault("executor.max_attempts", 3)
}
