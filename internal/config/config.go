package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DataDir  string `env:"LEDGER_DATA_DIR"`
	HTTPPort int    `env:"LEDGER_HTTP_PORT"`

	KafkaBrokerURL           string `env:"KAFKA_BROKER_URL"`
	KafkaCommandEventsTopic  string `env:"KAFKA_COMMAND_EVENTS_TOPIC"`
	KafkaCommandResultsTopic string `env:"KAFKA_COMMAND_RESULTS_TOPIC"`
	KafkaConsumerGroup       string `env:"KAFKA_CONSUMER_GROUP"`

	AdminIDs []string `env:"LEDGER_ADMIN_IDS"`

	SalaryTickInterval time.Duration `env:"SALARY_TICK_INTERVAL"`
	PayoutTimezone     string        `env:"PAYOUT_TIMEZONE"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DataDir = getEnvOrDefault("LEDGER_DATA_DIR", "data")
	cfg.HTTPPort = getEnvAsInt("LEDGER_HTTP_PORT", 8080)

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaCommandEventsTopic = getEnvOrDefault("KAFKA_COMMAND_EVENTS_TOPIC", "ledger_command_events")
	cfg.KafkaCommandResultsTopic = getEnvOrDefault("KAFKA_COMMAND_RESULTS_TOPIC", "ledger_command_results")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "ledger-engine-group")

	cfg.AdminIDs = getEnvAsList("LEDGER_ADMIN_IDS")

	cfg.SalaryTickInterval = getEnvAsDuration("SALARY_TICK_INTERVAL", 1*time.Hour)
	cfg.PayoutTimezone = getEnvOrDefault("PAYOUT_TIMEZONE", "Asia/Seoul")

	return cfg, nil
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnvOrDefault(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
