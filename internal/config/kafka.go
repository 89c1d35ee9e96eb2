package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// KafkaConfig holds the Kafka connection settings for the event publisher.
// It is read from KAFKA_* environment variables; the publisher is disabled
// when KAFKA_BOOTSTRAP_SERVERS is empty.
type KafkaConfig struct {
	BootstrapServers  string
	SecurityProtocol  string
	SASLMechanism     string
	SASLUsername      string
	SASLPassword      string
	Topic             string
	CompressionType   string
	Acks              string
	LingerMS          int
	DeliveryTimeoutMS int
}

// Enabled reports whether a broker address was configured.
func (k *KafkaConfig) Enabled() bool {
	return k != nil && k.BootstrapServers != ""
}

// LoadKafkaConfig loads envFile (".env" when empty) into the process
// environment if it exists, then builds a KafkaConfig from the environment.
// Variables already set in the environment take precedence over the file.
func LoadKafkaConfig(envFile string) (*KafkaConfig, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return NewKafkaConfigFromEnv(), nil
}

// NewKafkaConfigFromEnv creates a KafkaConfig from environment variables.
func NewKafkaConfigFromEnv() *KafkaConfig {
	return &KafkaConfig{
		BootstrapServers:  getEnv("KAFKA_BOOTSTRAP_SERVERS", ""),
		SecurityProtocol:  getEnv("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"),
		SASLMechanism:     getEnv("KAFKA_SASL_MECHANISM", ""),
		SASLUsername:      getEnv("KAFKA_SASL_USERNAME", ""),
		SASLPassword:      getEnv("KAFKA_SASL_PASSWORD", ""),
		Topic:             getEnv("KAFKA_TOPIC", "tracked-events"),
		CompressionType:   getEnv("KAFKA_COMPRESSION_TYPE", "snappy"),
		Acks:              getEnv("KAFKA_ACKS", "all"),
		LingerMS:          getEnvInt("KAFKA_LINGER_MS", 10),
		DeliveryTimeoutMS: getEnvInt("KAFKA_DELIVERY_TIMEOUT_MS", 30000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
