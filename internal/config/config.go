// Package config has a configuration structure
package config

import "time"

// Config contains configuration data
type Config struct {
	UsernamePostgres string `env:"POSTGRES_USER" envDefault:"postgres"`
	PasswordPostgres string `env:"POSTGRES_PASSWORD" envDefault:"testpassword"`
	HostPostgres     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PortPostgres     string `env:"POSTGRES_PORT" envDefault:"5432"`
	DBNamePostgres   string `env:"POSTGRES_DB" envDefault:"postgres"`

	ServerRedisCache string `env:"SERVER" envDefault:"server1"`
	HostRedisCache   string `env:"HOST" envDefault:"localhost"`
	PortRedisCache   string `env:"PORT" envDefault:"6379"`

	HostHTTP string `env:"HOST_HTTP" envDefault:"localhost"`
	PortHTTP string `env:"PORT_HTTP" envDefault:"8080"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"executed_trades"`

	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"2s"`
}
