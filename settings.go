package vstore

import (
	"fmt"
	"time"
)

// Settings is the typed view of the service configuration.
type Settings struct {
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
	HTTP struct {
		Port string `koanf:"port"`
	} `koanf:"http"`
	GRPC struct {
		Port string `koanf:"port"`
	} `koanf:"grpc"`
	Store       StoreSettings  `koanf:"store"`
	Lock        LockSettings   `koanf:"lock"`
	Events      EventsSettings `koanf:"events"`
	Definitions struct {
		File string `koanf:"file"`
	} `koanf:"definitions"`
	Seed struct {
		File string `koanf:"file"`
	} `koanf:"seed"`
}

// StoreSettings selects the storage backend.
type StoreSettings struct {
	Driver   string `koanf:"driver"`
	Postgres struct {
		DSN string `koanf:"dsn"`
	} `koanf:"postgres"`
	Mongo struct {
		URI      string `koanf:"uri"`
		Database string `koanf:"database"`
	} `koanf:"mongo"`
}

// LockSettings selects the row locker.
type LockSettings struct {
	Driver string        `koanf:"driver"`
	TTL    time.Duration `koanf:"ttl"`
	Redis  struct {
		URL string `koanf:"url"`
	} `koanf:"redis"`
}

// EventsSettings selects where committed changes are published.
type EventsSettings struct {
	Driver string `koanf:"driver"`
	Topic  string `koanf:"topic"`
	Kafka  struct {
		Brokers []string `koanf:"brokers"`
	} `koanf:"kafka"`
}

// Store, lock and event drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverKafka    = "kafka"
	DriverNone     = "none"
)

// LoadSettings decodes cfg and checks driver specific requirements.
func LoadSettings(cfg *Config) (Settings, error) {
	var s Settings
	if err := cfg.Unmarshal("", &s); err != nil {
		return Settings{}, err
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	switch s.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if s.Store.Postgres.DSN == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for the postgres driver")
		}
	case DriverMongo:
		if s.Store.Mongo.URI == "" {
			return fmt.Errorf("config: store.mongo.uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", s.Store.Driver)
	}

	switch s.Lock.Driver {
	case DriverMemory:
	case DriverRedis:
		if s.Lock.Redis.URL == "" {
			return fmt.Errorf("config: lock.redis.url is required for the redis driver")
		}
	default:
		return fmt.Errorf("config: unknown lock.driver %q", s.Lock.Driver)
	}

	switch s.Events.Driver {
	case DriverNone, DriverMemory:
	case DriverKafka:
		if len(s.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: events.kafka.brokers is required for the kafka driver")
		}
	default:
		return fmt.Errorf("config: unknown events.driver %q", s.Events.Driver)
	}
	return nil
}
