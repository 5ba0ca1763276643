package config

import "time"

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of memory, sqlite, postgres, redis.
	Backend  string         `yaml:"backend"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BlobConfig selects and configures file blob storage.
type BlobConfig struct {
	// Backend is one of local, s3.
	Backend string          `yaml:"backend"`
	Local   LocalBlobConfig `yaml:"local"`
	S3      S3Config        `yaml:"s3"`
}

type LocalBlobConfig struct {
	Dir string `yaml:"dir"`
	// BaseURL, when set, is prepended to file paths to form download URLs.
	BaseURL string `yaml:"base_url"`
}

type S3Config struct {
	Bucket       string        `yaml:"bucket"`
	Region       string        `yaml:"region"`
	Endpoint     string        `yaml:"endpoint"`
	AccessKey    string        `yaml:"access_key"`
	SecretKey    string        `yaml:"secret_key"`
	UsePathStyle bool          `yaml:"use_path_style"`
	PresignTTL   time.Duration `yaml:"presign_ttl"`
}
