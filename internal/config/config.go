package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the server configuration: a TOML file whose every key can be
// overridden by a QVARN_<SECTION>_<KEY> environment variable.
type Config struct {
	Database Database `toml:"database"`
	Auth     Auth     `toml:"auth"`
	Main     Main     `toml:"main"`
	Server   Server   `toml:"server"`
	Events   Events   `toml:"events"`
	Export   Export   `toml:"export"`
}

type Database struct {
	Type     string `toml:"type"` // postgres or sqlite (default)
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Name     string `toml:"name"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	MinConn  int    `toml:"minconn"`
	MaxConn  int    `toml:"maxconn"`
	File     string `toml:"file"` // sqlite database path
	ReadOnly bool   `toml:"readonly"`
}

type Auth struct {
	TokenIssuer        string `toml:"token_issuer"`
	TokenValidationKey string `toml:"token_validation_key"` // PEM; empty disables auth
}

type Main struct {
	SpecDir                 string `toml:"specdir"`
	EnableAccessLog         bool   `toml:"enable_access_log"`
	AccessLogEntryChunkSize int    `toml:"access_log_entry_chunk_size"`
	Log                     string `toml:"log"` // file path; empty logs to stderr
	LogLevel                string `toml:"log_level"`
}

type Server struct {
	HTTPAddr string `toml:"http_addr"`
	GRPCAddr string `toml:"grpc_addr"` // empty disables gRPC
}

type Events struct {
	NATSURL string `toml:"nats_url"` // empty disables publication
}

type Export struct {
	Interval   duration `toml:"interval"` // 0 disables
	File       string   `toml:"file"`
	S3Bucket   string   `toml:"s3_bucket"`
	S3Key      string   `toml:"s3_key"`
	S3Region   string   `toml:"s3_region"`
	S3Endpoint string   `toml:"s3_endpoint"` // custom endpoint for MinIO
}

// duration decodes TOML strings such as "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ExportInterval returns the export period; zero disables exports.
func (c *Config) ExportInterval() time.Duration {
	return c.Export.Interval.Duration
}

// Default returns the configuration used for keys absent from both the
// file and the environment.
func Default() *Config {
	return &Config{
		Database: Database{Type: "sqlite", Port: 5432, MinConn: 1, MaxConn: 10},
		Main:     Main{AccessLogEntryChunkSize: 300, LogLevel: "info"},
		Server:   Server{HTTPAddr: ":8080", GRPCAddr: ":9090"},
		Export:   Export{S3Region: "us-east-1", S3Key: "qvarn/export.jsonl"},
	}
}

// Load reads the file at path (skipped when empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.Database.Type = envOrDefault("QVARN_DATABASE_TYPE", c.Database.Type)
	c.Database.Host = envOrDefault("QVARN_DATABASE_HOST", c.Database.Host)
	c.Database.Name = envOrDefault("QVARN_DATABASE_NAME", c.Database.Name)
	c.Database.User = envOrDefault("QVARN_DATABASE_USER", c.Database.User)
	c.Database.Password = envOrDefault("QVARN_DATABASE_PASSWORD", c.Database.Password)
	c.Database.File = envOrDefault("QVARN_DATABASE_FILE", c.Database.File)
	c.Auth.TokenIssuer = envOrDefault("QVARN_AUTH_TOKEN_ISSUER", c.Auth.TokenIssuer)
	c.Auth.TokenValidationKey = envOrDefault("QVARN_AUTH_TOKEN_VALIDATION_KEY", c.Auth.TokenValidationKey)
	c.Main.SpecDir = envOrDefault("QVARN_MAIN_SPECDIR", c.Main.SpecDir)
	c.Main.Log = envOrDefault("QVARN_MAIN_LOG", c.Main.Log)
	c.Main.LogLevel = envOrDefault("QVARN_MAIN_LOG_LEVEL", c.Main.LogLevel)
	c.Server.HTTPAddr = envOrDefault("QVARN_SERVER_HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = envOrDefault("QVARN_SERVER_GRPC_ADDR", c.Server.GRPCAddr)
	c.Events.NATSURL = envOrDefault("QVARN_EVENTS_NATS_URL", c.Events.NATSURL)
	c.Export.File = envOrDefault("QVARN_EXPORT_FILE", c.Export.File)
	c.Export.S3Bucket = envOrDefault("QVARN_EXPORT_S3_BUCKET", c.Export.S3Bucket)
	c.Export.S3Key = envOrDefault("QVARN_EXPORT_S3_KEY", c.Export.S3Key)
	c.Export.S3Region = envOrDefault("QVARN_EXPORT_S3_REGION", c.Export.S3Region)
	c.Export.S3Endpoint = envOrDefault("QVARN_EXPORT_S3_ENDPOINT", c.Export.S3Endpoint)

	for _, v := range []struct {
		key string
		dst *int
	}{
		{"QVARN_DATABASE_PORT", &c.Database.Port},
		{"QVARN_DATABASE_MINCONN", &c.Database.MinConn},
		{"QVARN_DATABASE_MAXCONN", &c.Database.MaxConn},
		{"QVARN_MAIN_ACCESS_LOG_ENTRY_CHUNK_SIZE", &c.Main.AccessLogEntryChunkSize},
	} {
		if s := os.Getenv(v.key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("%s: %w", v.key, err)
			}
			*v.dst = n
		}
	}

	for _, v := range []struct {
		key string
		dst *bool
	}{
		{"QVARN_DATABASE_READONLY", &c.Database.ReadOnly},
		{"QVARN_MAIN_ENABLE_ACCESS_LOG", &c.Main.EnableAccessLog},
	} {
		if s := os.Getenv(v.key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("%s: %w", v.key, err)
			}
			*v.dst = b
		}
	}

	if s := os.Getenv("QVARN_EXPORT_INTERVAL"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("QVARN_EXPORT_INTERVAL: %w", err)
		}
		c.Export.Interval.Duration = d
	}
	return nil
}

// Validate checks values that cannot be used as given.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.File == "" {
			return fmt.Errorf("database.file is required for sqlite")
		}
	case "postgres":
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database type %q", c.Database.Type)
	}
	if c.Database.MinConn < 0 || c.Database.MaxConn < 1 || c.Database.MinConn > c.Database.MaxConn {
		return fmt.Errorf("database pool bounds minconn=%d maxconn=%d are invalid", c.Database.MinConn, c.Database.MaxConn)
	}
	if c.Main.AccessLogEntryChunkSize < 0 {
		return fmt.Errorf("main.access_log_entry_chunk_size must not be negative")
	}
	if c.Export.Interval.Duration < 0 {
		return fmt.Errorf("export.interval must not be negative")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
