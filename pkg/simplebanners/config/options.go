package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabaseURL sets the database: "memory" or a postgres URL
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithAutoMigrate applies the embedded schema when the repository is built
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithPublishLockTimeout bounds how long a publish waits for the lock
func WithPublishLockTimeout(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d < 0 {
			return fmt.Errorf("publish lock timeout cannot be negative")
		}
		c.PublishLockTimeout = d
		return nil
	}
}

// WithRedis enables the Redis event sink
func WithRedis(url, channel string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("redis URL cannot be empty")
		}
		c.RedisURL = url
		if channel != "" {
			c.RedisChannel = channel
		}
		return nil
	}
}

// WithExportURL sets where manifests of the live publication are written
func WithExportURL(url string) Option {
	return func(c *ServerConfig) error {
		if _, err := parseExportURL(url); err != nil {
			return err
		}
		c.ExportURL = url
		return nil
	}
}

// WithExportRetention keeps only the newest n publication manifests
func WithExportRetention(n int) Option {
	return func(c *ServerConfig) error {
		c.ExportRetention = n
		return nil
	}
}

// WithS3Credentials sets static credentials for the S3 export store
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points the S3 export store at an S3-compatible service
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithAPIKeySHA256 sets the hashed API key guarding the admin routes
func WithAPIKeySHA256(hash string) Option {
	return func(c *ServerConfig) error {
		c.APIKeySHA256 = hash
		return nil
	}
}

// WithDefaultPageSize sets the page size of snapshot listings
func WithDefaultPageSize(n int) Option {
	return func(c *ServerConfig) error {
		c.DefaultPageSize = n
		return nil
	}
}

// WithEventLogging toggles the logging event sink
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}
