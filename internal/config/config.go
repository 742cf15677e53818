package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultGatewayPort            = 18790
	DefaultServiceEndpoint        = "http://localhost:8080"
	DefaultAnalysisTimeoutSeconds = 60
	DefaultFetchTimeoutSeconds    = 30
	DefaultMaxAttachmentBytes     = 10 << 20
	DefaultTelegramPollTimeout    = 60
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Session: SessionConfig{
			Scope: "per-chat",
		},
		Analysis: AnalysisConfig{
			Provider:       "service",
			TimeoutSeconds: DefaultAnalysisTimeoutSeconds,
		},
		Attachments: AttachmentsConfig{
			TimeoutSeconds: DefaultFetchTimeoutSeconds,
			MaxBytes:       DefaultMaxAttachmentBytes,
		},
		Gateway: GatewayConfig{
			Port: DefaultGatewayPort,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
	}
}

// AnalysisTimeout returns the per-image analysis deadline.
func (c AnalysisConfig) AnalysisTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-attachment download deadline.
func (c AttachmentsConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
