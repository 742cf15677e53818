package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// AnalysisProviders lists the supported analysis backends.
var AnalysisProviders = []string{"service", "anthropic", "openai"}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Session validation
	validScopes := []string{"per-chat", "per-sender"}
	if cfg.Session.Scope != "" && !slices.Contains(validScopes, cfg.Session.Scope) {
		issues = append(issues, ValidationIssue{
			Path:    "session.scope",
			Message: fmt.Sprintf("must be one of %v, got %q", validScopes, cfg.Session.Scope),
		})
	}

	issues = append(issues, validateAnalysis(&cfg.Analysis)...)

	if cfg.Attachments.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "attachments.timeoutSeconds",
			Message: "must not be negative",
		})
	}
	if cfg.Attachments.MaxBytes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "attachments.maxBytes",
			Message: "must not be negative",
		})
	}

	// Telegram validation (only if configured)
	if tg := cfg.Channels.Telegram; tg != nil {
		if tg.Token == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.telegram.token",
				Message: "token is required",
			})
		}
		if tg.PollTimeout < 0 {
			issues = append(issues, ValidationIssue{
				Path:    "channels.telegram.pollTimeout",
				Message: "must not be negative",
			})
		}
	}

	// IRC validation (only if configured)
	if cfg.Channels.IRC != nil {
		irc := cfg.Channels.IRC
		if irc.Server == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.server",
				Message: "server is required",
			})
		}
		if irc.Nick == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.nick",
				Message: "nick is required",
			})
		}
		if irc.Port < 0 || irc.Port > 65535 {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.port",
				Message: fmt.Sprintf("port must be 0-65535, got %d", irc.Port),
			})
		}
		if irc.SASL && irc.Password == "" {
			issues = append(issues, ValidationIssue{
				Path:    "channels.irc.sasl",
				Message: "SASL requires a password to be set",
			})
		}
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}

	validAuthModes := []string{"token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode),
		})
	}

	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	return issues
}

func validateAnalysis(a *AnalysisConfig) []ValidationIssue {
	var issues []ValidationIssue

	if !slices.Contains(AnalysisProviders, a.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "analysis.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", AnalysisProviders, a.Provider),
		})
	}

	if a.Provider == "anthropic" || a.Provider == "openai" {
		if a.APIKey == "" && a.Endpoint == "" {
			issues = append(issues, ValidationIssue{
				Path:    "analysis.apiKey",
				Message: fmt.Sprintf("required for the %s provider", a.Provider),
			})
		}
	}

	if a.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "analysis.timeoutSeconds",
			Message: "must not be negative",
		})
	}
	if a.MaxConcurrent < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "analysis.maxConcurrent",
			Message: "must not be negative",
		})
	}

	for i, fb := range a.Fallbacks {
		path := fmt.Sprintf("analysis.fallbacks[%d]", i)
		switch {
		case !slices.Contains(AnalysisProviders, fb):
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must be one of %v, got %q", AnalysisProviders, fb),
			})
		case fb == a.Provider:
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: "duplicates the primary provider",
			})
		}
	}

	return issues
}
