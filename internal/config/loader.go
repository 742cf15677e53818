package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Analysis.APIKey = expandEnvVars(cfg.Analysis.APIKey)
	for name, provider := range cfg.Analysis.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		cfg.Analysis.Providers[name] = provider
	}
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
	if cfg.Channels.Telegram != nil {
		cfg.Channels.Telegram.Token = expandEnvVars(cfg.Channels.Telegram.Token)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			applyDefaults(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Session.Scope == "" {
		cfg.Session.Scope = d.Session.Scope
	}
	if cfg.Analysis.Provider == "" {
		cfg.Analysis.Provider = d.Analysis.Provider
	}
	if cfg.Analysis.Provider == "service" && cfg.Analysis.Endpoint == "" {
		cfg.Analysis.Endpoint = DefaultServiceEndpoint
	}
	if cfg.Analysis.TimeoutSeconds == 0 {
		cfg.Analysis.TimeoutSeconds = d.Analysis.TimeoutSeconds
	}
	if cfg.Attachments.TimeoutSeconds == 0 {
		cfg.Attachments.TimeoutSeconds = d.Attachments.TimeoutSeconds
	}
	if cfg.Attachments.MaxBytes == 0 {
		cfg.Attachments.MaxBytes = d.Attachments.MaxBytes
	}
	if cfg.Channels.Telegram != nil && cfg.Channels.Telegram.PollTimeout == 0 {
		cfg.Channels.Telegram.PollTimeout = DefaultTelegramPollTimeout
	}
	if cfg.Channels.IRC != nil && cfg.Channels.IRC.Port == 0 {
		cfg.Channels.IRC.Port = 6667
		if cfg.Channels.IRC.UseTLS {
			cfg.Channels.IRC.Port = 6697
		}
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
}

// applyEnvOverrides reads TALLY_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TALLY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TALLY_ANALYSIS_PROVIDER"); v != "" {
		cfg.Analysis.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("TALLY_ANALYSIS_ENDPOINT"); v != "" {
		cfg.Analysis.Endpoint = v
	}
	if v := os.Getenv("TALLY_ANALYSIS_API_KEY"); v != "" {
		cfg.Analysis.APIKey = v
	}
	if v := os.Getenv("TALLY_ANALYSIS_MODEL"); v != "" {
		cfg.Analysis.Model = v
	}
	if v := os.Getenv("TALLY_TELEGRAM_TOKEN"); v != "" {
		if cfg.Channels.Telegram == nil {
			cfg.Channels.Telegram = &TelegramConfig{PollTimeout: DefaultTelegramPollTimeout}
		}
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("TALLY_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("TALLY_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
}
