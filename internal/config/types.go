package config

// Config is the root configuration for tally.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Session     SessionConfig     `yaml:"session,omitempty"`
	Analysis    AnalysisConfig    `yaml:"analysis,omitempty"`
	Attachments AttachmentsConfig `yaml:"attachments,omitempty"`
	Channels    ChannelsConfig    `yaml:"channels,omitempty"`
	Gateway     GatewayConfig     `yaml:"gateway,omitempty"`
	Ledger      LedgerConfig      `yaml:"ledger,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// SessionConfig defines how inbound messages map to receipt sessions.
type SessionConfig struct {
	Scope string `yaml:"scope,omitempty"` // "per-chat" | "per-sender"
}

// AnalysisConfig selects and tunes the receipt analysis backend.
type AnalysisConfig struct {
	Provider       string                    `yaml:"provider,omitempty"` // "service" | "anthropic" | "openai"
	Endpoint       string                    `yaml:"endpoint,omitempty"`
	APIKey         string                    `yaml:"apiKey,omitempty"`
	Model          string                    `yaml:"model,omitempty"`
	TimeoutSeconds int                       `yaml:"timeoutSeconds,omitempty"`
	MaxConcurrent  int                       `yaml:"maxConcurrent,omitempty"` // 0 = unbounded
	Fallbacks      []string                  `yaml:"fallbacks,omitempty"`
	Providers      map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// ProviderConfig holds credentials for a fallback provider.
type ProviderConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// AttachmentsConfig bounds attachment downloads.
type AttachmentsConfig struct {
	TimeoutSeconds int   `yaml:"timeoutSeconds,omitempty"`
	MaxBytes       int64 `yaml:"maxBytes,omitempty"`
	// AllowPrivate lets downloads reach loopback and private networks.
	AllowPrivate bool `yaml:"allowPrivate,omitempty"`
}

// ChannelsConfig defines channel-specific configurations.
type ChannelsConfig struct {
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	IRC      *IRCConfig      `yaml:"irc,omitempty"`
}

// TelegramConfig defines Telegram bot settings.
type TelegramConfig struct {
	Token       string `yaml:"token"`
	PollTimeout int    `yaml:"pollTimeout,omitempty"` // seconds
	APIEndpoint string `yaml:"apiEndpoint,omitempty"`
	Debug       bool   `yaml:"debug,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Enabled        bool             `yaml:"enabled,omitempty"`
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI lists browser origins allowed to open WebSockets.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LedgerConfig controls the receipt audit journal.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"` // defaults to <base>/data/ledger.db
}
