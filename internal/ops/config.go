package ops

import (
	"fmt"
	"os"
	"strings"
	"time"

	"carenotify/pkg/websocket"

	"github.com/bytedance/sonic"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultRESTTimeout       = 10 * time.Second
	defaultPollInterval      = 30 * time.Second
	defaultMetricsInterval   = time.Minute
	defaultArchiveQueueSize  = 256
	defaultApplicationName   = "carenotify.notifyctl"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Server     ServerConfig     `json:"server"`
	Retry      RetryConfig      `json:"retry"`
	KeepAlive  KeepAliveConfig  `json:"keepalive"`
	Writer     WriterConfig     `json:"writer"`
	REST       RESTConfig       `json:"rest"`
	Credential CredentialConfig `json:"credential"`
	Archive    ArchiveConfig    `json:"archive"`
	Profiler   ProfilerConfig   `json:"profiler"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// ServerConfig locates the notification backend.
type ServerConfig struct {
	Host         string `json:"host"`
	Secure       bool   `json:"secure"`
	SubscriberID string `json:"subscriberId"`
}

// RetryConfig controls automatic reconnection. A negative maxAttempts disables it.
type RetryConfig struct {
	MaxAttempts *int  `json:"maxAttempts"`
	IntervalMs  int64 `json:"intervalMs"`
}

type KeepAliveConfig struct {
	IntervalMs int64 `json:"intervalMs"`
}

type WriterConfig struct {
	QueueSize int    `json:"queueSize"`
	Overflow  string `json:"overflow"`
}

// RESTConfig points at the fallback HTTP API. An empty baseUrl derives it from the server host.
type RESTConfig struct {
	BaseURL        string `json:"baseUrl"`
	TimeoutMs      int64  `json:"timeoutMs"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
}

// CredentialConfig lists the token sources in lookup order: token, tokenFile, tokenEnv.
type CredentialConfig struct {
	Token            string `json:"token"`
	TokenFile        string `json:"tokenFile"`
	TokenEnv         string `json:"tokenEnv"`
	RequireUnexpired bool   `json:"requireUnexpired"`
}

// ArchiveConfig enables the notification archive when driver is set.
type ArchiveConfig struct {
	Driver    string `json:"driver"`
	DSN       string `json:"dsn"`
	QueueSize int    `json:"queueSize"`
}

type ProfilerConfig struct {
	ServerAddress   string `json:"serverAddress"`
	ApplicationName string `json:"applicationName"`
}

type MetricsConfig struct {
	IntervalMs int64 `json:"intervalMs"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Host         string
	Secure       bool
	SubscriberID string

	Retry          websocket.Retry
	KeepAlive      time.Duration
	WriteQueueSize int
	WriteOverflow  websocket.OverflowPolicy

	RESTBaseURL  string
	RESTTimeout  time.Duration
	PollInterval time.Duration

	Credential CredentialConfig
	Archive    ArchiveConfig
	Profiler   ProfilerConfig

	MetricsInterval time.Duration
}

// ArchiveEnabled reports whether an archive driver is configured.
func (l Loaded) ArchiveEnabled() bool {
	return l.Archive.Driver != ""
}

// Load reads a JSON config file and resolves defaults.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	return Parse(data)
}

// Parse resolves a JSON config document.
func Parse(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, fmt.Errorf("decode config: %w", err)
	}
	return Resolve(cfg)
}

// Resolve applies defaults and validates a decoded config.
func Resolve(cfg FileConfig) (Loaded, error) {
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		return Loaded{}, fmt.Errorf("server host is empty")
	}
	if strings.Contains(host, "://") {
		return Loaded{}, fmt.Errorf("server host must not include a scheme: %s", host)
	}

	retry, err := resolveRetry(cfg.Retry)
	if err != nil {
		return Loaded{}, err
	}

	overflow, err := resolveOverflow(cfg.Writer.Overflow)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Writer.QueueSize < 0 {
		return Loaded{}, fmt.Errorf("writer queueSize must be >= 0")
	}
	queueSize := cfg.Writer.QueueSize
	if queueSize == 0 {
		queueSize = websocket.DefaultWriteQueueSize
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.REST.BaseURL), "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.Server.Secure {
			scheme = "https"
		}
		baseURL = scheme + "://" + host
	}

	archive := cfg.Archive
	archive.Driver = strings.ToLower(strings.TrimSpace(archive.Driver))
	switch archive.Driver {
	case "", "postgres", "sqlite":
	default:
		return Loaded{}, fmt.Errorf("archive driver unsupported: %s", archive.Driver)
	}
	if archive.Driver != "" && archive.DSN == "" {
		return Loaded{}, fmt.Errorf("archive dsn is empty")
	}
	if archive.QueueSize <= 0 {
		archive.QueueSize = defaultArchiveQueueSize
	}

	profiler := cfg.Profiler
	if profiler.ServerAddress != "" && profiler.ApplicationName == "" {
		profiler.ApplicationName = defaultApplicationName
	}

	return Loaded{
		Host:            host,
		Secure:          cfg.Server.Secure,
		SubscriberID:    strings.TrimSpace(cfg.Server.SubscriberID),
		Retry:           retry,
		KeepAlive:       millisOr(cfg.KeepAlive.IntervalMs, defaultKeepAliveInterval),
		WriteQueueSize:  queueSize,
		WriteOverflow:   overflow,
		RESTBaseURL:     baseURL,
		RESTTimeout:     millisOr(cfg.REST.TimeoutMs, defaultRESTTimeout),
		PollInterval:    millisOr(cfg.REST.PollIntervalMs, defaultPollInterval),
		Credential:      cfg.Credential,
		Archive:         archive,
		Profiler:        profiler,
		MetricsInterval: millisOr(cfg.Metrics.IntervalMs, defaultMetricsInterval),
	}, nil
}

func resolveRetry(cfg RetryConfig) (websocket.Retry, error) {
	if cfg.IntervalMs < 0 {
		return websocket.Retry{}, fmt.Errorf("retry intervalMs must be >= 0")
	}
	retry := websocket.DefaultRetry()
	if cfg.MaxAttempts != nil {
		retry.MaxAttempts = *cfg.MaxAttempts
	}
	if cfg.IntervalMs > 0 {
		retry.Interval = time.Duration(cfg.IntervalMs) * time.Millisecond
	}
	return retry, nil
}

func resolveOverflow(raw string) (websocket.OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "drop_newest":
		return websocket.OverflowDropNewest, nil
	case "drop_oldest":
		return websocket.OverflowDropOldest, nil
	default:
		return 0, fmt.Errorf("writer overflow unsupported: %s", raw)
	}
}

func millisOr(ms int64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
