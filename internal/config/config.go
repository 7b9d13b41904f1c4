package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Stats   StatsConfig   `toml:"stats"`
	Storage StorageConfig `toml:"storage"`
	Display DisplayConfig `toml:"display"`
	Alerts  AlertsConfig  `toml:"alerts"`
}

type ServerConfig struct {
	GRPCPort        int      `toml:"grpc_port"`
	HTTPPort        int      `toml:"http_port"`
	Bind            string   `toml:"bind"`
	Tokens          []string `toml:"tokens"`
	BroadcastBuffer int      `toml:"broadcast_buffer"`
	PushIntervalMS  int      `toml:"push_interval_ms"`
}

type ClientConfig struct {
	GRPCAddr         string `toml:"grpc_addr"`
	HTTPURL          string `toml:"http_url"`
	Token            string `toml:"token"`
	TickMS           int    `toml:"tick_ms"`
	RuntimePollMS    int    `toml:"runtime_poll_ms"`
	RefreshPollMS    int    `toml:"refresh_poll_ms"`
	StopWaitMS       int    `toml:"stop_wait_ms"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
	BeaconTimeoutMS  int    `toml:"beacon_timeout_ms"`
	StatsDays        int    `toml:"stats_days"`
}

// Tick returns the interpolation tick period.
func (c ClientConfig) Tick() time.Duration { return ms(c.TickMS) }

// RuntimePoll returns the authoritative-runtime poll period.
func (c ClientConfig) RuntimePoll() time.Duration { return ms(c.RuntimePollMS) }

// RefreshPoll returns the full data refresh period.
func (c ClientConfig) RefreshPoll() time.Duration { return ms(c.RefreshPollMS) }

// StopWait returns how long a push stop waits for confirmation.
func (c ClientConfig) StopWait() time.Duration { return ms(c.StopWaitMS) }

// RequestTimeout returns the bound on each unary call.
func (c ClientConfig) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMS) }

// BeaconTimeout returns the bound on a fire-and-forget stop.
func (c ClientConfig) BeaconTimeout() time.Duration { return ms(c.BeaconTimeoutMS) }

type StatsConfig struct {
	PerAlertSeconds     float64 `toml:"per_alert_seconds"`
	DisplayAlertSeconds float64 `toml:"display_alert_seconds"`
}

type StorageConfig struct {
	DBPath               string `toml:"db_path"`
	RetentionDays        int    `toml:"retention_days"`
	SummaryRetentionDays int    `toml:"summary_retention_days"`
}

type DisplayConfig struct {
	DetectionBufferSize int `toml:"detection_buffer_size"`
	RefreshRateMS       int `toml:"refresh_rate_ms"`
}

// AlertsConfig controls desktop notifications for drowsiness alerts.
type AlertsConfig struct {
	SystemNotify    bool `toml:"system_notify"`
	CooldownSeconds int  `toml:"cooldown_seconds"`
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "drowsewatch", "config.toml")
}

// DefaultPath returns the config file location used by Load.
func DefaultPath() string {
	return defaultConfigPath()
}

func Load() (*LoadResult, error) {
	return LoadFrom(defaultConfigPath())
}

func LoadFrom(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{Config: DefaultConfig()}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	result, err := parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return result, nil
}

func LoadFromString(data string) (*LoadResult, error) {
	return parse(data)
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

var knownTopLevel = map[string]bool{
	"server":  true,
	"client":  true,
	"stats":   true,
	"storage": true,
	"display": true,
	"alerts":  true,
}

func parse(data string) (*LoadResult, error) {
	result := &LoadResult{Config: DefaultConfig()}
	if data == "" {
		return result, nil
	}

	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for key := range raw {
		if !knownTopLevel[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key))
		}
	}

	var tf tomlFile
	md, err := toml.Decode(data, &tf)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for _, key := range md.Undecoded() {
		if len(key) > 1 && knownTopLevel[key[0]] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key.String()))
		}
	}

	mergeFromRaw(&result.Config, &tf, raw)

	if err := validate(&result.Config); err != nil {
		return nil, err
	}
	return result, nil
}

type tomlFile struct {
	Server  *ServerConfig  `toml:"server"`
	Client  *ClientConfig  `toml:"client"`
	Stats   *StatsConfig   `toml:"stats"`
	Storage *StorageConfig `toml:"storage"`
	Display *DisplayConfig `toml:"display"`
	Alerts  *AlertsConfig  `toml:"alerts"`
}

// mergeFromRaw copies only the keys present in the file, so an omitted key
// keeps its default even when its zero value would be valid.
func mergeFromRaw(cfg *Config, tf *tomlFile, raw map[string]any) {
	if tf.Server != nil {
		if section, ok := rawSection(raw, "server"); ok {
			set(section, "grpc_port", &cfg.Server.GRPCPort, tf.Server.GRPCPort)
			set(section, "http_port", &cfg.Server.HTTPPort, tf.Server.HTTPPort)
			set(section, "bind", &cfg.Server.Bind, tf.Server.Bind)
			set(section, "tokens", &cfg.Server.Tokens, tf.Server.Tokens)
			set(section, "broadcast_buffer", &cfg.Server.BroadcastBuffer, tf.Server.BroadcastBuffer)
			set(section, "push_interval_ms", &cfg.Server.PushIntervalMS, tf.Server.PushIntervalMS)
		}
	}
	if tf.Client != nil {
		if section, ok := rawSection(raw, "client"); ok {
			set(section, "grpc_addr", &cfg.Client.GRPCAddr, tf.Client.GRPCAddr)
			set(section, "http_url", &cfg.Client.HTTPURL, tf.Client.HTTPURL)
			set(section, "token", &cfg.Client.Token, tf.Client.Token)
			set(section, "tick_ms", &cfg.Client.TickMS, tf.Client.TickMS)
			set(section, "runtime_poll_ms", &cfg.Client.RuntimePollMS, tf.Client.RuntimePollMS)
			set(section, "refresh_poll_ms", &cfg.Client.RefreshPollMS, tf.Client.RefreshPollMS)
			set(section, "stop_wait_ms", &cfg.Client.StopWaitMS, tf.Client.StopWaitMS)
			set(section, "request_timeout_ms", &cfg.Client.RequestTimeoutMS, tf.Client.RequestTimeoutMS)
			set(section, "beacon_timeout_ms", &cfg.Client.BeaconTimeoutMS, tf.Client.BeaconTimeoutMS)
			set(section, "stats_days", &cfg.Client.StatsDays, tf.Client.StatsDays)
		}
	}
	if tf.Stats != nil {
		if section, ok := rawSection(raw, "stats"); ok {
			set(section, "per_alert_seconds", &cfg.Stats.PerAlertSeconds, tf.Stats.PerAlertSeconds)
			set(section, "display_alert_seconds", &cfg.Stats.DisplayAlertSeconds, tf.Stats.DisplayAlertSeconds)
		}
	}
	if tf.Storage != nil {
		if section, ok := rawSection(raw, "storage"); ok {
			set(section, "db_path", &cfg.Storage.DBPath, tf.Storage.DBPath)
			set(section, "retention_days", &cfg.Storage.RetentionDays, tf.Storage.RetentionDays)
			set(section, "summary_retention_days", &cfg.Storage.SummaryRetentionDays, tf.Storage.SummaryRetentionDays)
		}
	}
	if tf.Display != nil {
		if section, ok := rawSection(raw, "display"); ok {
			set(section, "detection_buffer_size", &cfg.Display.DetectionBufferSize, tf.Display.DetectionBufferSize)
			set(section, "refresh_rate_ms", &cfg.Display.RefreshRateMS, tf.Display.RefreshRateMS)
		}
	}
	if tf.Alerts != nil {
		if section, ok := rawSection(raw, "alerts"); ok {
			set(section, "system_notify", &cfg.Alerts.SystemNotify, tf.Alerts.SystemNotify)
			set(section, "cooldown_seconds", &cfg.Alerts.CooldownSeconds, tf.Alerts.CooldownSeconds)
		}
	}
}

func set[T any](section map[string]any, key string, dst *T, v T) {
	if _, exists := section[key]; exists {
		*dst = v
	}
}

func rawSection(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.GRPCPort < 1 || cfg.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("grpc_port must be 1-65535, got %d", cfg.Server.GRPCPort))
	}
	if cfg.Server.HTTPPort < 1 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("http_port must be 1-65535, got %d", cfg.Server.HTTPPort))
	}
	if cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		errs = append(errs, fmt.Sprintf("grpc_port and http_port must differ, both %d", cfg.Server.GRPCPort))
	}
	if cfg.Server.BroadcastBuffer < 1 {
		errs = append(errs, fmt.Sprintf("broadcast_buffer must be positive, got %d", cfg.Server.BroadcastBuffer))
	}
	if cfg.Server.PushIntervalMS < 0 {
		errs = append(errs, fmt.Sprintf("push_interval_ms must not be negative, got %d", cfg.Server.PushIntervalMS))
	}
	for i, tok := range cfg.Server.Tokens {
		if strings.TrimSpace(tok) == "" {
			errs = append(errs, fmt.Sprintf("server tokens[%d] is empty", i))
		}
	}

	if cfg.Client.GRPCAddr == "" {
		errs = append(errs, "client grpc_addr must be set")
	}
	if u, err := url.Parse(cfg.Client.HTTPURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("client http_url must be an http(s) URL, got %q", cfg.Client.HTTPURL))
	}
	positive := []struct {
		name string
		v    int
	}{
		{"tick_ms", cfg.Client.TickMS},
		{"runtime_poll_ms", cfg.Client.RuntimePollMS},
		{"refresh_poll_ms", cfg.Client.RefreshPollMS},
		{"stop_wait_ms", cfg.Client.StopWaitMS},
		{"request_timeout_ms", cfg.Client.RequestTimeoutMS},
		{"beacon_timeout_ms", cfg.Client.BeaconTimeoutMS},
		{"stats_days", cfg.Client.StatsDays},
	}
	for _, p := range positive {
		if p.v < 1 {
			errs = append(errs, fmt.Sprintf("client %s must be positive, got %d", p.name, p.v))
		}
	}

	if cfg.Stats.PerAlertSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("per_alert_seconds must be positive, got %f", cfg.Stats.PerAlertSeconds))
	}
	if cfg.Stats.DisplayAlertSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("display_alert_seconds must be positive, got %f", cfg.Stats.DisplayAlertSeconds))
	}

	if cfg.Storage.RetentionDays <= 0 {
		errs = append(errs, fmt.Sprintf("storage retention_days must be positive, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Storage.SummaryRetentionDays <= 0 {
		errs = append(errs, fmt.Sprintf("storage summary_retention_days must be positive, got %d", cfg.Storage.SummaryRetentionDays))
	}

	if cfg.Display.DetectionBufferSize < 1 {
		errs = append(errs, fmt.Sprintf("detection_buffer_size must be positive, got %d", cfg.Display.DetectionBufferSize))
	}
	if cfg.Display.RefreshRateMS < 1 {
		errs = append(errs, fmt.Sprintf("refresh_rate_ms must be positive, got %d", cfg.Display.RefreshRateMS))
	}

	if cfg.Alerts.CooldownSeconds < 0 {
		errs = append(errs, fmt.Sprintf("alerts cooldown_seconds must not be negative, got %d", cfg.Alerts.CooldownSeconds))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation error: %s", strings.Join(errs, "; "))
	}
	return nil
}
