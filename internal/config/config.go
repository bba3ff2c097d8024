// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/oszuidwest/zwfm-micwatch/internal/dictation"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort        = 8080
	DefaultBindAddress    = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultFastPollMs     = 1000
	DefaultNormalPollMs   = 5000
	DefaultZabbixPort     = 10051
	DefaultDeviceDir      = "/dev/snd"
	DefaultInstanceName   = "micwatch"
	defaultCPUThresholdMs = 50
)

// EnvPrefix is the prefix of environment variable overrides, e.g. MICWATCH_PORT.
const EnvPrefix = "MICWATCH"

// validate checks config struct tags. Field names in errors use the JSON tag.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port         int    `json:"port" validate:"min=1,max=65535"`                  // HTTP server port
	BindAddress  string `json:"bind_address" validate:"omitempty,ip"`             // Listen address (0.0.0.0 = all interfaces)
	LogLevel     string `json:"log_level" validate:"oneof=debug info warn error"` // Minimum log level
	InstanceName string `json:"instance_name" validate:"min=1,max=64,printascii"` // Name used in notifications
}

// PollingConfig holds the adaptive poller intervals.
type PollingConfig struct {
	FastMs   int64 `json:"fast_ms" validate:"min=100,max=60000"`                    // Interval while activity is plausible
	NormalMs int64 `json:"normal_ms" validate:"min=100,max=600000,gtefield=FastMs"` // Interval otherwise
}

// DictationConfig holds dictation detection settings.
type DictationConfig struct {
	HelperProcess  string   `json:"helper_process" validate:"max=64"`            // Helper process scanned for CPU activity
	CPUThresholdMs int64    `json:"cpu_threshold_ms" validate:"min=1,max=10000"` // CPU time per tick that counts as dictating
	InputSources   []string `json:"input_sources" validate:"dive,required"`      // Input source identifiers denoting dictation
}

// AudioConfig holds audio backend settings.
type AudioConfig struct {
	PactlPath  string `json:"pactl_path"`  // Path to pactl (empty = use PATH)
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	DeviceDir  string `json:"device_dir"`  // Directory watched for device hot-plug
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,http_url"` // Webhook URL for transition alerts
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`                               // Azure AD tenant ID
	ClientID     string `json:"client_id"`                               // App registration client ID
	ClientSecret string `json:"client_secret"`                           // App registration client secret
	FromAddress  string `json:"from_address" validate:"omitempty,email"` // Shared mailbox sender address
	Recipients   string `json:"recipients"`                              // Comma-separated recipient addresses
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server" validate:"omitempty,hostname_rfc1123|ip"` // Zabbix server or proxy
	Port   int    `json:"port" validate:"min=1,max=65535"`                 // Trapper port
	Host   string `json:"host"`                                            // Host name as configured in Zabbix
	Key    string `json:"key"`                                             // Trapper item key
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Email   EmailConfig   `json:"email"`   // Email settings
	Zabbix  ZabbixConfig  `json:"zabbix"`  // Zabbix settings
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Polling       PollingConfig       `json:"polling"`
	Dictation     DictationConfig     `json:"dictation"`
	Audio         AudioConfig         `json:"audio"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists, then
// applies environment overrides.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := c.saveLocked(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return util.WrapError("parse config", err)
		}
	}

	c.applyDefaults()

	if err := c.applyEnv(); err != nil {
		return err
	}

	return c.validate()
}

// envOverrides lists the settings that can be overridden from the environment.
// Unset variables leave the pointers nil.
type envOverrides struct {
	Port           *int    `envconfig:"PORT"`
	BindAddress    *string `envconfig:"BIND_ADDRESS"`
	LogLevel       *string `envconfig:"LOG_LEVEL"`
	InstanceName   *string `envconfig:"INSTANCE_NAME"`
	FastPollMs     *int64  `envconfig:"FAST_POLL_MS"`
	NormalPollMs   *int64  `envconfig:"NORMAL_POLL_MS"`
	HelperProcess  *string `envconfig:"DICTATION_PROCESS"`
	CPUThresholdMs *int64  `envconfig:"CPU_THRESHOLD_MS"`
	PactlPath      *string `envconfig:"PACTL_PATH"`
	FFmpegPath     *string `envconfig:"FFMPEG_PATH"`
	WebhookURL     *string `envconfig:"WEBHOOK_URL"`
	ZabbixServer   *string `envconfig:"ZABBIX_SERVER"`
}

// applyEnv overlays MICWATCH_* environment variables. Caller must hold c.mu.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return util.WrapError("read environment overrides", err)
	}

	set(&c.System.Port, env.Port)
	set(&c.System.BindAddress, env.BindAddress)
	set(&c.System.LogLevel, env.LogLevel)
	set(&c.System.InstanceName, env.InstanceName)
	set(&c.Polling.FastMs, env.FastPollMs)
	set(&c.Polling.NormalMs, env.NormalPollMs)
	set(&c.Dictation.HelperProcess, env.HelperProcess)
	set(&c.Dictation.CPUThresholdMs, env.CPUThresholdMs)
	set(&c.Audio.PactlPath, env.PactlPath)
	set(&c.Audio.FFmpegPath, env.FFmpegPath)
	set(&c.Notifications.Webhook.URL, env.WebhookURL)
	set(&c.Notifications.Zabbix.Server, env.ZabbixServer)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s %v: failed %q check", fieldPath(fe.Namespace()), fe.Value(), fe.Tag())
		}
		return util.WrapError("validate config", err)
	}
	return nil
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.BindAddress == "" {
		c.System.BindAddress = DefaultBindAddress
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = DefaultLogLevel
	}
	if c.System.InstanceName == "" {
		c.System.InstanceName = defaultInstanceName()
	}

	if c.Polling.FastMs == 0 {
		c.Polling.FastMs = DefaultFastPollMs
	}
	if c.Polling.NormalMs == 0 {
		c.Polling.NormalMs = DefaultNormalPollMs
	}

	dict := dictation.DefaultConfig()
	if c.Dictation.HelperProcess == "" {
		c.Dictation.HelperProcess = dict.HelperProcess
	}
	if c.Dictation.CPUThresholdMs == 0 {
		c.Dictation.CPUThresholdMs = max(dict.CPUThreshold.Milliseconds(), defaultCPUThresholdMs)
	}
	if c.Dictation.InputSources == nil {
		c.Dictation.InputSources = slices.Clone(dict.InputSources)
	}

	if c.Audio.DeviceDir == "" {
		c.Audio.DeviceDir = DefaultDeviceDir
	}

	if c.Notifications.Zabbix.Port == 0 {
		c.Notifications.Zabbix.Port = DefaultZabbixPort
	}
}

func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return DefaultInstanceName
	}
	return host
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// update applies fn to a copy, validates it and persists on success.
func (c *Config) update(fn func(*Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := &Config{
		System:        c.System,
		Polling:       c.Polling,
		Dictation:     c.Dictation,
		Audio:         c.Audio,
		Notifications: c.Notifications,
	}
	fn(candidate)
	if err := candidate.validate(); err != nil {
		return err
	}

	c.System = candidate.System
	c.Polling = candidate.Polling
	c.Dictation = candidate.Dictation
	c.Audio = candidate.Audio
	c.Notifications = candidate.Notifications
	return c.saveLocked()
}

// --- Getters for individual settings ---

// DictationSettings returns the dictation detector configuration.
func (c *Config) DictationSettings() dictation.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return dictation.Config{
		HelperProcess: c.Dictation.HelperProcess,
		CPUThreshold:  time.Duration(c.Dictation.CPUThresholdMs) * time.Millisecond,
		InputSources:  slices.Clone(c.Dictation.InputSources),
	}
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.Notifications.Email.ClientSecret,
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// --- Setters for individual settings ---

// SetPolling updates the poll intervals and saves the configuration.
func (c *Config) SetPolling(fastMs, normalMs int64) error {
	return c.update(func(n *Config) {
		n.Polling.FastMs = fastMs
		n.Polling.NormalMs = normalMs
	})
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	return c.update(func(n *Config) {
		n.Notifications.Webhook.URL = url
	})
}

// SetZabbix updates the Zabbix trapper settings and saves the configuration.
func (c *Config) SetZabbix(server string, port int, host, key string) error {
	return c.update(func(n *Config) {
		n.Notifications.Zabbix = ZabbixConfig{Server: server, Port: port, Host: host, Key: key}
	})
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	return c.update(func(n *Config) {
		n.Notifications.Email = EmailConfig{
			TenantID:     tenantID,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			FromAddress:  fromAddress,
			Recipients:   recipients,
		}
	})
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort      int
	BindAddress  string
	LogLevel     string
	InstanceName string

	// Polling
	FastPoll   time.Duration
	NormalPoll time.Duration

	// Dictation
	DictationProcess string
	CPUThreshold     time.Duration

	// Audio
	PactlPath  string
	FFmpegPath string
	DeviceDir  string

	// Notifications
	WebhookURL        string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
	ZabbixServer      string
	ZabbixPort        int
	ZabbixHost        string
	ZabbixKey         string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:      c.System.Port,
		BindAddress:  c.System.BindAddress,
		LogLevel:     c.System.LogLevel,
		InstanceName: c.System.InstanceName,

		FastPoll:   time.Duration(c.Polling.FastMs) * time.Millisecond,
		NormalPoll: time.Duration(c.Polling.NormalMs) * time.Millisecond,

		DictationProcess: c.Dictation.HelperProcess,
		CPUThreshold:     time.Duration(c.Dictation.CPUThresholdMs) * time.Millisecond,

		PactlPath:  c.Audio.PactlPath,
		FFmpegPath: c.Audio.FFmpegPath,
		DeviceDir:  c.Audio.DeviceDir,

		WebhookURL:        c.Notifications.Webhook.URL,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
		ZabbixServer:      c.Notifications.Zabbix.Server,
		ZabbixPort:        c.Notifications.Zabbix.Port,
		ZabbixHost:        c.Notifications.Zabbix.Host,
		ZabbixKey:         c.Notifications.Zabbix.Key,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret,
		s.GraphFromAddress, s.GraphRecipients)
}

// HasZabbix reports whether Zabbix trapper notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return util.IsConfigured(s.ZabbixServer, s.ZabbixHost, s.ZabbixKey)
}
