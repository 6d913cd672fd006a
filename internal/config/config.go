package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	LogLevel   string `mapstructure:"log_level"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	AdminToken string `mapstructure:"admin_token"`

	Backend  BackendConfig  `mapstructure:"backend"`
	RTC      RTCConfig      `mapstructure:"rtc"`
	Signal   SignalConfig   `mapstructure:"signal"`
	Observer ObserverConfig `mapstructure:"observer"`
}

type BackendConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RTCConfig struct {
	ICEServers   []string `mapstructure:"ice_servers"`
	UDPPortMin   int      `mapstructure:"udp_port_min"`
	UDPPortMax   int      `mapstructure:"udp_port_max"`
	AnnouncedIPs []string `mapstructure:"announced_ips"`
}

type SignalConfig struct {
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	InboxSize      int           `mapstructure:"inbox_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateInterval   time.Duration `mapstructure:"rate_interval"`
	// Backpressure is "kick" or "drop".
	Backpressure     string `mapstructure:"backpressure"`
	NotifyAllMembers bool   `mapstructure:"notify_all_members"`
	ReplayOnJoin     bool   `mapstructure:"replay_on_join"`
}

type ObserverConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	Threshold  int           `mapstructure:"threshold"`
	Interval   time.Duration `mapstructure:"interval"`
}

// Load reads config/config.<env>.yaml, or file when given. env falls back to
// CONFIG_ENV and then to "dev". VOICEHUB_* variables override file values,
// e.g. VOICEHUB_BACKEND_API_URL.
func Load(env, file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	if file == "" {
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	setDefaults(v)

	v.SetEnvPrefix("VOICEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Msg("config")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "")
	v.SetDefault("admin_token", "")

	v.SetDefault("backend.api_url", "http://localhost:3000/api")
	v.SetDefault("backend.timeout", "5s")

	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.udp_port_min", 0)
	v.SetDefault("rtc.udp_port_max", 0)
	v.SetDefault("rtc.announced_ips", []string{})

	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.inbox_size", 32)
	v.SetDefault("signal.request_timeout", "10s")
	v.SetDefault("signal.write_timeout", "5s")
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.backpressure", "kick")
	v.SetDefault("signal.notify_all_members", true)
	v.SetDefault("signal.replay_on_join", true)

	v.SetDefault("observer.max_entries", 99)
	v.SetDefault("observer.threshold", -80)
	v.SetDefault("observer.interval", "400ms")
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	switch c.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("mode must be debug, release or test, got %q", c.Mode)
	}
	if c.Secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if err := c.RTC.Validate(); err != nil {
		return fmt.Errorf("rtc config: %w", err)
	}
	if err := c.Signal.Validate(); err != nil {
		return fmt.Errorf("signal config: %w", err)
	}
	if err := c.Observer.Validate(); err != nil {
		return fmt.Errorf("observer config: %w", err)
	}
	return nil
}

func (b *BackendConfig) Validate() error {
	if b.APIURL == "" {
		return fmt.Errorf("api_url cannot be empty")
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", b.Timeout)
	}
	return nil
}

func (r *RTCConfig) Validate() error {
	if r.UDPPortMin == 0 && r.UDPPortMax == 0 {
		return nil
	}
	if r.UDPPortMin < 1 || r.UDPPortMax > 65535 || r.UDPPortMin > r.UDPPortMax {
		return fmt.Errorf("udp port range %d-%d is invalid", r.UDPPortMin, r.UDPPortMax)
	}
	return nil
}

func (s *SignalConfig) Validate() error {
	if s.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be at least 1, got %d", s.SendBuffer)
	}
	if s.InboxSize < 1 {
		return fmt.Errorf("inbox_size must be at least 1, got %d", s.InboxSize)
	}
	if s.RequestTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("request_timeout and write_timeout must be positive")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative, got %d", s.RateLimit)
	}
	if s.RateLimit > 0 && s.RateInterval <= 0 {
		return fmt.Errorf("rate_interval must be positive when rate_limit is set")
	}
	switch s.Backpressure {
	case "kick", "drop":
	default:
		return fmt.Errorf("backpressure must be kick or drop, got %q", s.Backpressure)
	}
	return nil
}

func (o *ObserverConfig) Validate() error {
	if o.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be at least 1, got %d", o.MaxEntries)
	}
	if o.Threshold < -127 || o.Threshold > 0 {
		return fmt.Errorf("threshold must be between -127 and 0 dBov, got %d", o.Threshold)
	}
	if o.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", o.Interval)
	}
	return nil
}
