package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the runtime settings not covered by the two CLI flags.
type Config struct {
	Transport      string        `env:"CHATDUMP_TRANSPORT" envDefault:"tcp"`
	Addr           string        `env:"CHATDUMP_ADDR"`
	WSURL          string        `env:"CHATDUMP_WS_URL"`
	Nick           string        `env:"CHATDUMP_NICK"`
	Pass           string        `env:"CHATDUMP_PASS"`
	ChannelID      string        `env:"CHATDUMP_CHANNEL_ID"`
	FlushInterval  time.Duration `env:"CHATDUMP_FLUSH_INTERVAL" envDefault:"60s"`
	ReadTimeout    time.Duration `env:"CHATDUMP_READ_TIMEOUT" envDefault:"5s"`
	ReconnectDelay time.Duration `env:"CHATDUMP_RECONNECT_DELAY" envDefault:"2s"`
	DialAttempts   int           `env:"CHATDUMP_DIAL_ATTEMPTS" envDefault:"5"`
	StatsEvery     int           `env:"CHATDUMP_STATS_EVERY" envDefault:"100"`
	SQLitePath     string        `env:"CHATDUMP_SQLITE_PATH"`
	SQLiteTuning   bool          `env:"CHATDUMP_SQLITE_TUNING" envDefault:"false"`
	HTTPAddr       string        `env:"CHATDUMP_HTTP_ADDR"`
	HTTPRateRPS    int           `env:"CHATDUMP_HTTP_RATE_RPS" envDefault:"20"`
	HTTPRateBurst  int           `env:"CHATDUMP_HTTP_RATE_BURST" envDefault:"40"`
	Overwrite      bool          `env:"CHATDUMP_OVERWRITE" envDefault:"false"`
	DebugDrops     bool          `env:"CHATDUMP_DEBUG_DROPS" envDefault:"false"`
}

// Load reads a .env file when present and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.Nick = strings.TrimSpace(cfg.Nick)
	cfg.SQLitePath = strings.TrimSpace(cfg.SQLitePath)
	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Transport {
	case "tcp", "tls", "websocket":
	default:
		return fmt.Errorf("config: CHATDUMP_TRANSPORT must be tcp, tls or websocket, got %q", c.Transport)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: CHATDUMP_FLUSH_INTERVAL must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("config: CHATDUMP_READ_TIMEOUT must be positive")
	}
	if c.ReconnectDelay < 0 || c.DialAttempts < 0 || c.StatsEvery < 0 {
		return fmt.Errorf("config: delays and counts must not be negative")
	}
	return nil
}

// Endpoint returns the address for the selected transport; empty means the
// public default.
func (c Config) Endpoint() string {
	if c.Transport == "websocket" {
		return c.WSURL
	}
	return c.Addr
}

type Summary struct {
	Transport      string `json:"transport"`
	Endpoint       string `json:"endpoint"`
	Nick           string `json:"nick"`
	Pass           string `json:"pass"`
	ChannelID      string `json:"channel_id"`
	FlushInterval  string `json:"flush_interval"`
	ReadTimeout    string `json:"read_timeout"`
	ReconnectDelay string `json:"reconnect_delay"`
	DialAttempts   int    `json:"dial_attempts"`
	SQLitePath     string `json:"sqlite_path"`
	HTTPAddr       string `json:"http_addr"`
	Overwrite      bool   `json:"overwrite"`
	DebugDrops     bool   `json:"debug_drops"`
}

func (c Config) Summary() Summary {
	nick := c.Nick
	if nick == "" {
		nick = "(anonymous)"
	}
	return Summary{
		Transport:      c.Transport,
		Endpoint:       c.Endpoint(),
		Nick:           nick,
		Pass:           redactString(c.Pass),
		ChannelID:      c.ChannelID,
		FlushInterval:  c.FlushInterval.String(),
		ReadTimeout:    c.ReadTimeout.String(),
		ReconnectDelay: c.ReconnectDelay.String(),
		DialAttempts:   c.DialAttempts,
		SQLitePath:     c.SQLitePath,
		HTTPAddr:       c.HTTPAddr,
		Overwrite:      c.Overwrite,
		DebugDrops:     c.DebugDrops,
	}
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}

// Redacted is the view served on the status endpoint.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"transport":        c.Transport,
		"endpoint":         c.Endpoint(),
		"nick":             c.Nick,
		"pass":             redactString(c.Pass),
		"channel_id":       c.ChannelID,
		"flush_interval_s": c.FlushInterval.Seconds(),
		"read_timeout_s":   c.ReadTimeout.Seconds(),
		"sqlite": map[string]any{
			"path":   c.SQLitePath,
			"tuning": c.SQLiteTuning,
		},
		"http": map[string]any{
			"addr":       c.HTTPAddr,
			"rate_rps":   c.HTTPRateRPS,
			"rate_burst": c.HTTPRateBurst,
		},
	}
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
