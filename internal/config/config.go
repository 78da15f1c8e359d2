package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultDomain     = "warpmeet.qzz.io"
	DefaultCodec      = "json"
	DefaultDebounce   = 100 * time.Millisecond
	DefaultListenAddr = ":8080"
	DefaultRateLimit  = 50
	DefaultBurst      = 100
	DefaultRole       = "participant"
)

// DefaultSTUNServers is the public Google STUN list. No TURN server is
// configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string `yaml:"domain" validate:"required,hostname_rfc1123|hostname_port"`

	// WebSocketURL is constructed from domain unless set explicitly
	WebSocketURL string `yaml:"websocket_url" validate:"required,url"`

	// ICE servers for WebRTC
	STUNServers []string `yaml:"stun_servers" validate:"dive,startswith=stun:|startswith=stuns:"`

	// Codec is the wire encoding used towards the relay: json or msgpack
	Codec string `yaml:"codec" validate:"oneof=json msgpack"`

	// Debounce is the delay between a negotiation trigger and the offer
	Debounce time.Duration `yaml:"debounce" validate:"gte=0,lte=5s"`

	// Relay server settings
	ListenAddr string  `yaml:"listen_addr" validate:"required"`
	RateLimit  float64 `yaml:"rate_limit" validate:"gt=0"`
	Burst      int     `yaml:"burst" validate:"gt=0"`

	// Local participant
	Name string `yaml:"name" validate:"max=64"`
	Role string `yaml:"role" validate:"oneof=host co-host participant"`
}

// Options for loading config with CLI flag overrides. Zero values mean
// "not set".
type Options struct {
	ConfigFile   string
	Domain       string
	WebSocketURL string
	STUNServers  []string
	Codec        string
	Debounce     time.Duration
	ListenAddr   string
	RateLimit    float64
	Burst        int
	Name         string
	Role         string
}

var validate = validator.New()

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables, after loading an optional .env file
// 3. YAML config file (--config or WARPMEET_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Domain:      DefaultDomain,
		STUNServers: append([]string(nil), DefaultSTUNServers...),
		Codec:       DefaultCodec,
		Debounce:    DefaultDebounce,
		ListenAddr:  DefaultListenAddr,
		RateLimit:   DefaultRateLimit,
		Burst:       DefaultBurst,
		Role:        DefaultRole,
	}

	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("WARPMEET_CONFIG")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.readEnv(); err != nil {
		return nil, err
	}
	cfg.apply(opts)

	// Construct WebSocket URL
	if cfg.WebSocketURL == "" {
		cfg.WebSocketURL = fmt.Sprintf("wss://%s/ws", cfg.Domain)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) readEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DOMAIN", &c.Domain)
	setString("WS_URL", &c.WebSocketURL)
	setString("CODEC", &c.Codec)
	setString("LISTEN_ADDR", &c.ListenAddr)
	setString("DISPLAY_NAME", &c.Name)
	setString("ROLE", &c.Role)

	if v := os.Getenv("STUN_SERVERS"); v != "" {
		c.STUNServers = splitList(v)
	}
	if v := os.Getenv("NEGOTIATION_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NEGOTIATION_DEBOUNCE: %w", err)
		}
		c.Debounce = d
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT: %w", err)
		}
		c.RateLimit = limit
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_BURST: %w", err)
		}
		c.Burst = burst
	}
	return nil
}

func (c *Config) apply(opts Options) {
	if opts.Domain != "" {
		c.Domain = opts.Domain
	}
	if opts.WebSocketURL != "" {
		c.WebSocketURL = opts.WebSocketURL
	}
	if len(opts.STUNServers) > 0 {
		c.STUNServers = opts.STUNServers
	}
	if opts.Codec != "" {
		c.Codec = opts.Codec
	}
	if opts.Debounce > 0 {
		c.Debounce = opts.Debounce
	}
	if opts.ListenAddr != "" {
		c.ListenAddr = opts.ListenAddr
	}
	if opts.RateLimit > 0 {
		c.RateLimit = opts.RateLimit
	}
	if opts.Burst > 0 {
		c.Burst = opts.Burst
	}
	if opts.Name != "" {
		c.Name = opts.Name
	}
	if opts.Role != "" {
		c.Role = opts.Role
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/m/%s", c.Domain, roomID)
}

// ParseRoom accepts a bare room ID or a meeting link and returns the room ID.
func ParseRoom(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "://") {
		if arg == "" || strings.Contains(arg, "/") {
			return "", fmt.Errorf("invalid room %q", arg)
		}
		return arg, nil
	}
	u, err := url.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("invalid room link: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	id := parts[len(parts)-1]
	if len(parts) != 2 || parts[0] != "m" || id == "" {
		return "", fmt.Errorf("invalid room link %q", arg)
	}
	return id, nil
}
