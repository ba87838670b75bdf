package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/margin/internal/relay"
	"github.com/starford/margin/internal/resolver"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Profile cache backends.
const (
	ProfileCacheMemory = "memory"
	ProfileCacheRedis  = "redis"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Relays   RelaysConfig      `yaml:"relays"`
	Resolver ResolverConfig    `yaml:"resolver"`
	Profile  ProfileConfig     `yaml:"profile"`
	Settings SettingsConfig    `yaml:"settings"`
	Links    LinksConfig       `yaml:"links"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.SQLite, &c.Relays, &c.Resolver, &c.Profile, &c.Settings, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// SSEThrottle is the minimum gap between collection.updated events.
	SSEThrottle time.Duration `yaml:"sse_throttle"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.SSEThrottle, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RelaysConfig lists the relays to read from and publish to.
type RelaysConfig struct {
	Read  []string `yaml:"read"`
	Write []string `yaml:"write"`
	// Discovery merges the signed-in user's relay list (kind 10002) into
	// Read and Write.
	Discovery      bool          `yaml:"discovery"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	GetTimeout     time.Duration `yaml:"get_timeout"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// Validate validates the relay configuration.
func (c *RelaysConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Read, validation.Required, validation.Each(validation.By(relayURL))),
		validation.Field(&c.Write, validation.Each(validation.By(relayURL))),
		validation.Field(&c.PublishTimeout, validation.Required),
		validation.Field(&c.GetTimeout, validation.Required),
	); err != nil {
		return fmt.Errorf("relays: %w", err)
	}
	return c.Breaker.Validate()
}

func relayURL(value interface{}) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "wss://") && !strings.HasPrefix(s, "ws://") {
		return validation.NewError("validation_relay_url", "must be a ws:// or wss:// URL")
	}
	return nil
}

// BreakerConfig tunes the per-relay publish circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// Validate validates the breaker configuration.
func (c *BreakerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxRequests, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
		validation.Field(&c.FailureThreshold, validation.Required, validation.Max(1.0)),
	)
}

// Relay converts the configuration for the relay package.
func (c BreakerConfig) Relay() relay.BreakerConfig {
	return relay.BreakerConfig{
		MaxRequests:      c.MaxRequests,
		Interval:         c.Interval,
		Timeout:          c.Timeout,
		FailureThreshold: c.FailureThreshold,
		MinRequests:      c.MinRequests,
	}
}

// ResolverConfig is the backoff used while waiting for referenced events.
type ResolverConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Factor       int           `yaml:"factor"`
}

// Validate validates the resolver configuration.
func (c *ResolverConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Attempts, validation.Required, validation.Min(1)),
		validation.Field(&c.InitialDelay, validation.Required),
		validation.Field(&c.Factor, validation.Required, validation.Min(1)),
	)
}

// Policy converts the configuration into a retry policy.
func (c ResolverConfig) Policy() resolver.Policy {
	return resolver.Policy{Attempts: c.Attempts, Initial: c.InitialDelay, Factor: c.Factor}
}

// ProfileConfig selects the profile cache.
type ProfileConfig struct {
	Cache    string        `yaml:"cache"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// Validate validates the profile configuration.
func (c *ProfileConfig) Validate() error {
	if c.Cache == "" {
		c.Cache = ProfileCacheMemory
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Cache, validation.In(ProfileCacheMemory, ProfileCacheRedis)),
		validation.Field(&c.RedisURL, validation.When(c.Cache == ProfileCacheRedis, validation.Required)),
		validation.Field(&c.TTL, validation.Required),
	)
}

// SettingsConfig locates the persisted session file.
type SettingsConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the settings configuration.
func (c *SettingsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// LinksConfig holds the default viewers for events and profiles. The
// session's own link preferences take precedence.
type LinksConfig struct {
	EventURL   string `yaml:"event_url"`
	ProfileURL string `yaml:"profile_url"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	breaker := relay.DefaultBreakerConfig()
	policy := resolver.DefaultPolicy()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:        8080,
				SSEThrottle: 2 * time.Second,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./margin.db",
		},
		Relays: RelaysConfig{
			Read:           []string{"wss://purplepag.es", "wss://relay.nostr.band/all"},
			Write:          []string{},
			Discovery:      true,
			PublishTimeout: 10 * time.Second,
			GetTimeout:     5 * time.Second,
			Breaker: BreakerConfig{
				MaxRequests:      breaker.MaxRequests,
				Interval:         breaker.Interval,
				Timeout:          breaker.Timeout,
				FailureThreshold: breaker.FailureThreshold,
				MinRequests:      breaker.MinRequests,
			},
		},
		Resolver: ResolverConfig{
			Attempts:     policy.Attempts,
			InitialDelay: policy.Initial,
			Factor:       policy.Factor,
		},
		Profile: ProfileConfig{
			Cache: ProfileCacheMemory,
			TTL:   5 * time.Minute,
		},
		Settings: SettingsConfig{
			Path:  "./session.yaml",
			Watch: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
