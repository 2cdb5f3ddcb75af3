package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, built once in main and passed
// down explicitly. Nothing below this package reads the environment.
type Config struct {
	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL    string   `env:"DATABASE_URL,required"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`

	CookieDomain  string `env:"COOKIE_DOMAIN"`
	SecureCookies bool   `env:"COOKIE_SECURE" envDefault:"true"`

	// TokenCipherKey seals OAuth tokens at rest; base64, 32 bytes decoded.
	TokenCipherKey string `env:"TOKEN_CIPHER_KEY,required"`

	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"720h"`
	CleanupInterval  time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	OAuth OAuthConfig `envPrefix:"OAUTH_"`
}

// OAuthConfig identifies this service to the external authorization server.
// The client is confidential: ClientSecret authenticates every token-endpoint
// call via HTTP Basic.
type OAuthConfig struct {
	ServerURL    string        `env:"SERVER_URL,required"`
	ClientID     string        `env:"CLIENT_ID,required"`
	ClientSecret string        `env:"CLIENT_SECRET,required"`
	RedirectURI  string        `env:"REDIRECT_URI,required"`
	Scope        string        `env:"SCOPE" envDefault:"openid email profile"`
	AuthorizeURL string        `env:"AUTHORIZE_URL"`
	TokenURL     string        `env:"TOKEN_URL"`
	UserinfoURL  string        `env:"USERINFO_URL"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

// Load reads .env (when present) and parses the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if _, err := cfg.CipherKey(); err != nil {
		return nil, err
	}

	cfg.OAuth.applyEndpointDefaults()
	return &cfg, nil
}

// CipherKey decodes the token sealing key.
func (c *Config) CipherKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.TokenCipherKey)
	if err != nil {
		return nil, fmt.Errorf("decode TOKEN_CIPHER_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_CIPHER_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (o *OAuthConfig) applyEndpointDefaults() {
	base := strings.TrimRight(o.ServerURL, "/")
	if o.AuthorizeURL == "" {
		o.AuthorizeURL = base + "/oauth2/authorize"
	}
	if o.TokenURL == "" {
		o.TokenURL = base + "/oauth2/token"
	}
	if o.UserinfoURL == "" {
		o.UserinfoURL = base + "/userinfo"
	}
}
