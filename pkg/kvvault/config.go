package kvvault

import (
	"os"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

const (
	// DefaultMount is the KV v2 mount used when none is configured.
	DefaultMount = "secret"

	// DefaultTokenIncrementTTL is how far each renewal extends token validity.
	DefaultTokenIncrementTTL = "72h"

	// DefaultTokenRefreshInterval is how often the renewal loop fires.
	DefaultTokenRefreshInterval = 12 * time.Hour
)

// Config defines and validates the parameters for a Client.
type Config struct {
	// Token is the Vault token the client authenticates with. Empty falls
	// back to VAULT_TOKEN; one of the two is required. This package does
	// not negotiate auth methods.
	Token string `validate:"required"`

	// Address is the Vault server URL. Empty falls back to VAULT_ADDR and
	// then the SDK default.
	Address string

	// Mount is the KV v2 mount all secret paths are scoped under.
	Mount string

	// CACert is a path to a PEM CA certificate file used to verify the
	// server. CAPath points at a directory of PEM files. Both optional.
	CACert string
	CAPath string

	// TokenIncrementTTL is the duration string (e.g. "72h") each renewal
	// asks Vault to extend the token by.
	TokenIncrementTTL string

	// TokenRefreshInterval is how often the background loop renews the
	// token.
	TokenRefreshInterval time.Duration

	// Timeout bounds individual HTTP calls. Zero keeps the SDK default.
	Timeout time.Duration

	// Logger receives renewal and operation logs. Defaults to the zap
	// global logger.
	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.Token == "" {
		c.Token = os.Getenv(api.EnvVaultToken)
	}
	if c.Mount == "" {
		c.Mount = DefaultMount
	}
	if c.TokenIncrementTTL == "" {
		c.TokenIncrementTTL = DefaultTokenIncrementTTL
	}
	if c.TokenRefreshInterval <= 0 {
		c.TokenRefreshInterval = DefaultTokenRefreshInterval
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
}

// Validate checks the config after defaults have been applied. All failures
// come back as *ConfigError.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{Err: cerr.Wrap(err, "invalid Config")}
	}
	if _, err := time.ParseDuration(c.TokenIncrementTTL); err != nil {
		return &ConfigError{Err: cerr.Wrapf(err, "malformed token increment TTL %q", c.TokenIncrementTTL)}
	}
	return nil
}
