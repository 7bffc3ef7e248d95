package kvvault

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/vault/api"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("capability-providers/pkg/kvvault")

// VersionMetadata describes the secret version created by a write.
type VersionMetadata struct {
	Version     int64
	CreatedTime time.Time
}

// Client is a facade over one Vault KV v2 mount. The underlying *api.Client
// is safe for concurrent use, so a single Client may be shared freely between
// goroutines; the renewal loop shares the same connection.
type Client struct {
	api   *api.Client
	mount string

	incrementTTL string
	increment    int // seconds sent to renew-self
	interval     time.Duration

	log *otelzap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	status TokenStatus
}

// NewClient builds a Client and starts its token renewal loop. No network
// I/O happens here; the Vault server does not need to be reachable, or even
// running, at construction time. The caller must Close the client to stop
// the renewal loop.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}
	if cfg.CACert != "" || cfg.CAPath != "" {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert, CAPath: cfg.CAPath}); err != nil {
			return nil, &ConfigError{Err: cerr.Wrap(err, "TLS setup failed")}
		}
	}

	apiClient, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, &ConfigError{Err: cerr.Wrap(err, "vault client creation failed")}
	}
	apiClient.SetToken(cfg.Token)

	// Already validated.
	increment, _ := time.ParseDuration(cfg.TokenIncrementTTL)

	c := &Client{
		api:          apiClient,
		mount:        cfg.Mount,
		incrementTTL: cfg.TokenIncrementTTL,
		increment:    int(increment.Seconds()),
		interval:     cfg.TokenRefreshInterval,
		log:          otelzap.New(cfg.Logger.Named("kvvault")),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	c.log.Info("vault client created",
		zap.String("addr", apiCfg.Address),
		zap.String("mount", c.mount),
		zap.String("token_increment_ttl", c.incrementTTL),
		zap.Duration("token_refresh_interval", c.interval))

	go c.renewLoop()

	return c, nil
}

// ReadSecret reads the latest version of the secret at path under the
// client's mount and unmarshals its data into out. Returns *NotFoundError
// when nothing lives there.
func (c *Client) ReadSecret(ctx context.Context, path string, out any) error {
	ctx, span := tracer.Start(ctx, "kvvault.ReadSecret")
	defer span.End()

	secret, err := c.api.Logical().ReadWithContext(ctx, c.dataPath(path))
	if err != nil {
		if notFoundStatus(err) {
			return c.notFound(span, path)
		}
		return c.transport(span, "read", path, err)
	}
	if secret == nil || secret.Data == nil {
		return c.notFound(span, path)
	}

	// KV v2 nests the caller's fields under "data"; a nil inner map means
	// the latest version was deleted or destroyed.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return c.notFound(span, path)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return c.transport(span, "read", path, cerr.Wrap(err, "encode secret data"))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.transport(span, "read", path, cerr.Wrap(err, "decode secret data"))
	}

	c.log.Ctx(ctx).Debug("vault secret read", zap.String("path", path))
	return nil
}

// WriteSecret serializes value and stores it as a new version at path under
// the client's mount, returning the created version's metadata.
func (c *Client) WriteSecret(ctx context.Context, path string, value any) (*VersionMetadata, error) {
	ctx, span := tracer.Start(ctx, "kvvault.WriteSecret")
	defer span.End()

	secret, err := c.api.Logical().WriteWithContext(ctx, c.dataPath(path), map[string]interface{}{
		"data": value,
	})
	if err != nil {
		return nil, c.transport(span, "write", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, c.transport(span, "write", path, cerr.New("no version metadata in response"))
	}

	meta, err := parseVersionMetadata(secret.Data)
	if err != nil {
		return nil, c.transport(span, "write", path, err)
	}

	c.log.Ctx(ctx).Debug("vault secret written",
		zap.String("path", path),
		zap.Int64("version", meta.Version))
	return meta, nil
}

// DeleteLatest deletes only the most recent version of the secret at path.
// Older versions, if the mount retains them, are untouched.
func (c *Client) DeleteLatest(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "kvvault.DeleteLatest")
	defer span.End()

	if _, err := c.api.Logical().DeleteWithContext(ctx, c.dataPath(path)); err != nil {
		if notFoundStatus(err) {
			return c.notFound(span, path)
		}
		return c.transport(span, "delete", path, err)
	}

	c.log.Ctx(ctx).Info("vault secret deleted", zap.String("path", path))
	return nil
}

// ListSecrets lists the immediate key names under path. Keys ending in "/"
// are sub-trees, per Vault convention.
func (c *Client) ListSecrets(ctx context.Context, path string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "kvvault.ListSecrets")
	defer span.End()

	secret, err := c.api.Logical().ListWithContext(ctx, c.metadataPath(path))
	if err != nil {
		if notFoundStatus(err) {
			return nil, c.notFound(span, path)
		}
		return nil, c.transport(span, "list", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, c.notFound(span, path)
	}

	keys, err := extractKeys(secret)
	if err != nil {
		return nil, c.transport(span, "list", path, err)
	}
	return keys, nil
}

func (c *Client) dataPath(path string) string {
	return fmt.Sprintf("%s/data/%s", c.mount, path)
}

func (c *Client) metadataPath(path string) string {
	return fmt.Sprintf("%s/metadata/%s", c.mount, path)
}

func (c *Client) notFound(span trace.Span, path string) error {
	span.SetStatus(codes.Error, "secret not found")
	return &NotFoundError{Mount: c.mount, Path: path}
}

func (c *Client) transport(span trace.Span, op, path string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return &TransportError{Op: op, Path: path, Err: err}
}

func parseVersionMetadata(data map[string]interface{}) (*VersionMetadata, error) {
	meta := &VersionMetadata{}
	if v, ok := data["version"].(json.Number); ok {
		n, err := v.Int64()
		if err != nil {
			return nil, cerr.Wrap(err, "malformed version number")
		}
		meta.Version = n
	}
	if ts, ok := data["created_time"].(string); ok && ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, cerr.Wrap(err, "malformed created_time")
		}
		meta.CreatedTime = t
	}
	return meta, nil
}

func extractKeys(list *api.Secret) ([]string, error) {
	raw, ok := list.Data["keys"].([]interface{})
	if !ok {
		return nil, cerr.New("unexpected vault list format")
	}
	keys := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}
